// config_utils.go - typed getters and export of the configuration
//
// This file contains:
// - BoolWithDefault/Bool: boolean getters
// - String/StringWithDefault: string getters
// - Uint: integer getter with default
// - Duration: duration getter accepting Go durations or whole seconds
// - EnvVar, AsMap, Values
package envconfig

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"time"
)

// BoolWithDefault returns a getter reading a bool with a default value.
// A set but unparsable value counts as true.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool returns a getter reading a bool (default false).
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// String returns a getter reading a string.
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// StringWithDefault returns a getter reading a string, falling back to
// defaultValue when unset.
func StringWithDefault(s, defaultValue string) func() string {
	return func() string {
		if v := Var(s); v != "" {
			return v
		}
		return defaultValue
	}
}

// Uint returns a getter reading a uint with a default value.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Duration returns a getter reading a duration. Plain integers are seconds.
// Negative values are treated as zero.
func Duration(key string, defaultValue time.Duration) func() time.Duration {
	return func() time.Duration {
		d := defaultValue
		if s := Var(key); s != "" {
			if v, err := time.ParseDuration(s); err == nil {
				d = v
			} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				d = time.Duration(n) * time.Second
			} else {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			}
		}
		return max(d, 0)
	}
}

// EnvVar describes an environment variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns all settings with their current values and descriptions.
func AsMap() map[string]EnvVar {
	ret := map[string]EnvVar{
		"TUZIYO_DEBUG":            {"TUZIYO_DEBUG", LogLevel(), "Show additional debug information (e.g. TUZIYO_DEBUG=1)"},
		"TUZIYO_HOST":             {"TUZIYO_HOST", Host(), "IP Address for the tuziyo server (default 127.0.0.1:11500)"},
		"TUZIYO_ORIGINS":          {"TUZIYO_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"TUZIYO_MODELS":           {"TUZIYO_MODELS", Models(), "The path to the model cache directory"},
		"TUZIYO_CACHE":            {"TUZIYO_CACHE", CacheKind(), "Model store: disk, badger or sqlite (default: disk)"},
		"TUZIYO_REGISTRY":         {"TUZIYO_REGISTRY", RegistryFile(), "YAML file overriding the builtin model registry"},
		"TUZIYO_DOWNLOAD_TIMEOUT": {"TUZIYO_DOWNLOAD_TIMEOUT", DownloadTimeout(), "Deadline for a single model download (default: none)"},
		"TUZIYO_NOGPU":            {"TUZIYO_NOGPU", NoGPU(), "Only use the CPU execution backend"},
		"TUZIYO_ORT_LIBRARY":      {"TUZIYO_ORT_LIBRARY", ORTLibrary(), "Path to the onnxruntime shared library"},
		"TUZIYO_NUM_THREADS":      {"TUZIYO_NUM_THREADS", NumThreads(), "Intra-op threads for the CPU backend (default: auto)"},
		"TUZIYO_MAX_IMAGE_SIZE":   {"TUZIYO_MAX_IMAGE_SIZE", MaxImageSize(), "Downscale uploads larger than this many pixels per side"},
		"TUZIYO_MAX_SESSIONS":     {"TUZIYO_MAX_SESSIONS", MaxSessions(), "Maximum number of concurrent editing sessions (default: 8)"},

		"HTTP_PROXY":  {"HTTP_PROXY", String("HTTP_PROXY")(), "HTTP proxy"},
		"HTTPS_PROXY": {"HTTPS_PROXY", String("HTTPS_PROXY")(), "HTTPS proxy"},
		"NO_PROXY":    {"NO_PROXY", String("NO_PROXY")(), "No proxy"},
	}

	if runtime.GOOS != "windows" {
		ret["http_proxy"] = EnvVar{"http_proxy", String("http_proxy")(), "HTTP proxy"}
		ret["https_proxy"] = EnvVar{"https_proxy", String("https_proxy")(), "HTTPS proxy"}
		ret["no_proxy"] = EnvVar{"no_proxy", String("no_proxy")(), "No proxy"}
	}

	if runtime.GOOS != "darwin" {
		ret["CUDA_VISIBLE_DEVICES"] = EnvVar{"CUDA_VISIBLE_DEVICES", CudaVisibleDevices(), "Set which NVIDIA devices are visible"}
	}

	return ret
}

// Values returns all settings formatted as strings.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
