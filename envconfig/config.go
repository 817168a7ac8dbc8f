// config.go - core configuration for tuziyo
//
// This file contains:
// - Host: scheme and host of the server (TUZIYO_HOST)
// - AllowedOrigins: CORS origins (TUZIYO_ORIGINS)
// - Models: model cache directory (TUZIYO_MODELS)
// - DownloadTimeout: optional deadline for model downloads (TUZIYO_DOWNLOAD_TIMEOUT)
// - LogLevel: log level (TUZIYO_DEBUG)
//
// Further settings live in:
// - config_features.go: runtime, cache and GPU variables
// - config_utils.go: typed getters and AsMap/Values
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Host returns the scheme and host. Configurable via TUZIYO_HOST.
// Default: http://127.0.0.1:11500
func Host() *url.URL {
	defaultPort := "11500"

	s := strings.TrimSpace(Var("TUZIYO_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins returns the configured origins followed by the localhost
// defaults. Configurable via TUZIYO_ORIGINS (comma separated).
func AllowedOrigins() (origins []string) {
	if s := Var("TUZIYO_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	origins = append(origins,
		"app://*",
		"file://*",
	)

	return origins
}

// Models returns the model cache directory. Configurable via TUZIYO_MODELS.
// Default: $HOME/.tuziyo/models
func Models() string {
	if s := Var("TUZIYO_MODELS"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".tuziyo", "models")
}

// DownloadTimeout returns the deadline applied to a single model download.
// Configurable via TUZIYO_DOWNLOAD_TIMEOUT as a duration or whole seconds.
// Zero (the default) means no deadline.
func DownloadTimeout() time.Duration {
	return Duration("TUZIYO_DOWNLOAD_TIMEOUT", 0)()
}

// LogLevel returns the log level. Configurable via TUZIYO_DEBUG.
// Values: 0/false = INFO (default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("TUZIYO_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var returns an environment variable with surrounding quotes and
// whitespace removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
