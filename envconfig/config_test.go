package envconfig

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestHost(t *testing.T) {
	cases := map[string]struct {
		value  string
		expect string
	}{
		"empty":               {"", "127.0.0.1:11500"},
		"only address":        {"1.2.3.4", "1.2.3.4:11500"},
		"only port":           {":1234", ":1234"},
		"address and port":    {"1.2.3.4:1234", "1.2.3.4:1234"},
		"hostname":            {"example.com", "example.com:11500"},
		"hostname and port":   {"example.com:1234", "example.com:1234"},
		"zero port":           {":0", ":0"},
		"too large port":      {":66000", ":11500"},
		"too large port v6":   {"[::1]:66000", "[::1]:11500"},
		"ipv6 localhost":      {"[::1]", "[::1]:11500"},
		"http scheme":         {"http://1.2.3.4", "1.2.3.4:80"},
		"https scheme":        {"https://1.2.3.4", "1.2.3.4:443"},
		"https scheme w/port": {"https://1.2.3.4:1234", "1.2.3.4:1234"},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TUZIYO_HOST", tt.value)
			if host := Host(); host.Host != tt.expect {
				t.Errorf("%s: expected %s, got %s", name, tt.expect, host.Host)
			}
		})
	}
}

func TestOrigins(t *testing.T) {
	t.Setenv("TUZIYO_ORIGINS", "http://10.0.0.1")
	origins := AllowedOrigins()
	if origins[0] != "http://10.0.0.1" {
		t.Errorf("expected configured origin first, got %v", origins[0])
	}
	if diff := cmp.Diff([]string{"app://*", "file://*"}, origins[len(origins)-2:]); diff != "" {
		t.Errorf("trailing origins mismatch (-want +got):\n%s", diff)
	}
}

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"true":  true,
		"false": false,
		"1":     true,
		"0":     false,
		"bogus": true,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("TUZIYO_BOOL", k)
			if b := Bool("TUZIYO_BOOL")(); b != v {
				t.Errorf("%s: expected %t, got %t", k, v, b)
			}
		})
	}
}

func TestUint(t *testing.T) {
	cases := map[string]uint{
		"0":    0,
		"1":    1,
		"1337": 1337,
		"":     8,
		"-1":   8,
		"0x10": 8,
		"abc":  8,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("TUZIYO_MAX_SESSIONS", k)
			if i := MaxSessions(); i != v {
				t.Errorf("%s: expected %d, got %d", k, v, i)
			}
		})
	}
}

func TestDownloadTimeout(t *testing.T) {
	cases := map[string]time.Duration{
		"":       0,
		"30":     30 * time.Second,
		"1m":     time.Minute,
		"-5s":    0,
		"banana": 0,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("TUZIYO_DOWNLOAD_TIMEOUT", k)
			if d := DownloadTimeout(); d != v {
				t.Errorf("%s: expected %s, got %s", k, v, d)
			}
		})
	}
}

func TestCacheKind(t *testing.T) {
	t.Setenv("TUZIYO_CACHE", "")
	if got := CacheKind(); got != "disk" {
		t.Errorf("expected disk, got %s", got)
	}

	t.Setenv("TUZIYO_CACHE", "'badger'")
	if got := CacheKind(); got != "badger" {
		t.Errorf("expected badger, got %s", got)
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"t":     slog.LevelDebug,
		"1":     slog.LevelDebug,
		"2":     slog.Level(-8),
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("TUZIYO_DEBUG", k)
			if i := LogLevel(); i != v {
				t.Errorf("%s: expected %s, got %s", k, v, i)
			}
		})
	}
}
