package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func setenv(t *testing.T, key, val string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, val)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestFromEnvDefaults(t *testing.T) {
	// Make sure none of the interesting vars leak in from the test environment.
	for _, k := range []string{
		"APP_NAME", "DB_USER", "DB_NAME", "NSQD_TCP_ADDR", "MAX_ATTEMPTS",
		"BACKOFF_BASE", "BACKOFF_CAP", "BACKOFF_JITTER_PCT", "DISPATCH_WORKERS",
		"PER_ENDPOINT_INFLIGHT", "DELIVERY_HTTP_TIMEOUT", "ALLOW_PRIVATE_HOSTS",
		"PRIVATE_HOST_ALLOWLIST", "WEBHOOK_SIGNATURE_HEADER",
	} {
		setenv(t, k, "")
		os.Unsetenv(k)
	}

	cfg := FromEnv()

	if cfg.AppName != "wharfhook" {
		t.Errorf("AppName = %q, want %q", cfg.AppName, "wharfhook")
	}
	if cfg.Dispatcher.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Dispatcher.MaxAttempts)
	}
	if cfg.Dispatcher.BackoffBase != 30*time.Second {
		t.Errorf("BackoffBase = %v, want 30s", cfg.Dispatcher.BackoffBase)
	}
	if cfg.Dispatcher.BackoffCap != time.Hour {
		t.Errorf("BackoffCap = %v, want 1h", cfg.Dispatcher.BackoffCap)
	}
	if cfg.Dispatcher.JitterPercent != 0.25 {
		t.Errorf("JitterPercent = %v, want 0.25", cfg.Dispatcher.JitterPercent)
	}
	if cfg.Dispatcher.PerEndpointInflight != 4 {
		t.Errorf("PerEndpointInflight = %d, want 4", cfg.Dispatcher.PerEndpointInflight)
	}
	if cfg.Dispatcher.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout = %v, want 10s", cfg.Dispatcher.HTTPTimeout)
	}
	if cfg.Dispatcher.SignatureHeader != "X-WharfHook-Signature" {
		t.Errorf("SignatureHeader = %q", cfg.Dispatcher.SignatureHeader)
	}
	if cfg.Registry.AllowPrivateHosts {
		t.Errorf("AllowPrivateHosts = true, want false by default")
	}
	if cfg.NSQ.DeliveriesTopic != "deliveries" {
		t.Errorf("DeliveriesTopic = %q, want %q", cfg.NSQ.DeliveriesTopic, "deliveries")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	setenv(t, "MAX_ATTEMPTS", "3")
	setenv(t, "BACKOFF_BASE", "5s")
	setenv(t, "BACKOFF_CAP", "10m")
	setenv(t, "BACKOFF_JITTER_PCT", "0.5")
	setenv(t, "DISPATCH_WORKERS", "16")
	setenv(t, "ALLOW_PRIVATE_HOSTS", "true")
	setenv(t, "PRIVATE_HOST_ALLOWLIST", "hooks.internal, partner.local ,")
	setenv(t, "NSQ_ENABLED", "false")

	cfg := FromEnv()

	if cfg.Dispatcher.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Dispatcher.MaxAttempts)
	}
	if cfg.Dispatcher.BackoffBase != 5*time.Second {
		t.Errorf("BackoffBase = %v, want 5s", cfg.Dispatcher.BackoffBase)
	}
	if cfg.Dispatcher.BackoffCap != 10*time.Minute {
		t.Errorf("BackoffCap = %v, want 10m", cfg.Dispatcher.BackoffCap)
	}
	if cfg.Dispatcher.JitterPercent != 0.5 {
		t.Errorf("JitterPercent = %v, want 0.5", cfg.Dispatcher.JitterPercent)
	}
	if cfg.Dispatcher.Workers != 16 {
		t.Errorf("Workers = %d, want 16", cfg.Dispatcher.Workers)
	}
	if !cfg.Registry.AllowPrivateHosts {
		t.Errorf("AllowPrivateHosts = false, want true")
	}
	want := []string{"hooks.internal", "partner.local"}
	if !reflect.DeepEqual(cfg.Registry.PrivateHostAllow, want) {
		t.Errorf("PrivateHostAllow = %v, want %v", cfg.Registry.PrivateHostAllow, want)
	}
	if cfg.NSQ.Enabled {
		t.Errorf("NSQ.Enabled = true, want false")
	}
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		get  func(Config) any
		want any
	}{
		{"bad int", "MAX_ATTEMPTS", "not-a-number", func(c Config) any { return c.Dispatcher.MaxAttempts }, 5},
		{"bad duration", "BACKOFF_BASE", "soon", func(c Config) any { return c.Dispatcher.BackoffBase }, 30 * time.Second},
		{"bad float", "BACKOFF_JITTER_PCT", "quarter", func(c Config) any { return c.Dispatcher.JitterPercent }, 0.25},
		{"bad bool", "ALLOW_PRIVATE_HOSTS", "yep", func(c Config) any { return c.Registry.AllowPrivateHosts }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setenv(t, tt.key, tt.val)
			got := tt.get(FromEnv())
			if got != tt.want {
				t.Errorf("FromEnv() with %s=%q: got %v, want %v", tt.key, tt.val, got, tt.want)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{DB: DB{User: "u", Pass: "p", Host: "h", Port: "5433", Name: "n"}}
	want := "postgres://u:p@h:5433/n?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
