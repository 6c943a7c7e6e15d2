package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func load(t *testing.T, env map[string]string) Config {
	t.Helper()
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(env))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := load(t, map[string]string{})

	if cfg.Addr != ":8090" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.DBDriver != "sqlite" || cfg.DBDSN != "keygate.db" {
		t.Errorf("db = %q %q", cfg.DBDriver, cfg.DBDSN)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.RateLimit != 10 || cfg.RateWindow != time.Minute {
		t.Errorf("rate = %d per %v", cfg.RateLimit, cfg.RateWindow)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.NATSSubject != "keygate.tokens" {
		t.Errorf("NATSSubject = %q", cfg.NATSSubject)
	}
	if cfg.StatsSchedule != "@every 1m" {
		t.Errorf("StatsSchedule = %q", cfg.StatsSchedule)
	}
}

func TestPrefixedOverrides(t *testing.T) {
	cfg := load(t, map[string]string{
		"KEYGATE_ADDR":            ":9000",
		"KEYGATE_DB_DRIVER":       "postgres",
		"KEYGATE_SESSION_TTL":     "2h",
		"KEYGATE_COOKIE_SECURE":   "true",
		"KEYGATE_ALLOWED_ORIGINS": "https://a.example,https://b.example",
		"ADDR":                    ":1",
	})

	if cfg.Addr != ":9000" {
		t.Errorf("Addr = %q, want prefixed value", cfg.Addr)
	}
	if cfg.DBDriver != "postgres" {
		t.Errorf("DBDriver = %q", cfg.DBDriver)
	}
	if cfg.SessionTTL != 2*time.Hour || !cfg.CookieSecure {
		t.Errorf("session = %v secure=%v", cfg.SessionTTL, cfg.CookieSecure)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestValidate(t *testing.T) {
	base := map[string]string{
		"KEYGATE_SESSION_SECRET":   testSecret,
		"KEYGATE_ADMIN_PASSPHRASE": "letmein",
	}
	if err := load(t, base).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name  string
		key   string
		value string
		field string
	}{
		{"missing secret", "KEYGATE_SESSION_SECRET", "", "SessionSecret"},
		{"short secret", "KEYGATE_SESSION_SECRET", "short", "SessionSecret"},
		{"missing passphrase", "KEYGATE_ADMIN_PASSPHRASE", "", "AdminPassphrase"},
		{"unknown driver", "KEYGATE_DB_DRIVER", "mysql", "DBDriver"},
		{"bad log format", "KEYGATE_LOG_FORMAT", "xml", "LogFormat"},
		{"postmark without sender", "KEYGATE_POSTMARK_TOKEN", "pm-token", "FromEmail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := map[string]string{}
			for k, v := range base {
				env[k] = v
			}
			env[tt.key] = tt.value
			err := load(t, env).Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not mention %s", err, tt.field)
			}
		})
	}
}

func TestEmailEnabled(t *testing.T) {
	cfg := Config{PostmarkToken: "pm", FromEmail: "keys@example.com"}
	if !cfg.EmailEnabled() {
		t.Error("expected email enabled")
	}
	cfg.FromEmail = ""
	if cfg.EmailEnabled() {
		t.Error("expected email disabled without sender")
	}
}
