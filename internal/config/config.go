// Package config loads keygate's runtime configuration from KEYGATE_*
// environment variables, optionally seeded from a .env file.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/dukerupert/keygate/internal/session"
)

// Prefix is prepended to every variable name.
const Prefix = "KEYGATE_"

// Config holds runtime configuration for the keygate service and CLI.
type Config struct {
	Addr     string `env:"ADDR,default=:8090"`
	DBDriver string `env:"DB_DRIVER,default=sqlite"`
	DBDSN    string `env:"DB_DSN,default=keygate.db"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL,default=24h"`
	CookieSecure  bool          `env:"COOKIE_SECURE,default=false"`

	AdminPassphrase string   `env:"ADMIN_PASSPHRASE"`
	AllowedOrigins  []string `env:"ALLOWED_ORIGINS,default=*"`

	RateLimit  int           `env:"RATE_LIMIT,default=10"`
	RateWindow time.Duration `env:"RATE_WINDOW,default=1m"`

	BaseURL       string `env:"BASE_URL,default=http://localhost:8090"`
	PostmarkToken string `env:"POSTMARK_TOKEN"`
	FromEmail     string `env:"FROM_EMAIL"`

	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_SUBJECT,default=keygate.tokens"`

	OTLPEndpoint  string `env:"OTLP_ENDPOINT"`
	StatsSchedule string `env:"STATS_SCHEDULE,default=@every 1m"`
}

// Load reads an optional .env file and returns a Config populated from the
// process environment.
func Load(ctx context.Context) (Config, error) {
	_ = godotenv.Load()
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom populates a Config from l, applying the KEYGATE_ prefix.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper(Prefix, l),
	}); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings needed to serve HTTP. CLI commands that only
// touch the database skip it.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.DBDriver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&c.DBDSN, validation.Required),
		validation.Field(&c.LogFormat, validation.In("text", "json")),
		validation.Field(&c.SessionSecret,
			validation.Required.Error("must be set"),
			validation.Length(session.MinSecretLength, 0)),
		validation.Field(&c.SessionTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.AdminPassphrase, validation.Required.Error("must be set")),
		validation.Field(&c.RateLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.RateWindow, validation.Required),
		validation.Field(&c.FromEmail, validation.By(func(v interface{}) error {
			if c.PostmarkToken != "" && v.(string) == "" {
				return errors.New("required when POSTMARK_TOKEN is set")
			}
			return nil
		})),
	)
}

// EmailEnabled reports whether issued tokens should be mailed out.
func (c Config) EmailEnabled() bool {
	return c.PostmarkToken != "" && c.FromEmail != ""
}
