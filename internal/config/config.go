// Package config loads and validates the process configuration from the
// environment. Every knob lives here: nothing else in the module reads an
// environment variable, and the loaded Config is immutable by convention.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/addrbook/addrbook/internal/admission"
)

type Config struct {
	Env  string `env:"ADDRBOOK_ENV" envDefault:"dev"`
	Addr string `env:"ADDRBOOK_ADDR" envDefault:":8080"`

	// PublicBaseURL is the externally reachable origin used when building
	// confirmation links.
	PublicBaseURL string `env:"ADDRBOOK_PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`

	DatabaseDSN string `env:"ADDRBOOK_DATABASE_DSN,required,notEmpty"`

	RedisAddr     string `env:"ADDRBOOK_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"ADDRBOOK_REDIS_PASSWORD"`
	RedisDB       int    `env:"ADDRBOOK_REDIS_DB" envDefault:"0"`

	TokenSecret    string        `env:"ADDRBOOK_TOKEN_SECRET,required,notEmpty"`
	TokenAlgorithm string        `env:"ADDRBOOK_TOKEN_ALGORITHM" envDefault:"HS256"`
	TokenIssuer    string        `env:"ADDRBOOK_TOKEN_ISSUER"`
	AccessTTL      time.Duration `env:"ADDRBOOK_ACCESS_TTL" envDefault:"30m"`
	RefreshTTL     time.Duration `env:"ADDRBOOK_REFRESH_TTL" envDefault:"168h"`
	ConfirmTTL     time.Duration `env:"ADDRBOOK_CONFIRM_TTL" envDefault:"24h"`

	BcryptCost int `env:"ADDRBOOK_BCRYPT_COST" envDefault:"10"`

	AccountCacheTTL time.Duration `env:"ADDRBOOK_ACCOUNT_CACHE_TTL" envDefault:"15m"`

	SignupLimit     int           `env:"ADDRBOOK_SIGNUP_LIMIT" envDefault:"5"`
	SignupWindow    time.Duration `env:"ADDRBOOK_SIGNUP_WINDOW" envDefault:"1m"`
	SignupLimitKey  string        `env:"ADDRBOOK_SIGNUP_LIMIT_KEY" envDefault:"ip"`
	ContactLimit    int           `env:"ADDRBOOK_CONTACT_CREATE_LIMIT" envDefault:"2"`
	ContactWindow   time.Duration `env:"ADDRBOOK_CONTACT_CREATE_WINDOW" envDefault:"5s"`
	ContactLimitKey string        `env:"ADDRBOOK_CONTACT_CREATE_LIMIT_KEY" envDefault:"ip"`
	ResendLimit     int           `env:"ADDRBOOK_RESEND_CONFIRM_LIMIT" envDefault:"3"`
	ResendWindow    time.Duration `env:"ADDRBOOK_RESEND_CONFIRM_WINDOW" envDefault:"10m"`
	ResendLimitKey  string        `env:"ADDRBOOK_RESEND_CONFIRM_LIMIT_KEY" envDefault:"ip"`

	SMTPHost     string `env:"ADDRBOOK_SMTP_HOST"`
	SMTPPort     int    `env:"ADDRBOOK_SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"ADDRBOOK_SMTP_USERNAME"`
	SMTPPassword string `env:"ADDRBOOK_SMTP_PASSWORD"`
	MailFrom     string `env:"ADDRBOOK_MAIL_FROM" envDefault:"no-reply@addrbook.local"`

	CORSOrigins []string `env:"ADDRBOOK_CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

// Load reads the optional .env file, parses the environment, and validates
// the result.
func Load() (*Config, error) {
	// Real deployments set the environment directly; .env is a local
	// convenience.
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using process environment")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Env != "dev" && c.Env != "prod" {
		return fmt.Errorf("config: unknown env %q (want dev or prod)", c.Env)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.ConfirmTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.AccountCacheTTL <= 0 {
		return errors.New("config: account cache TTL must be positive")
	}
	for name, rule := range c.Rules() {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// Prod reports whether the process runs with production settings.
func (c *Config) Prod() bool { return c.Env == "prod" }

// SignupRule is the admission budget for account creation.
func (c *Config) SignupRule() admission.Rule {
	return admission.Rule{
		Requests: c.SignupLimit,
		Window:   c.SignupWindow,
		Key:      admission.KeyStrategy(c.SignupLimitKey),
	}
}

// ContactCreateRule is the admission budget for contact creation.
func (c *Config) ContactCreateRule() admission.Rule {
	return admission.Rule{
		Requests: c.ContactLimit,
		Window:   c.ContactWindow,
		Key:      admission.KeyStrategy(c.ContactLimitKey),
	}
}

// ResendConfirmRule is the admission budget for re-requesting confirmation
// mail.
func (c *Config) ResendConfirmRule() admission.Rule {
	return admission.Rule{
		Requests: c.ResendLimit,
		Window:   c.ResendWindow,
		Key:      admission.KeyStrategy(c.ResendLimitKey),
	}
}

// Rules names every configured admission rule, keyed for error messages.
func (c *Config) Rules() map[string]admission.Rule {
	return map[string]admission.Rule{
		"signup rule":         c.SignupRule(),
		"contact create rule": c.ContactCreateRule(),
		"resend confirm rule": c.ResendConfirmRule(),
	}
}
