package app

import (
	"errors"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the portal.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"30s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	SessionCookie string        `envconfig:"SESSION_COOKIE" default:"portal_session"`

	CSRFSecret string `envconfig:"CSRF_SECRET" required:"true"`

	BackendURL     string        `envconfig:"BACKEND_URL" default:"http://127.0.0.1:5000/api"`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"15s"`

	StripePublishableKey string `envconfig:"STRIPE_PUBLISHABLE_KEY"`
	GotenbergURL         string `envconfig:"GOTENBERG_URL" default:"http://127.0.0.1:3000"`

	SnapshotTTL     time.Duration `envconfig:"SNAPSHOT_TTL" default:"2h"`
	VerificationTTL time.Duration `envconfig:"VERIFICATION_TTL" default:"720h"`

	RateLimit      int `envconfig:"RATE_LIMIT" default:"120"`
	LoginRateLimit int `envconfig:"LOGIN_RATE_LIMIT" default:"10"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"5"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values envconfig cannot.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return errors.New("session secret must be provided")
	}
	if c.CSRFSecret == "" {
		return errors.New("csrf secret must be provided")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("backend url must be an absolute URL")
	}
	if c.IsProduction() && c.StripePublishableKey == "" {
		return errors.New("stripe publishable key must be provided in production")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
