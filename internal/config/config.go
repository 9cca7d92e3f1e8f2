package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/fundstack/fundstack/internal/retry"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendREST     = "rest"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName   string `env:"APP_NAME" envDefault:"FundStack"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	StoreBackend  string `env:"STORE_BACKEND" envDefault:"memory"`
	DatabaseURL   string `env:"DATABASE_URL"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"./data/fundstack.db"`
	RESTStoreURL  string `env:"REST_STORE_URL"`
	RESTStoreAuth string `env:"REST_STORE_AUTH"`
	RedisURL      string `env:"REDIS_URL"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"fundstack"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"ledger-events"`
	AuditDir     string `env:"AUDIT_DIR"`

	JWTSecret      string        `env:"JWT_SECRET"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`

	StoreTimeout      time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	StoreMaxAttempts  uint          `env:"STORE_MAX_ATTEMPTS" envDefault:"4"`
	StoreRetryInitial time.Duration `env:"STORE_RETRY_INITIAL" envDefault:"50ms"`
	StoreRetryMax     time.Duration `env:"STORE_RETRY_MAX" envDefault:"2s"`

	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads configuration values from the environment and validates them.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_BACKEND=%s", c.StoreBackend)
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH must be set when STORE_BACKEND=%s", c.StoreBackend)
		}
	case BackendREST:
		if c.RESTStoreURL == "" {
			return fmt.Errorf("REST_STORE_URL must be set when STORE_BACKEND=%s", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.JWTSecret == "" {
		if !c.IsDev() {
			return fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", c.Env)
		}
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	}
	if c.StoreMaxAttempts == 0 {
		return fmt.Errorf("STORE_MAX_ATTEMPTS must be at least 1")
	}
	if !c.IsDev() && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.Env)
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the app runs in a local/development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// RetryPolicy builds the store retry policy from configuration.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     c.StoreMaxAttempts,
		InitialInterval: c.StoreRetryInitial,
		MaxInterval:     c.StoreRetryMax,
		AttemptTimeout:  c.StoreTimeout,
	}
}

// SigningSecret returns the JWT secret, falling back to a fixed development
// value when none is configured in a dev environment.
func (c Config) SigningSecret() []byte {
	if c.JWTSecret == "" && c.IsDev() {
		return []byte("fundstack-dev-secret")
	}
	return []byte(c.JWTSecret)
}
