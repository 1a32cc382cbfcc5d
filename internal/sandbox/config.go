package sandbox

import (
	"fmt"
	"time"

	pkgconfig "github.com/Laudkyle/aptbooks/pkg/config"
	"github.com/Laudkyle/aptbooks/pkg/database"
	"github.com/Laudkyle/aptbooks/pkg/kafka"
	"github.com/Laudkyle/aptbooks/pkg/tracing"
)

// EnvPrefix is prepended to every sandbox environment variable.
const EnvPrefix = "SANDBOX_"

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for the sandbox backend.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// Tokens
	JWTSecret       string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	SecureCookies   bool          `env:"SECURE_COOKIES" envDefault:"false"`

	// Idempotency replay store: "memory" or "redis".
	IdempotencyBackend string               `env:"IDEMPOTENCY_BACKEND" envDefault:"memory"`
	IdempotencyTTL     time.Duration        `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	Redis              database.RedisConfig `envPrefix:"REDIS_"`

	// Per-IP rate limiting; zero RPS disables it.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"100"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// pprof is mounted only when at least one CIDR is configured.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`

	// Demo user seeded at startup; empty email disables seeding.
	DemoEmail    string `env:"DEMO_EMAIL" envDefault:"demo@aptbooks.dev"`
	DemoPassword string `env:"DEMO_PASSWORD" envDefault:"Demo12345"`

	// Ledger events go to Kafka when brokers are set and are kept in
	// memory otherwise.
	Kafka kafka.ProducerConfig `envPrefix:"KAFKA_"`

	Tracing tracing.Config `envPrefix:"OTEL_"`
}

// LoadConfig reads configuration from SANDBOX_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadWithPrefix(cfg, EnvPrefix); err != nil {
		return nil, fmt.Errorf("load sandbox config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	switch c.IdempotencyBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown idempotency backend %q", c.IdempotencyBackend)
	}

	// Outside development, require an explicitly set, strong JWT secret.
	if c.Environment != "development" {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("%sJWT_SECRET must be explicitly set in %q mode", EnvPrefix, c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("%sJWT_SECRET must be at least 32 characters long, got %d", EnvPrefix, len(c.JWTSecret))
		}
	}
	return nil
}

// DefaultConfig is the configuration used by tests and by LoadConfig when no
// variable is set.
func DefaultConfig() *Config {
	return &Config{
		Environment:        "development",
		LogLevel:           "info",
		HTTPPort:           8080,
		JWTSecret:          defaultJWTSecret,
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    168 * time.Hour,
		IdempotencyBackend: "memory",
		IdempotencyTTL:     24 * time.Hour,
		Redis:              database.DefaultRedisConfig(),
		CORSAllowedOrigins: []string{"*"},
		Kafka:              kafka.DefaultProducerConfig(nil),
		Tracing:            tracing.DefaultConfig("aptbooks-sandbox"),
	}
}
