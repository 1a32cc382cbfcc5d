package cli

import (
	"fmt"
	"time"

	pkgconfig "github.com/Laudkyle/aptbooks/pkg/config"
	"github.com/Laudkyle/aptbooks/pkg/database"
	"github.com/Laudkyle/aptbooks/pkg/httpclient"
	"github.com/Laudkyle/aptbooks/pkg/tracing"
)

// EnvPrefix is prepended to every CLI environment variable.
const EnvPrefix = "APTBOOKS_"

// Session backends.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all configuration for the aptbooks CLI.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"warn"`

	HTTP httpclient.Config

	// Session persistence
	SessionBackend string        `env:"SESSION_BACKEND" envDefault:"file"`
	SessionDir     string        `env:"SESSION_DIR"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	Redis    database.RedisConfig    `envPrefix:"REDIS_"`
	Postgres database.PostgresConfig `envPrefix:"DB_"`

	Tracing tracing.Config `envPrefix:"OTEL_"`
}

// LoadConfig reads APTBOOKS_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadWithPrefix(cfg, EnvPrefix); err != nil {
		return nil, fmt.Errorf("load cli config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.SessionBackend {
	case BackendFile, BackendRedis, BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}
	if c.HTTP.BaseURL == "" {
		return fmt.Errorf("%sBASE_URL must not be empty", EnvPrefix)
	}
	return nil
}

// DefaultConfig targets a local sandbox and keeps the session in memory.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		LogLevel:       "warn",
		HTTP:           httpclient.DefaultConfig(baseURL),
		SessionBackend: BackendMemory,
		SessionTTL:     720 * time.Hour,
		Redis:          database.DefaultRedisConfig(),
		Postgres:       database.DefaultPostgresConfig(),
		Tracing:        tracing.DefaultConfig("aptbooks-cli"),
	}
}
