package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage drivers
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds every setting read from the environment
type Config struct {
	Port          string   `env:"PORT" envDefault:"8080"`
	GinMode       string   `env:"GIN_MODE" envDefault:"debug"`
	StorageDriver string   `env:"STORAGE_DRIVER" envDefault:"postgres"`
	ClientUrl     string   `env:"CLIENT_URL" envDefault:"http://localhost:3000"`
	CorsOrigins   []string `env:"CORS_ORIGINS" envSeparator:","`
	JWTSecret     string   `env:"JWT_SECRET"`

	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"registrar"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	PostgresVerbose  bool   `env:"VERBOSE_POSTGRES" envDefault:"false"`

	// Empty disables the status cache and the sweeper lock
	RedisURL string `env:"REDIS_URL"`

	MailHost     string `env:"MAIL_HOST"`
	MailPort     string `env:"MAIL_PORT" envDefault:"587"`
	MailUsername string `env:"MAIL_USERNAME"`
	MailPassword string `env:"MAIL_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM"`

	MailWorkers       int           `env:"MAIL_WORKERS" envDefault:"4"`
	MailQueueSize     int           `env:"MAIL_QUEUE_SIZE" envDefault:"256"`
	MailReportTimeout time.Duration `env:"MAIL_REPORT_TIMEOUT" envDefault:"2s"`

	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	SweepBatchSize int           `env:"SWEEP_BATCH_SIZE" envDefault:"500"`
	StatusCacheTTL time.Duration `env:"STATUS_CACHE_TTL" envDefault:"30s"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Invitations InvitationPolicy
}

// Load reads an optional .env file then parses the environment into a Config
func Load() (*Config, error) {
	// A missing .env is fine, the process environment is used as is
	_ = godotenv.Load()

	cfg := &Config{Invitations: DefaultInvitationPolicy}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that would make the coordinator misbehave at runtime
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q (expected %s or %s)", c.StorageDriver, StoragePostgres, StorageMemory)
	}
	if c.MailWorkers < 1 {
		return fmt.Errorf("MAIL_WORKERS must be at least 1, got %d", c.MailWorkers)
	}
	if c.MailQueueSize < 1 {
		return fmt.Errorf("MAIL_QUEUE_SIZE must be at least 1, got %d", c.MailQueueSize)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.SweepBatchSize < 1 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be at least 1, got %d", c.SweepBatchSize)
	}
	return c.Invitations.Validate()
}

// PostgresDSN builds the connection string for the gorm postgres driver
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s password=%s sslmode=%s TimeZone=UTC",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresDB, c.PostgresPassword, c.PostgresSSLMode)
}

// IsRelease reports whether gin runs in release mode
func (c *Config) IsRelease() bool {
	return strings.EqualFold(c.GinMode, "release")
}
