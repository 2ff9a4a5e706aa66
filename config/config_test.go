package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", StorageMemory)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 4, cfg.MailWorkers)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, DefaultInvitationPolicy, cfg.Invitations)
	assert.False(t, cfg.IsRelease())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", StoragePostgres)
	t.Setenv("GIN_MODE", "release")
	t.Setenv("CORS_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("INVITATION_TTL", "48h")
	t.Setenv("INVITATION_DAILY_LIMIT", "5")
	t.Setenv("ALLOW_SOLO_COMPLETION", "false")
	t.Setenv("EXPIRE_INVITATIONS_ON_CANCEL", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsRelease())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CorsOrigins)
	assert.Equal(t, 48*time.Hour, cfg.Invitations.TTL)
	assert.Equal(t, 5, cfg.Invitations.DailyLimit)
	assert.False(t, cfg.Invitations.AllowSolo)
	assert.True(t, cfg.Invitations.ExpireOnCancel)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_DRIVER")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			StorageDriver:  StorageMemory,
			MailWorkers:    1,
			MailQueueSize:  1,
			SweepInterval:  time.Minute,
			SweepBatchSize: 10,
			Invitations:    DefaultInvitationPolicy,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"no mail workers", func(c *Config) { c.MailWorkers = 0 }, "MAIL_WORKERS"},
		{"empty queue", func(c *Config) { c.MailQueueSize = 0 }, "MAIL_QUEUE_SIZE"},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }, "SWEEP_INTERVAL"},
		{"zero batch", func(c *Config) { c.SweepBatchSize = 0 }, "SWEEP_BATCH_SIZE"},
		{"zero ttl", func(c *Config) { c.Invitations.TTL = 0 }, "INVITATION_TTL"},
		{"zero limit", func(c *Config) { c.Invitations.DailyLimit = 0 }, "INVITATION_DAILY_LIMIT"},
		{"zero window", func(c *Config) { c.Invitations.LimitWindow = 0 }, "INVITATION_LIMIT_WINDOW"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost:     "db",
		PostgresPort:     "5432",
		PostgresUser:     "hive",
		PostgresPassword: "secret",
		PostgresDB:       "registrar",
		PostgresSSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5432 user=hive dbname=registrar password=secret sslmode=disable TimeZone=UTC", cfg.PostgresDSN())
}
