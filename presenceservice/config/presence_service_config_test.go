package config_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-presence-service/presenceservice/config"
)

// newBaseConfig creates a mock "Stage 1" config, simulating what
// NewConfigFromYaml would produce.
func newBaseConfig() *config.AppConfig {
	return &config.AppConfig{
		RunMode:       "production",
		APIPort:       "9090",
		WebSocketPort: "9091",
		Redis:         config.YamlRedisConfig{Addr: "base-redis:6379"},
		Postgres:      config.YamlPostgresConfig{URL: "postgres://base"},
		AMQP: config.YamlAMQPConfig{
			URL:            "amqp://base",
			DetectionQueue: "location.suspect-movement",
		},
		Location: config.YamlLocationConfig{
			TTLHours:         24,
			RateLimitSeconds: 60,
			SweepSpec:        "@hourly",
		},
	}
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("all overrides applied", func(t *testing.T) {
		baseCfg := newBaseConfig()

		t.Setenv("API_PORT", "8000")
		t.Setenv("WEBSOCKET_PORT", "8001")
		t.Setenv("REDIS_ADDR", "env-redis:6379")
		t.Setenv("DATABASE_URL", "postgres://env")
		t.Setenv("AMQP_URL", "amqp://env")
		t.Setenv("SESSION_SECRET", "env-secret")

		cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "8000", cfg.APIPort)
		assert.Equal(t, "8001", cfg.WebSocketPort)
		assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
		assert.Equal(t, "postgres://env", cfg.Postgres.URL)
		assert.Equal(t, "amqp://env", cfg.AMQP.URL)
		assert.Equal(t, "env-secret", cfg.SessionSecret)

		// Non-overridden fields remain.
		assert.Equal(t, "production", cfg.RunMode)
		assert.Equal(t, "location.suspect-movement", cfg.AMQP.DetectionQueue)
		assert.Equal(t, 24, cfg.Location.TTLHours)
	})

	t.Run("session secret is required", func(t *testing.T) {
		baseCfg := newBaseConfig()
		t.Setenv("SESSION_SECRET", "")

		_, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SESSION_SECRET")
	})

	t.Run("production requires postgres and redis", func(t *testing.T) {
		t.Setenv("SESSION_SECRET", "env-secret")
		t.Setenv("DATABASE_URL", "")
		t.Setenv("REDIS_ADDR", "")

		noDB := newBaseConfig()
		noDB.Postgres.URL = ""
		_, err := config.UpdateConfigWithEnvOverrides(noDB, logger)
		assert.Error(t, err)

		noRedis := newBaseConfig()
		noRedis.Redis.Addr = ""
		_, err = config.UpdateConfigWithEnvOverrides(noRedis, logger)
		assert.Error(t, err)
	})

	t.Run("local mode runs without backends", func(t *testing.T) {
		t.Setenv("SESSION_SECRET", "env-secret")

		cfg := newBaseConfig()
		cfg.RunMode = "local"
		cfg.Postgres.URL = ""
		cfg.Redis.Addr = ""

		out, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, "local", out.RunMode)
	})
}
