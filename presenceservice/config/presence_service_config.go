package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// AppConfig is the canonical, validated configuration object used
// throughout the application. It is created by NewConfigFromYaml (Stage 1)
// and finalized by UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	RunMode       string
	APIPort       string
	WebSocketPort string
	Redis         YamlRedisConfig
	Postgres      YamlPostgresConfig
	AMQP          YamlAMQPConfig
	Location      YamlLocationConfig

	// SessionSecret signs and verifies session tokens. It is never read
	// from YAML; the environment is its only source.
	SessionSecret string
}

// UpdateConfigWithEnvOverrides takes the base configuration (created from
// YAML) and completes it by applying environment variables and final
// validation.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Applying environment variable overrides...")

	if port := os.Getenv("API_PORT"); port != "" {
		logger.Debug().Str("key", "API_PORT").Msg("Overriding config value from env")
		cfg.APIPort = port
	}
	if port := os.Getenv("WEBSOCKET_PORT"); port != "" {
		logger.Debug().Str("key", "WEBSOCKET_PORT").Msg("Overriding config value from env")
		cfg.WebSocketPort = port
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		logger.Debug().Str("key", "REDIS_ADDR").Msg("Overriding config value from env")
		cfg.Redis.Addr = redisAddr
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		logger.Debug().Str("key", "DATABASE_URL").Msg("Overriding config value from env")
		cfg.Postgres.URL = dbURL
	}
	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		logger.Debug().Str("key", "AMQP_URL").Msg("Overriding config value from env")
		cfg.AMQP.URL = amqpURL
	}
	cfg.SessionSecret = os.Getenv("SESSION_SECRET")

	// Final validation. Local mode runs against fakes and needs neither a
	// database nor a broker.
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is not set")
	}
	if cfg.RunMode != "local" {
		if cfg.Postgres.URL == "" {
			return nil, fmt.Errorf("postgres url is not set in config or DATABASE_URL env var")
		}
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis addr is not set in config or REDIS_ADDR env var")
		}
	}

	logger.Debug().Msg("Configuration finalized and validated successfully")
	return cfg, nil
}
