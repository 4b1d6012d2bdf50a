/*
File: cmd/prod/runpresenceservice.go
Description: Production entrypoint for the presence service. Handles config
loading, dependency injection, and starting the application.
*/
package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinywideclouds/go-presence-service/cmd"
	"github.com/tinywideclouds/go-presence-service/internal/app"
	"github.com/tinywideclouds/go-presence-service/internal/auth"
	"github.com/tinywideclouds/go-presence-service/internal/platform/events"
	"github.com/tinywideclouds/go-presence-service/internal/platform/persistence"
	rpresence "github.com/tinywideclouds/go-presence-service/internal/platform/presence"
	rqueue "github.com/tinywideclouds/go-presence-service/internal/platform/queue"
	"github.com/tinywideclouds/go-presence-service/internal/realtime"
	"github.com/tinywideclouds/go-presence-service/internal/sweeper"
	"github.com/tinywideclouds/go-presence-service/presenceservice"
	"github.com/tinywideclouds/go-presence-service/presenceservice/config"
)

func main() {
	// 1. Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "go-presence-service").Logger()

	// 2. Load config.yaml (Stage 1) and apply env overrides (Stage 2)
	baseCfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to finalize configuration")
	}

	// 3. Create dependencies
	ctx := context.Background()
	deps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}

	verifier := auth.NewVerifier(cfg.SessionSecret)

	// 4. Create the two main services
	apiService, err := presenceservice.New(
		cfg,
		&presenceservice.Dependencies{
			LocationStore:      deps.LocationStore,
			Users:              deps.Users,
			DetectionPublisher: deps.DetectionPublisher,
			Verifier:           verifier,
		},
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API service")
	}

	gateway, err := realtime.NewGateway(
		cfg.WebSocketPort,
		verifier,
		deps.PresenceCache,
		deps.MatchQueue,
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Gateway")
	}

	sweep, err := sweeper.NewSweeper(apiService.Locations(), cfg.Location.SweepSpec, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Sweeper")
	}

	// 5. Run the application
	app.Run(ctx, logger, apiService, gateway, sweep)
}

// newDependencies builds the service dependency container.
func newDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*cmd.ServiceDependencies, error) {
	if cfg.RunMode == "local" {
		logger.Warn().Msg("Running in 'local' mode. All external dependencies will be faked.")
		return cmd.NewFakeDependencies(logger), nil
	}
	return newProdDependencies(ctx, cfg, logger)
}

// newProdDependencies creates real, production-ready dependencies.
func newProdDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*cmd.ServiceDependencies, error) {
	// Postgres
	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	logger.Info().Msg("Connected to Postgres")

	locationStore, err := persistence.NewPostgresLocationStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create location store: %w", err)
	}
	userStore, err := persistence.NewPostgresUserStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create user store: %w", err)
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err = rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

	presenceCache, err := rpresence.NewRedisPresenceCache(rdb, 0, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create presence cache: %w", err)
	}
	matchQueue, err := rqueue.NewRedisMatchQueue(rdb, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create match queue: %w", err)
	}

	// AMQP
	detections, err := events.NewAMQPDetectionPublisher(cfg.AMQP.URL, cfg.AMQP.DetectionQueue, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create detection publisher: %w", err)
	}

	return &cmd.ServiceDependencies{
		LocationStore:      locationStore,
		Users:              userStore,
		DetectionPublisher: detections,
		PresenceCache:      presenceCache,
		MatchQueue:         matchQueue,
	}, nil
}
