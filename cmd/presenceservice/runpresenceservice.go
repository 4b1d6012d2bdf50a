/*
File: cmd/presenceservice/runpresenceservice.go
Description: Local development entrypoint. Runs the full service against
in-memory fakes so no Postgres, Redis or broker is needed.
*/
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinywideclouds/go-presence-service/cmd"
	"github.com/tinywideclouds/go-presence-service/internal/app"
	"github.com/tinywideclouds/go-presence-service/internal/auth"
	"github.com/tinywideclouds/go-presence-service/internal/realtime"
	"github.com/tinywideclouds/go-presence-service/internal/sweeper"
	"github.com/tinywideclouds/go-presence-service/presenceservice"
	"github.com/tinywideclouds/go-presence-service/presenceservice/config"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "go-presence-service").Logger().Level(zerolog.DebugLevel)

	baseCfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	baseCfg.RunMode = "local"
	if os.Getenv("SESSION_SECRET") == "" {
		// Local-only signing key. Production requires the env var.
		_ = os.Setenv("SESSION_SECRET", "local-dev-secret")
	}

	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to finalize configuration")
	}

	logger.Warn().Msg("Running in 'local' mode. All external dependencies will be faked.")
	deps := cmd.NewFakeDependencies(logger)
	verifier := auth.NewVerifier(cfg.SessionSecret)

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

	app.Run(context.Background(), logger, apiService, gateway, sweep)
}
