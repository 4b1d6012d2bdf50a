// Package app contains the shared, reusable logic for starting and stopping the service.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-presence-service/internal/realtime"
	"github.com/tinywideclouds/go-presence-service/internal/sweeper"
	"github.com/tinywideclouds/go-presence-service/presenceservice"
)

// Run executes the main application lifecycle for the presence service. It
// starts the API service, the WebSocket gateway and the expiry sweeper,
// listens for OS signals, and performs a graceful shutdown of all three.
func Run(
	ctx context.Context,
	logger zerolog.Logger,
	apiService *presenceservice.Wrapper,
	gateway *realtime.Gateway,
	sweep *sweeper.Sweeper,
) {
	var wg sync.WaitGroup
	wg.Add(2)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer wg.Done()
		logger.Info().Msg("Starting API Service...")
		err := apiService.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("API Service failed")
			cancel() // Trigger shutdown of other services.
		}
	}()

	go func() {
		defer wg.Done()
		logger.Info().Msg("Starting Gateway Service...")
		err := gateway.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Gateway Service failed")
			cancel() // Trigger shutdown of other services.
		}
	}()

	if sweep != nil {
		if err := sweep.Start(); err != nil {
			logger.Error().Err(err).Msg("Sweeper failed to start")
			cancel()
		}
	}

	// Wait for a shutdown signal.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal.")
	case <-ctx.Done():
		logger.Info().Msg("Context cancelled, initiating shutdown.")
	}

	// Execute graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if sweep != nil {
		logger.Info().Msg("Shutting down Sweeper...")
		if err := sweep.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Sweeper shutdown failed.")
		}
	}

	logger.Info().Msg("Shutting down API Service...")
	if err := apiService.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API Service shutdown failed.")
	}

	logger.Info().Msg("Shutting down Gateway...")
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Gateway shutdown failed.")
	}

	wg.Wait()
	logger.Info().Msg("All services shut down gracefully.")
}
