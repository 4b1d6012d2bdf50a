// Package presenceservice wires the HTTP API surface of the presence
// service: the location integrity endpoints and the user read surface.
package presenceservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-presence-service/internal/api"
	"github.com/tinywideclouds/go-presence-service/internal/auth"
	"github.com/tinywideclouds/go-presence-service/internal/location"
	"github.com/tinywideclouds/go-presence-service/presenceservice/config"
)

// Dependencies collects the concrete collaborators the API needs. The
// entrypoint builds them (real or fake) and hands them in.
type Dependencies struct {
	LocationStore      location.Store
	Users              api.UserReader
	DetectionPublisher location.DetectionPublisher
	Verifier           *auth.Verifier
}

// Wrapper runs the HTTP API service.
type Wrapper struct {
	echo      *echo.Echo
	addr      string
	locations *location.Service
	logger    zerolog.Logger
}

// New creates and wires up the API service.
func New(cfg *config.AppConfig, deps *Dependencies, logger zerolog.Logger) (*Wrapper, error) {
	if deps == nil {
		return nil, fmt.Errorf("dependencies cannot be nil")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("token verifier cannot be nil")
	}

	locCfg := location.Config{}
	if cfg.Location.TTLHours > 0 {
		locCfg.TTL = time.Duration(cfg.Location.TTLHours) * time.Hour
	}
	if cfg.Location.RateLimitSeconds > 0 {
		locCfg.RateLimitWindow = time.Duration(cfg.Location.RateLimitSeconds) * time.Second
	}

	locations, err := location.NewService(deps.LocationStore, deps.DetectionPublisher, locCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create location service: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	handler := api.NewAPI(locations, deps.Users, logger)
	handler.Register(e, deps.Verifier)

	return &Wrapper{
		echo:      e,
		addr:      ":" + cfg.APIPort,
		locations: locations,
		logger:    logger.With().Str("component", "ApiService").Logger(),
	}, nil
}

// Locations exposes the location service for the sweeper and tests.
func (w *Wrapper) Locations() *location.Service {
	return w.locations
}

// Handler exposes the HTTP handler, used by tests to mount it on a test
// server.
func (w *Wrapper) Handler() http.Handler {
	return w.echo
}

// Start runs the HTTP server until Shutdown is called.
func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info().Str("addr", w.addr).Msg("API service starting...")
	if err := w.echo.Start(w.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down API service...")
	if err := w.echo.Shutdown(ctx); err != nil {
		w.logger.Error().Err(err).Msg("API server shutdown failed.")
		return err
	}
	w.logger.Info().Msg("API service shut down.")
	return nil
}
