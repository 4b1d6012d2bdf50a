// Package sweeper runs the recurring location expiry sweep. The sweep is
// the sole garbage-collection path for expired records.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-presence-service/internal/location"
)

// DefaultSpec runs the sweep hourly.
const DefaultSpec = "@hourly"

// Sweeper schedules Service.SweepExpired on a cron cadence.
type Sweeper struct {
	cron    *cron.Cron
	service *location.Service
	spec    string
	logger  zerolog.Logger
}

// NewSweeper creates a sweeper on the given cron spec. An empty spec uses
// the hourly default.
func NewSweeper(service *location.Service, spec string, logger zerolog.Logger) (*Sweeper, error) {
	if service == nil {
		return nil, fmt.Errorf("location service cannot be nil")
	}
	if spec == "" {
		spec = DefaultSpec
	}
	return &Sweeper{
		cron:    cron.New(),
		service: service,
		spec:    spec,
		logger:  logger.With().Str("component", "Sweeper").Logger(),
	}, nil
}

// Start registers and starts the recurring job.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.Run); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Str("spec", s.spec).Msg("Expiry sweep scheduled")
	return nil
}

// Run executes one sweep. It is also the cron entrypoint.
func (s *Sweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.service.SweepExpired(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Expiry sweep failed")
	}
}

// Shutdown stops the scheduler, waiting for a running sweep to finish or
// the context to expire.
func (s *Sweeper) Shutdown(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
