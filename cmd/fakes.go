package cmd

import (
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-presence-service/internal/test/fakes"
)

// NewFakeDependencies creates in-memory fakes for local development.
func NewFakeDependencies(logger zerolog.Logger) *ServiceDependencies {
	return &ServiceDependencies{
		LocationStore:      fakes.NewLocationStore(logger),
		Users:              fakes.NewUserReader(),
		DetectionPublisher: fakes.NewDetectionPublisher(logger),
		PresenceCache:      fakes.NewPresenceCache(),
		MatchQueue:         fakes.NewMatchQueue(),
	}
}
