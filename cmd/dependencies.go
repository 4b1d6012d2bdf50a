package cmd

import (
	"context"

	"github.com/tinywideclouds/go-presence-service/internal/api"
	"github.com/tinywideclouds/go-presence-service/internal/location"
	"github.com/tinywideclouds/go-presence-service/internal/queue"
	"github.com/tinywideclouds/go-presence-service/internal/realtime"
	"github.com/tinywideclouds/go-presence-service/pkg/presence"
)

// PresenceCache is the full cache surface: the gateway writes through the
// realtime.PresenceCache subset, other services read with Fetch.
type PresenceCache interface {
	realtime.PresenceCache
	Fetch(ctx context.Context, userID string) (*presence.ConnectionInfo, error)
}

// ServiceDependencies is the container for the backing implementations the
// two services need. Entrypoints fill it with production adapters or with
// in-memory fakes.
type ServiceDependencies struct {
	LocationStore      location.Store
	Users              api.UserReader
	DetectionPublisher location.DetectionPublisher
	PresenceCache      PresenceCache
	MatchQueue         queue.MatchQueue
}
