// Package fakes provides in-memory test doubles (fakes) for the service's
// dependencies. These are used in the cmd local entrypoint and in
// integration tests.
package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-presence-service/internal/api"
	"github.com/tinywideclouds/go-presence-service/internal/location"
	"github.com/tinywideclouds/go-presence-service/pkg/presence"
)

// --- Location store ---

// LocationStore keeps location records in a map guarded by a mutex.
type LocationStore struct {
	mu      sync.Mutex
	records map[string]location.Record
	logger  zerolog.Logger
}

func NewLocationStore(logger zerolog.Logger) *LocationStore {
	return &LocationStore{
		records: make(map[string]location.Record),
		logger:  logger.With().Str("component", "FakeLocationStore").Logger(),
	}
}

func (s *LocationStore) Get(_ context.Context, userID string) (*location.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *LocationStore) Upsert(_ context.Context, rec location.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = rec
	return nil
}

func (s *LocationStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

func (s *LocationStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// --- Detection publisher ---

// DetectionPublisher records published events on a buffered channel so
// tests can assert on them.
type DetectionPublisher struct {
	logger    zerolog.Logger
	published chan location.SuspectMovement
}

func NewDetectionPublisher(logger zerolog.Logger) *DetectionPublisher {
	return &DetectionPublisher{
		logger:    logger.With().Str("component", "FakeDetectionPublisher").Logger(),
		published: make(chan location.SuspectMovement, 100),
	}
}

func (p *DetectionPublisher) Published() <-chan location.SuspectMovement { return p.published }

func (p *DetectionPublisher) PublishSuspectMovement(_ context.Context, ev location.SuspectMovement) error {
	p.logger.Info().Str("user_id", ev.UserID).Float64("speed_mps", ev.SpeedMPS).Msg("[FAKES] Suspect movement published.")
	select {
	case p.published <- ev:
	default:
	}
	return nil
}

// --- Presence cache ---

type PresenceCache struct {
	mu      sync.Mutex
	entries map[string]presence.ConnectionInfo
}

func NewPresenceCache() *PresenceCache {
	return &PresenceCache{entries: make(map[string]presence.ConnectionInfo)}
}

func (c *PresenceCache) Set(_ context.Context, userID string, info presence.ConnectionInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = info
	return nil
}

func (c *PresenceCache) Fetch(_ context.Context, userID string) (*presence.ConnectionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.entries[userID]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func (c *PresenceCache) Delete(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}

// --- Match queue ---

type MatchQueue struct {
	mu      sync.Mutex
	members map[string]struct{}
}

func NewMatchQueue() *MatchQueue {
	return &MatchQueue{members: make(map[string]struct{})}
}

func (q *MatchQueue) Join(_ context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.members[userID] = struct{}{}
	return nil
}

func (q *MatchQueue) Leave(_ context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.members, userID)
	return nil
}

func (q *MatchQueue) Contains(_ context.Context, userID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[userID]
	return ok, nil
}

func (q *MatchQueue) Size(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.members)), nil
}

// --- User reader ---

// UserReader serves canned profiles keyed by user ID. Unknown users get a
// complete profile so local-mode clients pass the readiness gate.
type UserReader struct {
	mu       sync.Mutex
	profiles map[string]api.Profile
}

func NewUserReader() *UserReader {
	return &UserReader{profiles: make(map[string]api.Profile)}
}

func (u *UserReader) SetProfile(p api.Profile) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.profiles[p.ID] = p
}

func (u *UserReader) GetProfile(_ context.Context, userID string) (*api.Profile, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if p, ok := u.profiles[userID]; ok {
		return &p, nil
	}
	return &api.Profile{
		ID:        userID,
		SelfieURL: "https://cdn.local.invalid/selfies/" + userID + ".jpg",
		VideoURL:  "https://cdn.local.invalid/videos/" + userID + ".mp4",
	}, nil
}
