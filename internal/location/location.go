// Package location implements the location integrity service: privacy
// rounding, rate limiting, a movement-plausibility spoof heuristic, and
// expiring storage of user coordinates.
package location

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// precision of stored coordinates: three decimal degrees (~111m at the
	// equator). Full-precision coordinates are never persisted or compared.
	coordinateDecimals = 1000.0

	maxAccuracyMeters = 50000.0

	// spoofSpeedThreshold flags implied speeds beyond plausible ground
	// transit. Detection only; never an enforcement gate.
	spoofSpeedThreshold = 250.0 // m/s
	spoofWindow         = 60 * time.Second

	earthRadiusMeters = 6371000.0
)

// Record is a user's stored, privacy-rounded location. Exactly zero or one
// record exists per user.
type Record struct {
	UserID    string
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Status describes whether a non-expired record exists and its remaining
// time to live.
type Status struct {
	Active    bool
	UpdatedAt *time.Time
	ExpiresIn time.Duration
}

// UpdateInput is a raw coordinate update. Latitude and longitude are
// pointers so that absent fields are distinguishable from zero values.
type UpdateInput struct {
	Latitude  *float64
	Longitude *float64
	Accuracy  *float64
}

// SuspectMovement describes a physically implausible location jump. It is
// published for downstream review, never used to reject the update.
type SuspectMovement struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	FromLatitude   float64   `json:"fromLatitude"`
	FromLongitude  float64   `json:"fromLongitude"`
	ToLatitude     float64   `json:"toLatitude"`
	ToLongitude    float64   `json:"toLongitude"`
	DistanceMeters float64   `json:"distanceMeters"`
	ElapsedSeconds float64   `json:"elapsedSeconds"`
	SpeedMPS       float64   `json:"speedMps"`
	ObservedAt     time.Time `json:"observedAt"`
}

// Store persists location records with upsert semantics.
type Store interface {
	// Get returns the user's record, or nil when none exists.
	Get(ctx context.Context, userID string) (*Record, error)
	// Upsert inserts or replaces the user's record atomically and flips the
	// user's location consent flag on.
	Upsert(ctx context.Context, rec Record) error
	// Delete removes the user's record and flips consent off. Deleting a
	// missing record is not an error.
	Delete(ctx context.Context, userID string) error
	// DeleteExpired removes all records past their expiry and reports how
	// many were deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// DetectionPublisher forwards suspect-movement events to downstream review.
type DetectionPublisher interface {
	PublishSuspectMovement(ctx context.Context, ev SuspectMovement) error
}

// ValidationError reports malformed input. The update is rejected outright;
// values are never silently clamped.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// RateLimitError reports an update arriving before the per-user window has
// elapsed. RetryAfter tells the client when to try again.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("location update too frequent, retry in %s", e.RetryAfter)
}

// Config tunes the service. Zero values use production defaults.
type Config struct {
	// TTL is how long a record lives after its last update. Default 24h.
	TTL time.Duration
	// RateLimitWindow is the minimum spacing between accepted updates per
	// user. Default 60s.
	RateLimitWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = 60 * time.Second
	}
}

// Service is the location integrity core. It owns the in-process rate
// limiter; the store and detection publisher are injected.
type Service struct {
	store      Store
	detections DetectionPublisher
	limiter    *rateLimiter
	cfg        Config
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService creates the service. detections may be nil, in which case
// suspect movements are only logged.
func NewService(store Store, detections DetectionPublisher, cfg Config, logger zerolog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("location store cannot be nil")
	}
	cfg.applyDefaults()
	return &Service{
		store:      store,
		detections: detections,
		limiter:    newRateLimiter(cfg.RateLimitWindow),
		cfg:        cfg,
		logger:     logger.With().Str("component", "LocationService").Logger(),
		now:        time.Now,
	}, nil
}

// Update validates, rounds, and stores a coordinate update.
//
// Order of checks: rate limit, then input validation, then the spoof
// heuristic against the prior record. The spoof check fails open: a
// suspicious jump is logged and published but the update is still
// persisted, because legitimate edge cases (flights, clock skew) exist.
func (s *Service) Update(ctx context.Context, userID string, in UpdateInput) error {
	now := s.now()

	if retryAfter, ok := s.limiter.check(userID, now); !ok {
		s.logger.Debug().Str("user", userID).Dur("retry_after", retryAfter).Msg("Update rate limited")
		return &RateLimitError{RetryAfter: retryAfter}
	}

	if err := validate(in); err != nil {
		return err
	}

	lat := roundCoordinate(*in.Latitude)
	lon := roundCoordinate(*in.Longitude)

	prev, err := s.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load prior location: %w", err)
	}
	if prev != nil {
		s.checkMovement(ctx, userID, prev, lat, lon, now)
	}

	rec := Record{
		UserID:    userID,
		Latitude:  lat,
		Longitude: lon,
		Accuracy:  in.Accuracy,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("failed to store location: %w", err)
	}

	s.limiter.markAccepted(userID, now)
	s.logger.Info().Str("user", userID).Float64("lat", lat).Float64("lon", lon).Msg("Location updated")
	return nil
}

// checkMovement applies the spoof heuristic against the prior record.
func (s *Service) checkMovement(ctx context.Context, userID string, prev *Record, lat, lon float64, now time.Time) {
	distance := haversine(prev.Latitude, prev.Longitude, lat, lon)
	elapsed := now.Sub(prev.UpdatedAt)
	if elapsed <= 0 {
		return
	}
	speed := distance / elapsed.Seconds()
	if speed <= spoofSpeedThreshold || elapsed >= spoofWindow {
		return
	}

	s.logger.Warn().
		Str("user", userID).
		Float64("distance_m", math.Round(distance)).
		Dur("elapsed", elapsed).
		Float64("speed_mps", math.Round(speed)).
		Msg("Suspicious movement detected")

	if s.detections == nil {
		return
	}
	ev := SuspectMovement{
		ID:             uuid.NewString(),
		UserID:         userID,
		FromLatitude:   prev.Latitude,
		FromLongitude:  prev.Longitude,
		ToLatitude:     lat,
		ToLongitude:    lon,
		DistanceMeters: distance,
		ElapsedSeconds: elapsed.Seconds(),
		SpeedMPS:       speed,
		ObservedAt:     now,
	}
	// Best effort: review events must never break the update path.
	if err := s.detections.PublishSuspectMovement(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("user", userID).Msg("Failed to publish suspect movement event")
	}
}

// Clear removes the user's location. Clearing a missing record succeeds.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear location: %w", err)
	}
	s.logger.Info().Str("user", userID).Msg("Location cleared")
	return nil
}

// GetStatus reports whether a non-expired record exists and its remaining TTL.
func (s *Service) GetStatus(ctx context.Context, userID string) (Status, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("failed to load location status: %w", err)
	}
	now := s.now()
	if rec == nil || !rec.ExpiresAt.After(now) {
		return Status{}, nil
	}
	updatedAt := rec.UpdatedAt
	return Status{
		Active:    true,
		UpdatedAt: &updatedAt,
		ExpiresIn: rec.ExpiresAt.Sub(now),
	}, nil
}

// SweepExpired deletes all records past expiry. The hourly sweep is the
// sole garbage-collection path; reads do not eagerly expire.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expiry sweep failed: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("Expired locations swept")
	}
	return n, nil
}

func validate(in UpdateInput) error {
	if in.Latitude == nil || in.Longitude == nil {
		return &ValidationError{Reason: "latitude and longitude are required"}
	}
	if *in.Latitude < -90 || *in.Latitude > 90 {
		return &ValidationError{Reason: "latitude must be within [-90, 90]"}
	}
	if *in.Longitude < -180 || *in.Longitude > 180 {
		return &ValidationError{Reason: "longitude must be within [-180, 180]"}
	}
	if in.Accuracy != nil && (*in.Accuracy < 0 || *in.Accuracy > maxAccuracyMeters) {
		return &ValidationError{Reason: "accuracy must be within [0, 50000] meters"}
	}
	return nil
}

// roundCoordinate rounds to three decimal degrees before storage or
// comparison.
func roundCoordinate(v float64) float64 {
	return math.Round(v*coordinateDecimals) / coordinateDecimals
}

// haversine returns the great-circle distance in meters between two points.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}
