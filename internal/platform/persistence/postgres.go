// Package persistence provides the Postgres-backed stores for location
// records and the minimal user read surface this service needs.
//
// Expected schema:
//
//	CREATE TABLE user_locations (
//	    user_id    TEXT PRIMARY KEY,
//	    latitude   DOUBLE PRECISION NOT NULL,
//	    longitude  DOUBLE PRECISION NOT NULL,
//	    accuracy   DOUBLE PRECISION,
//	    updated_at TIMESTAMPTZ NOT NULL,
//	    expires_at TIMESTAMPTZ NOT NULL
//	);
//
//	-- columns read/written on users: selfie_url, video_url,
//	-- location_consent, location_last_shared
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-presence-service/internal/api"
	"github.com/tinywideclouds/go-presence-service/internal/location"
)

// PostgresLocationStore implements location.Store on a pgx connection pool.
type PostgresLocationStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresLocationStore is the constructor for the Postgres location store.
func NewPostgresLocationStore(pool *pgxpool.Pool, logger zerolog.Logger) (*PostgresLocationStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool cannot be nil")
	}
	return &PostgresLocationStore{
		pool:   pool,
		logger: logger.With().Str("component", "PostgresLocationStore").Logger(),
	}, nil
}

// Get returns the user's record, or nil when none exists. It returns an
// error only for database failures, not for missing rows.
func (s *PostgresLocationStore) Get(ctx context.Context, userID string) (*location.Record, error) {
	const q = `
		SELECT latitude, longitude, accuracy, updated_at, expires_at
		FROM user_locations
		WHERE user_id = $1`

	rec := location.Record{UserID: userID}
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&rec.Latitude, &rec.Longitude, &rec.Accuracy, &rec.UpdatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query location: %w", err)
	}
	return &rec, nil
}

// Upsert writes the record in a single insert-or-update statement, so
// concurrent updates for the same user cannot interleave into a lost
// update, and flips the user's consent flag on in the same transaction.
func (s *PostgresLocationStore) Upsert(ctx context.Context, rec location.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `
		INSERT INTO user_locations (user_id, latitude, longitude, accuracy, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			latitude   = EXCLUDED.latitude,
			longitude  = EXCLUDED.longitude,
			accuracy   = EXCLUDED.accuracy,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at`
	if _, err := tx.Exec(ctx, upsert,
		rec.UserID, rec.Latitude, rec.Longitude, rec.Accuracy, rec.UpdatedAt, rec.ExpiresAt,
	); err != nil {
		return fmt.Errorf("failed to upsert location: %w", err)
	}

	const consent = `
		UPDATE users
		SET location_consent = TRUE, location_last_shared = $2
		WHERE id = $1`
	if _, err := tx.Exec(ctx, consent, rec.UserID, rec.UpdatedAt); err != nil {
		return fmt.Errorf("failed to set location consent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit location upsert: %w", err)
	}
	return nil
}

// Delete removes the record and flips consent off. A missing record is not
// an error.
func (s *PostgresLocationStore) Delete(ctx context.Context, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM user_locations WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete location: %w", err)
	}
	const consent = `
		UPDATE users
		SET location_consent = FALSE, location_last_shared = NULL
		WHERE id = $1`
	if _, err := tx.Exec(ctx, consent, userID); err != nil {
		return fmt.Errorf("failed to clear location consent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit location delete: %w", err)
	}
	return nil
}

// DeleteExpired removes all rows past expiry and reports the count.
func (s *PostgresLocationStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_locations WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired locations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PostgresUserStore reads user profiles from the shared users table. It
// implements api.UserReader.
type PostgresUserStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresUserStore is the constructor for the Postgres user store.
func NewPostgresUserStore(pool *pgxpool.Pool, logger zerolog.Logger) (*PostgresUserStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool cannot be nil")
	}
	return &PostgresUserStore{
		pool:   pool,
		logger: logger.With().Str("component", "PostgresUserStore").Logger(),
	}, nil
}

// GetProfile returns the user's profile, or nil when the user does not exist.
func (s *PostgresUserStore) GetProfile(ctx context.Context, userID string) (*api.Profile, error) {
	const q = `
		SELECT id, COALESCE(selfie_url, ''), COALESCE(video_url, ''),
		       location_consent, location_last_shared
		FROM users
		WHERE id = $1`

	var p api.Profile
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&p.ID, &p.SelfieURL, &p.VideoURL, &p.LocationConsent, &p.LocationShared,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user profile: %w", err)
	}
	return &p, nil
}
