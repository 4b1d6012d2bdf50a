package sweeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-presence-service/internal/location"
	"github.com/tinywideclouds/go-presence-service/internal/sweeper"
	"github.com/tinywideclouds/go-presence-service/internal/test/fakes"
)

func seedExpiredRecord(t *testing.T, store *fakes.LocationStore, userID string) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), location.Record{
		UserID:    userID,
		Latitude:  50,
		Longitude: 8,
		UpdatedAt: time.Now().Add(-25 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}))
}

func TestSweeper_RunDeletesExpired(t *testing.T) {
	logger := zerolog.Nop()
	store := fakes.NewLocationStore(logger)
	svc, err := location.NewService(store, nil, location.Config{}, logger)
	require.NoError(t, err)

	seedExpiredRecord(t, store, "expired-user")
	require.NoError(t, store.Upsert(context.Background(), location.Record{
		UserID:    "fresh-user",
		Latitude:  51,
		Longitude: 9,
		UpdatedAt: time.Now(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}))

	s, err := sweeper.NewSweeper(svc, "", logger)
	require.NoError(t, err)

	s.Run()

	gone, err := store.Get(context.Background(), "expired-user")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := store.Get(context.Background(), "fresh-user")
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestSweeper_ScheduledSweep(t *testing.T) {
	logger := zerolog.Nop()
	store := fakes.NewLocationStore(logger)
	svc, err := location.NewService(store, nil, location.Config{}, logger)
	require.NoError(t, err)

	seedExpiredRecord(t, store, "expired-user")

	s, err := sweeper.NewSweeper(svc, "@every 100ms", logger)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		rec, err := store.Get(context.Background(), "expired-user")
		return err == nil && rec == nil
	}, 5*time.Second, 20*time.Millisecond, "scheduled sweep never ran")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestSweeper_RejectsBadSpec(t *testing.T) {
	logger := zerolog.Nop()
	store := fakes.NewLocationStore(logger)
	svc, err := location.NewService(store, nil, location.Config{}, logger)
	require.NoError(t, err)

	s, err := sweeper.NewSweeper(svc, "not a cron spec", logger)
	require.NoError(t, err)
	assert.Error(t, s.Start(), "an invalid spec must fail at schedule time")
}

func TestSweeper_NilService(t *testing.T) {
	_, err := sweeper.NewSweeper(nil, "", zerolog.Nop())
	assert.Error(t, err)
}
