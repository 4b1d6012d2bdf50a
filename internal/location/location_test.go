package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- Test doubles ---

type memStore struct {
	records map[string]Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (s *memStore) Get(_ context.Context, userID string) (*Record, error) {
	rec, ok := s.records[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memStore) Upsert(_ context.Context, rec Record) error {
	s.records[rec.UserID] = rec
	return nil
}

func (s *memStore) Delete(_ context.Context, userID string) error {
	delete(s.records, userID)
	return nil
}

func (s *memStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishSuspectMovement(ctx context.Context, ev SuspectMovement) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type locationFixture struct {
	store     *memStore
	publisher *mockPublisher
	svc       *Service
	clock     time.Time
}

func setup(t *testing.T) *locationFixture {
	t.Helper()
	fx := &locationFixture{
		store:     newMemStore(),
		publisher: new(mockPublisher),
		clock:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(fx.store, fx.publisher, Config{}, zerolog.Nop())
	require.NoError(t, err)
	svc.now = func() time.Time { return fx.clock }
	fx.svc = svc
	return fx
}

func (fx *locationFixture) advance(d time.Duration) {
	fx.clock = fx.clock.Add(d)
}

func ptr(v float64) *float64 { return &v }

// --- Tests ---

func TestService_Update_Validation(t *testing.T) {
	testCases := []struct {
		name string
		in   UpdateInput
	}{
		{"latitude missing", UpdateInput{Longitude: ptr(10)}},
		{"longitude missing", UpdateInput{Latitude: ptr(10)}},
		{"latitude out of range", UpdateInput{Latitude: ptr(91), Longitude: ptr(0)}},
		{"latitude below range", UpdateInput{Latitude: ptr(-90.1), Longitude: ptr(0)}},
		{"longitude out of range", UpdateInput{Latitude: ptr(0), Longitude: ptr(180.5)}},
		{"negative accuracy", UpdateInput{Latitude: ptr(0), Longitude: ptr(0), Accuracy: ptr(-1)}},
		{"accuracy too large", UpdateInput{Latitude: ptr(0), Longitude: ptr(0), Accuracy: ptr(60000)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fx := setup(t)
			err := fx.svc.Update(context.Background(), "user-1", tc.in)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Empty(t, fx.store.records, "rejected updates must not be persisted")
		})
	}
}

func TestService_Update_BoundaryValuesAccepted(t *testing.T) {
	fx := setup(t)
	err := fx.svc.Update(context.Background(), "user-1", UpdateInput{
		Latitude:  ptr(-90),
		Longitude: ptr(180),
		Accuracy:  ptr(50000),
	})
	require.NoError(t, err)
	assert.Len(t, fx.store.records, 1)
}

func TestService_Update_RoundsCoordinates(t *testing.T) {
	fx := setup(t)
	err := fx.svc.Update(context.Background(), "user-1", UpdateInput{
		Latitude:  ptr(34.01805),
		Longitude: ptr(-118.28925),
	})
	require.NoError(t, err)

	rec := fx.store.records["user-1"]
	assert.Equal(t, 34.018, rec.Latitude)
	assert.Equal(t, -118.289, rec.Longitude)
	assert.Equal(t, fx.clock.Add(24*time.Hour), rec.ExpiresAt)
}

func TestService_Update_RateLimited(t *testing.T) {
	fx := setup(t)
	in := UpdateInput{Latitude: ptr(50), Longitude: ptr(8)}

	require.NoError(t, fx.svc.Update(context.Background(), "user-1", in))

	fx.advance(10 * time.Second)
	err := fx.svc.Update(context.Background(), "user-1", in)

	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 50*time.Second, rlErr.RetryAfter)

	// Another user is unaffected.
	require.NoError(t, fx.svc.Update(context.Background(), "user-2", in))

	// After the window the original user may update again.
	fx.advance(51 * time.Second)
	require.NoError(t, fx.svc.Update(context.Background(), "user-1", in))
}

func TestService_Update_RejectionsDoNotAdvanceRateWindow(t *testing.T) {
	fx := setup(t)

	// An invalid update first: it must not start the window.
	err := fx.svc.Update(context.Background(), "user-1", UpdateInput{Latitude: ptr(95), Longitude: ptr(0)})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	require.NoError(t, fx.svc.Update(context.Background(), "user-1", UpdateInput{Latitude: ptr(50), Longitude: ptr(8)}))

	// A rate-limited attempt must not push the window further out.
	fx.advance(30 * time.Second)
	var rlErr *RateLimitError
	require.ErrorAs(t, fx.svc.Update(context.Background(), "user-1", UpdateInput{Latitude: ptr(50), Longitude: ptr(8)}), &rlErr)

	fx.advance(30 * time.Second)
	require.NoError(t, fx.svc.Update(context.Background(), "user-1", UpdateInput{Latitude: ptr(50), Longitude: ptr(8)}))
}

func TestService_Update_NoDetectionOutsideWindow(t *testing.T) {
	fx := setup(t)
	require.NoError(t, fx.svc.Update(context.Background(), "user-1", UpdateInput{
		Latitude:  ptr(34.000),
		Longitude: ptr(-118.000),
	}))

	// A huge jump 61s later sits outside the 60s detection window: the
	// implied speed is no longer meaningful and nothing is published.
	fx.advance(61 * time.Second)
	require.NoError(t, fx.svc.Update(context.Background(), "user-1", UpdateInput{
		Latitude:  ptr(35.000),
		Longitude: ptr(-118.000),
	}))
	fx.publisher.AssertNotCalled(t, "PublishSuspectMovement", mock.Anything, mock.Anything)
	assert.Equal(t, 35.000, fx.store.records["user-1"].Latitude)
}

func TestService_Update_SpoofDetectionInsideWindow(t *testing.T) {
	fx := setup(t)
	svc, err := NewService(fx.store, fx.publisher, Config{RateLimitWindow: time.Second}, zerolog.Nop())
	require.NoError(t, err)
	svc.now = func() time.Time { return fx.clock }

	require.NoError(t, svc.Update(context.Background(), "user-1", UpdateInput{
		Latitude:  ptr(34.000),
		Longitude: ptr(-118.000),
	}))

	fx.publisher.On("PublishSuspectMovement", mock.Anything, mock.MatchedBy(func(ev SuspectMovement) bool {
		return ev.UserID == "user-1" && ev.SpeedMPS > 250 && ev.ElapsedSeconds == 10
	})).Return(nil).Once()

	// ~3.3km in 10s: roughly 333 m/s.
	fx.advance(10 * time.Second)
	require.NoError(t, svc.Update(context.Background(), "user-1", UpdateInput{
		Latitude:  ptr(34.030),
		Longitude: ptr(-118.000),
	}))

	fx.publisher.AssertExpectations(t)
	// Fail-open: the suspicious update is still the stored record.
	assert.Equal(t, 34.030, fx.store.records["user-1"].Latitude)
}

func TestService_Update_PublisherFailureDoesNotBlockUpdate(t *testing.T) {
	fx := setup(t)
	svc, err := NewService(fx.store, fx.publisher, Config{RateLimitWindow: time.Second}, zerolog.Nop())
	require.NoError(t, err)
	svc.now = func() time.Time { return fx.clock }

	require.NoError(t, svc.Update(context.Background(), "user-1", UpdateInput{
		Latitude:  ptr(34.000),
		Longitude: ptr(-118.000),
	}))

	fx.publisher.On("PublishSuspectMovement", mock.Anything, mock.Anything).
		Return(errors.New("broker down")).Once()

	fx.advance(10 * time.Second)
	require.NoError(t, svc.Update(context.Background(), "user-1", UpdateInput{
		Latitude:  ptr(34.030),
		Longitude: ptr(-118.000),
	}), "a failing detection pipeline must never reject the update")
}

func TestService_ClearIsIdempotent(t *testing.T) {
	fx := setup(t)
	require.NoError(t, fx.svc.Update(context.Background(), "user-1", UpdateInput{
		Latitude:  ptr(50),
		Longitude: ptr(8),
	}))

	require.NoError(t, fx.svc.Clear(context.Background(), "user-1"))
	assert.Empty(t, fx.store.records)
	require.NoError(t, fx.svc.Clear(context.Background(), "user-1"), "clearing a missing record succeeds")
}

func TestService_GetStatus(t *testing.T) {
	fx := setup(t)

	status, err := fx.svc.GetStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, status.Active)

	require.NoError(t, fx.svc.Update(context.Background(), "user-1", UpdateInput{
		Latitude:  ptr(50),
		Longitude: ptr(8),
	}))

	fx.advance(time.Hour)
	status, err = fx.svc.GetStatus(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, status.Active)
	assert.Equal(t, 23*time.Hour, status.ExpiresIn)
	require.NotNil(t, status.UpdatedAt)

	// Past expiry the record reads as inactive even before the sweep runs.
	fx.advance(24 * time.Hour)
	status, err = fx.svc.GetStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, status.Active)
}

func TestService_SweepExpired(t *testing.T) {
	fx := setup(t)
	require.NoError(t, fx.svc.Update(context.Background(), "user-1", UpdateInput{Latitude: ptr(50), Longitude: ptr(8)}))
	fx.advance(2 * time.Minute)
	require.NoError(t, fx.svc.Update(context.Background(), "user-2", UpdateInput{Latitude: ptr(51), Longitude: ptr(9)}))

	// Only user-1 is past expiry.
	fx.advance(24*time.Hour - time.Minute)
	n, err := fx.svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, fx.store.records, "user-2")
	assert.NotContains(t, fx.store.records, "user-1")
}

func TestRoundCoordinate(t *testing.T) {
	assert.Equal(t, 34.018, roundCoordinate(34.01805))
	assert.Equal(t, -118.289, roundCoordinate(-118.28925))
	assert.Equal(t, 0.0, roundCoordinate(0.0004))
	assert.Equal(t, 0.001, roundCoordinate(0.0006))
}

func TestHaversine(t *testing.T) {
	// One degree of latitude is about 111.2km.
	d := haversine(34.0, -118.0, 35.0, -118.0)
	assert.InDelta(t, 111195, d, 100)

	assert.Zero(t, haversine(34.0, -118.0, 34.0, -118.0))
}
