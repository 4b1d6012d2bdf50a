package presenceclient

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

// --- Mocks ---

type mockConn struct {
	mock.Mock
	events chan Event
}

func newMockConn() *mockConn {
	return &mockConn{events: make(chan Event, 8)}
}

func (m *mockConn) State() State {
	args := m.Called()
	return args.Get(0).(State)
}
func (m *mockConn) Send(ctx context.Context, event string, payload any) error {
	args := m.Called(ctx, event, payload)
	return args.Error(0)
}
func (m *mockConn) Events() <-chan Event { return m.events }

type stubProfiles struct {
	complete bool
	err      error
	calls    int
}

func (s *stubProfiles) ProfileComplete(_ context.Context) (bool, error) {
	s.calls++
	return s.complete, s.err
}

type queueFixture struct {
	conn     *mockConn
	monitor  *ActivityMonitor
	profiles *stubProfiles
	qc       *QueueController
}

func setupQueue(t *testing.T, cfg QueueConfig) *queueFixture {
	t.Helper()
	conn := newMockConn()
	monitor := NewActivityMonitor(ActivityConfig{
		IdleWindow:   time.Hour,
		PollInterval: time.Hour,
		GracePeriod:  time.Hour,
	}, zerolog.Nop())
	profiles := &stubProfiles{complete: true}

	qc := NewQueueController(conn, monitor, profiles, cfg, zerolog.Nop())
	t.Cleanup(qc.Close)

	return &queueFixture{conn: conn, monitor: monitor, profiles: profiles, qc: qc}
}

// --- Tests ---

func TestQueueController_JoinHappyPath(t *testing.T) {
	fx := setupQueue(t, QueueConfig{})
	fx.conn.On("State").Return(StateOpen)
	fx.conn.On("Send", mock.Anything, "queue:join", nil).Return(nil).Once()
	fx.conn.On("Send", mock.Anything, "queue:leave", nil).Return(nil).Maybe() // teardown leave

	require.NoError(t, fx.qc.Join(context.Background(), PrimarySurface))

	assert.True(t, fx.qc.Member())
	fx.conn.AssertCalled(t, "Send", mock.Anything, "queue:join", nil)
}

func TestQueueController_JoinRefusedWhenNotOpen(t *testing.T) {
	fx := setupQueue(t, QueueConfig{})
	fx.conn.On("State").Return(StateDegraded)

	require.NoError(t, fx.qc.Join(context.Background(), PrimarySurface))

	assert.False(t, fx.qc.Member())
	assert.Zero(t, fx.profiles.calls, "profile must not be fetched when the connection is unusable")
	fx.conn.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueueController_JoinRefusedWhileHidden(t *testing.T) {
	fx := setupQueue(t, QueueConfig{})
	fx.conn.On("State").Return(StateOpen)
	fx.monitor.SetVisible(false)

	require.NoError(t, fx.qc.Join(context.Background(), PrimarySurface))

	assert.False(t, fx.qc.Member())
	fx.conn.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueueController_BackgroundSurfaceNeedsFlag(t *testing.T) {
	fx := setupQueue(t, QueueConfig{BackgroundEnabled: func() bool { return false }})
	fx.conn.On("State").Return(StateOpen)

	require.NoError(t, fx.qc.Join(context.Background(), "/profile"))
	assert.False(t, fx.qc.Member(), "background surfaces are gated behind the flag")

	// The primary surface ignores the flag.
	fx.conn.On("Send", mock.Anything, "queue:join", nil).Return(nil).Once()
	fx.conn.On("Send", mock.Anything, "queue:leave", nil).Return(nil).Maybe() // teardown leave
	require.NoError(t, fx.qc.Join(context.Background(), PrimarySurface))
	assert.True(t, fx.qc.Member())
}

func TestQueueController_BackgroundSurfaceWithFlag(t *testing.T) {
	fx := setupQueue(t, QueueConfig{BackgroundEnabled: func() bool { return true }})
	fx.conn.On("State").Return(StateOpen)
	fx.conn.On("Send", mock.Anything, "queue:join", nil).Return(nil).Once()
	fx.conn.On("Send", mock.Anything, "queue:leave", nil).Return(nil).Maybe() // teardown leave

	require.NoError(t, fx.qc.Join(context.Background(), "/profile"))
	assert.True(t, fx.qc.Member())
}

func TestQueueController_IncompleteProfileRefusedSilently(t *testing.T) {
	fx := setupQueue(t, QueueConfig{})
	fx.conn.On("State").Return(StateOpen)
	fx.profiles.complete = false

	require.NoError(t, fx.qc.Join(context.Background(), PrimarySurface), "an incomplete profile is not an error")

	assert.False(t, fx.qc.Member())
	assert.Equal(t, 1, fx.profiles.calls)
	fx.conn.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueueController_ProfileFetchFailureFailsClosed(t *testing.T) {
	fx := setupQueue(t, QueueConfig{})
	fx.conn.On("State").Return(StateOpen)
	fx.profiles.err = errors.New("backend unavailable")

	require.NoError(t, fx.qc.Join(context.Background(), PrimarySurface))

	assert.False(t, fx.qc.Member(), "an unverifiable profile must not join")
	fx.conn.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueueController_LeaveIsIdempotent(t *testing.T) {
	fx := setupQueue(t, QueueConfig{})
	fx.conn.On("State").Return(StateOpen)
	fx.conn.On("Send", mock.Anything, "queue:join", nil).Return(nil).Once()
	fx.conn.On("Send", mock.Anything, "queue:leave", nil).Return(nil).Once()

	require.NoError(t, fx.qc.Join(context.Background(), PrimarySurface))
	require.NoError(t, fx.qc.Leave(context.Background()))
	assert.False(t, fx.qc.Member())

	// Second leave sends nothing.
	require.NoError(t, fx.qc.Leave(context.Background()))
	fx.conn.AssertNumberOfCalls(t, "Send", 2)
}

func TestQueueController_LeaveToleratesClosedConnection(t *testing.T) {
	fx := setupQueue(t, QueueConfig{})
	fx.conn.On("State").Return(StateOpen)
	fx.conn.On("Send", mock.Anything, "queue:join", nil).Return(nil).Once()
	fx.conn.On("Send", mock.Anything, "queue:leave", nil).Return(ErrNotOpen).Once()

	require.NoError(t, fx.qc.Join(context.Background(), PrimarySurface))
	require.NoError(t, fx.qc.Leave(context.Background()), "a dead transport does not fail an explicit leave")
	assert.False(t, fx.qc.Member())
}

func TestQueueController_IdleSignalLeavesQueue(t *testing.T) {
	fx := setupQueue(t, QueueConfig{})
	fx.conn.On("State").Return(StateOpen)
	fx.conn.On("Send", mock.Anything, "queue:join", nil).Return(nil).Once()
	fx.conn.On("Send", mock.Anything, "queue:leave", nil).Return(nil).Once()

	require.NoError(t, fx.qc.Join(context.Background(), PrimarySurface))

	fx.monitor.emit(SignalIdle)

	require.Eventually(t, func() bool {
		return !fx.qc.Member()
	}, 2*time.Second, 10*time.Millisecond, "idle signal did not trigger a leave")
	fx.conn.AssertCalled(t, "Send", mock.Anything, "queue:leave", nil)
}

func TestQueueController_ConnectionLossDropsMembershipWithoutSend(t *testing.T) {
	fx := setupQueue(t, QueueConfig{})
	fx.conn.On("State").Return(StateOpen)
	fx.conn.On("Send", mock.Anything, "queue:join", nil).Return(nil).Once()

	require.NoError(t, fx.qc.Join(context.Background(), PrimarySurface))

	fx.conn.events <- Event{Kind: EventClosed, Reason: "transport lost"}

	require.Eventually(t, func() bool {
		return !fx.qc.Member()
	}, 2*time.Second, 10*time.Millisecond, "membership survived the connection loss")
	// The server already dropped us; no queue:leave goes over the wire.
	fx.conn.AssertNotCalled(t, "Send", mock.Anything, "queue:leave", mock.Anything)
}
