// Package presenceclient implements the client side of the presence
// protocol: the managed connection, the activity monitor, and the queue
// membership controller.
package presenceclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-presence-service/pkg/presence"
)

// State is the lifecycle state of the managed connection.
type State int32

const (
	StateAbsent State = iota
	StateConnecting
	StateOpen
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// EventKind identifies a connection lifecycle event.
type EventKind int

const (
	// EventOpened fires when the transport is open and authenticated.
	EventOpened EventKind = iota
	// EventClosed fires when the transport is lost or torn down.
	EventClosed
	// EventAuthFailed fires when the application-level auth is rejected.
	// It is terminal for the connection attempt.
	EventAuthFailed
	// EventReconnecting fires before each automatic reconnect attempt.
	EventReconnecting
)

// Event is a typed lifecycle notification published to subscribers, so
// dependents never reach into transport internals.
type Event struct {
	Kind    EventKind
	Reason  string
	Attempt int
}

var (
	// ErrNotOpen is returned when a command is issued outside the Open state.
	ErrNotOpen = errors.New("connection is not open")
	// ErrAuthFailed is returned when the server rejects the auth frame.
	// Retrying the transport cannot help; the caller must obtain a new token.
	ErrAuthFailed = errors.New("application-level authentication failed")
	// ErrTornDown is returned after Disconnect has destroyed the connection.
	ErrTornDown = errors.New("connection manager is torn down")
)

// ConnectionConfig controls the managed connection. Zero values fall back to
// the production defaults.
type ConnectionConfig struct {
	// Endpoint is the websocket URL of the gateway (e.g. ws://host:port/connect).
	Endpoint string
	// DialTimeout bounds the transport open. Default 20s.
	DialTimeout time.Duration
	// AuthTimeout bounds the wait for the auth reply frame. Default 10s.
	AuthTimeout time.Duration
	// InitialBackoff is the first reconnect delay. Default 1s.
	InitialBackoff time.Duration
	// MaxBackoff caps the reconnect delay. Default 30s.
	MaxBackoff time.Duration
	// NetworkClass selects the initial heartbeat interval.
	NetworkClass presence.NetworkClass
	// HeartbeatOverride forces a fixed heartbeat interval regardless of
	// network class. Used by tests.
	HeartbeatOverride time.Duration
}

func (c *ConnectionConfig) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 20 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// ConnectionManager owns the single long-lived transport connection for a
// client session. It is the only writer of connection state: all lifecycle
// transitions happen behind its mutex, and the Connecting state doubles as
// the in-flight guard that prevents two racing callers from each dialing
// a socket.
type ConnectionManager struct {
	cfg    ConnectionConfig
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	token    string
	tornDown bool
	attempts int

	// writeMu serializes writes; gorilla connections support one
	// concurrent writer only.
	writeMu sync.Mutex

	hbStop chan struct{}

	subsMu sync.Mutex
	subs   []chan Event

	done chan struct{}
}

// NewConnectionManager creates a manager in the Absent state. Nothing is
// dialed until EnsureConnection is called.
func NewConnectionManager(cfg ConnectionConfig, logger zerolog.Logger) *ConnectionManager {
	cfg.applyDefaults()
	return &ConnectionManager{
		cfg:    cfg,
		logger: logger.With().Str("component", "ConnectionManager").Logger(),
		state:  StateAbsent,
		done:   make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events returns a channel of lifecycle events. Each call registers a new
// subscriber. Events are dropped for subscribers that fall behind rather
// than blocking the connection.
func (m *ConnectionManager) Events() <-chan Event {
	ch := make(chan Event, 16)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *ConnectionManager) publish(ev Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Warn().Int("kind", int(ev.Kind)).Msg("Dropping lifecycle event for slow subscriber")
		}
	}
}

// EnsureConnection makes sure a connection exists for the session token.
// It is idempotent: if a connection is Open it is reused unchanged; if one
// is Connecting or Degraded the in-flight instance is reused rather than a
// second transport being created. Only when no live or live-pending
// connection exists does it dial.
//
// Transport-level dial failures are not surfaced: the manager transitions
// to Degraded and keeps retrying in the background. An auth rejection is
// terminal and returned as ErrAuthFailed.
func (m *ConnectionManager) EnsureConnection(ctx context.Context, sessionToken string) error {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return ErrTornDown
	}
	switch m.state {
	case StateOpen:
		m.logger.Debug().Msg("Reusing open connection")
		m.mu.Unlock()
		return nil
	case StateConnecting, StateDegraded:
		m.logger.Debug().Str("state", m.state.String()).Msg("Reusing in-flight connection attempt")
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.token = sessionToken
	m.mu.Unlock()

	err := m.connect(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthFailed) {
		m.mu.Lock()
		m.state = StateAbsent
		m.mu.Unlock()
		m.publish(Event{Kind: EventAuthFailed, Reason: err.Error()})
		return err
	}

	// Transport failure: degrade and retry in the background.
	m.logger.Warn().Err(err).Msg("Initial connection attempt failed, entering degraded state")
	m.mu.Lock()
	m.state = StateDegraded
	m.mu.Unlock()
	go m.reconnectLoop()
	return nil
}

// connect dials the transport, performs the application-level auth exchange
// and, on success, commits the connection as Open.
func (m *ConnectionManager) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, m.cfg.Endpoint, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	if err := m.authenticate(conn); err != nil {
		_ = conn.Close()
		return err
	}

	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrTornDown
	}
	m.conn = conn
	m.state = StateOpen
	m.attempts = 0
	m.startHeartbeatLocked()
	m.mu.Unlock()

	go m.readLoop(conn)

	m.logger.Info().Msg("Connection open and authenticated")
	m.publish(Event{Kind: EventOpened})
	return nil
}

// authenticate runs the application-level auth handshake over a freshly
// opened transport. The transport handshake may have authenticated already;
// this step is deliberately independent of it.
func (m *ConnectionManager) authenticate(conn *websocket.Conn) error {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	frame, err := presence.NewFrame(presence.EventAuth, presence.AuthPayload{Token: token})
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to send auth frame: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(m.cfg.AuthTimeout)); err != nil {
		return fmt.Errorf("failed to set auth read deadline: %w", err)
	}
	var reply presence.Frame
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("failed to read auth reply: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("failed to clear read deadline: %w", err)
	}

	switch reply.Event {
	case presence.EventAuthSuccess:
		return nil
	case presence.EventAuthFailed:
		return ErrAuthFailed
	default:
		return fmt.Errorf("unexpected auth reply event %q", reply.Event)
	}
}

// readLoop drains inbound frames to detect transport loss. Server pushes
// outside the connection lifecycle are not this component's concern.
func (m *ConnectionManager) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			m.handleTransportClose(conn, err)
			return
		}
	}
}

// handleTransportClose reacts to a non-teardown transport loss: it degrades
// the connection and starts the background reconnect loop.
func (m *ConnectionManager) handleTransportClose(conn *websocket.Conn, cause error) {
	m.mu.Lock()
	if m.tornDown || m.conn != conn {
		// Explicit teardown, or a stale read loop from a replaced transport.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateDegraded
	m.stopHeartbeatLocked()
	m.mu.Unlock()

	m.logger.Warn().Err(cause).Msg("Transport lost, reconnecting")
	m.publish(Event{Kind: EventClosed, Reason: cause.Error()})
	go m.reconnectLoop()
}

// reconnectLoop retries the connection with exponential backoff until it
// succeeds, auth is rejected, or the manager is torn down.
func (m *ConnectionManager) reconnectLoop() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.InitialBackoff
	bo.MaxInterval = m.cfg.MaxBackoff
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0 // retry indefinitely, bounded only by teardown
	bo.Reset()

	for {
		delay := clampDelay(bo.NextBackOff(), m.cfg.InitialBackoff, m.cfg.MaxBackoff)

		m.mu.Lock()
		if m.tornDown || m.state != StateDegraded {
			m.mu.Unlock()
			return
		}
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		m.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Scheduling reconnect attempt")
		m.publish(Event{Kind: EventReconnecting, Attempt: attempt})

		select {
		case <-m.done:
			return
		case <-time.After(delay):
		}

		err := m.connect(context.Background())
		if err == nil {
			return
		}
		if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrTornDown) {
			m.mu.Lock()
			m.state = StateAbsent
			m.mu.Unlock()
			if errors.Is(err, ErrAuthFailed) {
				m.logger.Error().Int("attempt", attempt).Msg("Auth rejected during reconnect, giving up")
				m.publish(Event{Kind: EventAuthFailed, Reason: err.Error()})
			}
			return
		}
		m.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
	}
}

// clampDelay bounds a jittered backoff delay to [min, max]. The ±50% jitter
// may otherwise undershoot the initial interval.
func clampDelay(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// Send emits an event frame over the connection. Commands may only be sent
// in the Open state; Connecting and Degraded queue nothing.
func (m *ConnectionManager) Send(ctx context.Context, event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()
	if !open || conn == nil {
		return ErrNotOpen
	}

	frame, err := presence.NewFrame(event, payload)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to send %q: %w", event, err)
	}
	return nil
}

// SetNetworkClass updates the reported network class. While Open, the
// keep-alive timer is restarted so the new interval takes effect.
func (m *ConnectionManager) SetNetworkClass(nc presence.NetworkClass) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.NetworkClass == nc {
		return
	}
	m.cfg.NetworkClass = nc
	if m.state == StateOpen {
		m.logger.Info().Str("network_class", string(nc)).Msg("Network class changed, restarting keep-alive")
		m.stopHeartbeatLocked()
		m.startHeartbeatLocked()
	}
}

func (m *ConnectionManager) heartbeatInterval() time.Duration {
	if m.cfg.HeartbeatOverride > 0 {
		return m.cfg.HeartbeatOverride
	}
	return m.cfg.NetworkClass.HeartbeatInterval()
}

// startHeartbeatLocked launches the keep-alive ticker. Callers hold m.mu.
func (m *ConnectionManager) startHeartbeatLocked() {
	stop := make(chan struct{})
	m.hbStop = stop
	interval := m.heartbeatInterval()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-m.done:
				return
			case <-ticker.C:
				payload := presence.HeartbeatPayload{Timestamp: time.Now().UnixMilli()}
				if err := m.Send(context.Background(), presence.EventHeartbeat, payload); err != nil {
					if errors.Is(err, ErrNotOpen) {
						return
					}
					// A failed write on an Open connection means the
					// transport is broken. Tear it down now rather than
					// waiting for the read loop to notice.
					m.logger.Warn().Err(err).Msg("Heartbeat send failed, closing transport")
					m.mu.Lock()
					conn := m.conn
					m.mu.Unlock()
					if conn != nil {
						_ = conn.Close()
						m.handleTransportClose(conn, err)
					}
					return
				}
				m.logger.Debug().Msg("Heartbeat sent")
			}
		}
	}()
}

// stopHeartbeatLocked cancels the keep-alive ticker. Callers hold m.mu.
func (m *ConnectionManager) stopHeartbeatLocked() {
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
}

// Disconnect tears the connection down for good: it stops the keep-alive
// timer, closes the transport, and leaves the manager in Absent. This is
// the only path that destroys the connection and is reserved for session
// end, not ordinary navigation.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.tornDown = true
	m.stopHeartbeatLocked()
	conn := m.conn
	m.conn = nil
	m.state = StateAbsent
	close(m.done)
	m.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "teardown")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
	m.logger.Info().Msg("Connection torn down")
	m.publish(Event{Kind: EventClosed, Reason: "teardown"})
}
