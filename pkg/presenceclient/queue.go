package presenceclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-presence-service/pkg/presence"
)

// PrimarySurface is the matchmaking surface that may always join the queue,
// even while the background-queue feature flag is off.
const PrimarySurface = "/main"

// commandConn is the narrow slice of the ConnectionManager the controller
// needs. Membership commands go through it; lifecycle news arrives on Events.
type commandConn interface {
	State() State
	Send(ctx context.Context, event string, payload any) error
	Events() <-chan Event
}

// ProfileChecker reports whether the user's profile carries both required
// media assets. Implementations fetch the backend's user record.
type ProfileChecker interface {
	ProfileComplete(ctx context.Context) (bool, error)
}

// QueueConfig controls the membership controller.
type QueueConfig struct {
	// BackgroundEnabled reports the background-queue feature flag. When it
	// returns false only joins from the primary surface are allowed.
	BackgroundEnabled func() bool
	// ProfileTimeout bounds the profile-completeness fetch. Default 10s.
	ProfileTimeout time.Duration
}

// QueueController is the single writer of queue membership state. It
// reconciles signals from the connection manager and the activity monitor
// into one consistent member/non-member state; callers never toggle
// membership directly.
type QueueController struct {
	conn     commandConn
	monitor  *ActivityMonitor
	profiles ProfileChecker
	cfg      QueueConfig
	logger   zerolog.Logger

	mu     sync.Mutex
	member bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewQueueController wires the controller to its signal sources and starts
// the reconcile loop. Close must be called exactly once per instance to
// release the monitor listeners.
func NewQueueController(
	conn commandConn,
	monitor *ActivityMonitor,
	profiles ProfileChecker,
	cfg QueueConfig,
	logger zerolog.Logger,
) *QueueController {
	if cfg.ProfileTimeout <= 0 {
		cfg.ProfileTimeout = 10 * time.Second
	}
	c := &QueueController{
		conn:     conn,
		monitor:  monitor,
		profiles: profiles,
		cfg:      cfg,
		logger:   logger.With().Str("component", "QueueController").Logger(),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Member reports whether the client is currently registered in the queue.
func (c *QueueController) Member() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.member
}

// Join registers the client in the matchmaking queue if every precondition
// holds: an Open connection, a visible tab, the background flag or the
// primary surface, and a complete profile. A missing profile asset (or a
// failed profile fetch) is an expected, frequent condition: the join is
// silently refused rather than failed. The profile gate fails closed.
func (c *QueueController) Join(ctx context.Context, surface string) error {
	if c.conn.State() != StateOpen {
		c.logger.Debug().Msg("No usable connection, not joining queue")
		return nil
	}
	if !c.monitor.Visible() {
		c.logger.Debug().Msg("Tab hidden, not joining queue")
		return nil
	}
	if surface != PrimarySurface && (c.cfg.BackgroundEnabled == nil || !c.cfg.BackgroundEnabled()) {
		c.logger.Debug().Str("surface", surface).Msg("Background queue disabled off the primary surface, not joining")
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.ProfileTimeout)
	defer cancel()
	complete, err := c.profiles.ProfileComplete(fetchCtx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Profile check failed, not joining queue")
		return nil
	}
	if !complete {
		c.logger.Info().Msg("Profile incomplete, not joining queue")
		return nil
	}

	if err := c.conn.Send(ctx, presence.EventQueueJoin, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.member = true
	c.mu.Unlock()

	// A freshly joined queue must not be judged idle immediately.
	c.monitor.RecordInput()
	c.monitor.SetEngaged(true)
	c.logger.Info().Msg("Joined matchmaking queue")
	return nil
}

// Leave withdraws the client from the queue. It is idempotent: leaving
// while not a member is a no-op.
func (c *QueueController) Leave(ctx context.Context) error {
	c.mu.Lock()
	if !c.member {
		c.mu.Unlock()
		return nil
	}
	c.member = false
	c.mu.Unlock()

	c.monitor.SetEngaged(false)

	err := c.conn.Send(ctx, presence.EventQueueLeave, nil)
	if err != nil && !errors.Is(err, ErrNotOpen) {
		return err
	}
	c.logger.Info().Msg("Left matchmaking queue")
	return nil
}

// run reconciles attentiveness signals and connection lifecycle events into
// membership state.
func (c *QueueController) run() {
	events := c.conn.Events()
	for {
		select {
		case <-c.done:
			return
		case sig := <-c.monitor.Signals():
			switch sig {
			case SignalIdle:
				c.logger.Info().Msg("Idle signal received, leaving queue")
			case SignalAway:
				c.logger.Info().Msg("Away signal received, leaving queue")
			}
			if err := c.Leave(context.Background()); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to leave queue on attentiveness loss")
			}
		case ev := <-events:
			if ev.Kind != EventClosed {
				continue
			}
			// The server drops membership with the connection; mirror that
			// here without attempting a send on the dead transport.
			c.mu.Lock()
			wasMember := c.member
			c.member = false
			c.mu.Unlock()
			if wasMember {
				c.monitor.SetEngaged(false)
				c.logger.Info().Str("reason", ev.Reason).Msg("Connection lost, membership dropped")
			}
		}
	}
}

// Close tears the controller down: it stops the reconcile loop, forces a
// leave, and detaches the activity monitor. It runs exactly once.
func (c *QueueController) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.Leave(context.Background()); err != nil {
			c.logger.Warn().Err(err).Msg("Leave during teardown failed")
		}
		c.monitor.Close()
	})
}
