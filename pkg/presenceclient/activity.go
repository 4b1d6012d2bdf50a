package presenceclient

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Signal is an attentiveness-loss notification from the ActivityMonitor.
type Signal int

const (
	// SignalIdle means no input activity occurred within the idle window.
	SignalIdle Signal = iota
	// SignalAway means the tab stayed hidden or unfocused past the grace period.
	SignalAway
)

// ActivityConfig controls the attentiveness policy. Zero values fall back
// to the production defaults; tests compress them.
type ActivityConfig struct {
	// IdleWindow is how long without input before the user is idle. Default 5m.
	IdleWindow time.Duration
	// PollInterval is the idle check cadence. Default 30s.
	PollInterval time.Duration
	// GracePeriod is the allowance for short tab switches before the user
	// counts as away. Default 60s.
	GracePeriod time.Duration
}

func (c *ActivityConfig) applyDefaults() {
	if c.IdleWindow <= 0 {
		c.IdleWindow = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 60 * time.Second
	}
}

// ActivityMonitor derives an attentive-vs-away signal from three inputs:
// input activity, tab visibility, and window focus. The host UI feeds the
// inputs; the queue controller consumes the signals.
//
// Signals are only emitted while the monitor is engaged (queue membership
// active). At most one grace timer runs at a time: a second hide or blur
// while one is pending must not stack another.
type ActivityMonitor struct {
	cfg    ActivityConfig
	logger zerolog.Logger

	mu         sync.Mutex
	lastActive time.Time
	visible    bool
	focused    bool
	engaged    bool
	graceTimer *time.Timer

	signals chan Signal
	done    chan struct{}
	once    sync.Once
}

// NewActivityMonitor creates a monitor that considers the tab visible and
// focused until told otherwise. Start launches the idle poll.
func NewActivityMonitor(cfg ActivityConfig, logger zerolog.Logger) *ActivityMonitor {
	cfg.applyDefaults()
	return &ActivityMonitor{
		cfg:        cfg,
		logger:     logger.With().Str("component", "ActivityMonitor").Logger(),
		lastActive: time.Now(),
		visible:    true,
		focused:    true,
		signals:    make(chan Signal, 4),
		done:       make(chan struct{}),
	}
}

// Start launches the periodic idle check.
func (a *ActivityMonitor) Start() {
	go a.pollLoop()
}

// Signals returns the attentiveness-loss channel consumed by the controller.
func (a *ActivityMonitor) Signals() <-chan Signal {
	return a.signals
}

// RecordInput refreshes the last-active timestamp. Hosts call this from
// their input event taps.
func (a *ActivityMonitor) RecordInput() {
	a.mu.Lock()
	a.lastActive = time.Now()
	a.mu.Unlock()
}

// Visible reports whether the tab is currently visible.
func (a *ActivityMonitor) Visible() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visible
}

// SetVisible records a tab visibility change.
func (a *ActivityMonitor) SetVisible(visible bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.visible = visible
	a.attentionChangedLocked()
}

// SetFocused records a window focus change.
func (a *ActivityMonitor) SetFocused(focused bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.focused = focused
	a.attentionChangedLocked()
}

// SetEngaged tells the monitor whether queue membership is active. While
// disengaged no signals are emitted and any pending grace timer is dropped.
func (a *ActivityMonitor) SetEngaged(engaged bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engaged = engaged
	if !engaged {
		a.cancelGraceLocked()
	}
}

// attentionChangedLocked starts or cancels the grace timer after a
// visibility or focus flip. Callers hold a.mu.
func (a *ActivityMonitor) attentionChangedLocked() {
	if a.visible && a.focused {
		if a.graceTimer != nil {
			a.logger.Debug().Msg("Attention restored, grace period cancelled")
		}
		a.cancelGraceLocked()
		return
	}
	if !a.engaged || a.graceTimer != nil {
		// Not in the queue, or a grace timer is already pending.
		return
	}
	a.logger.Debug().Dur("grace", a.cfg.GracePeriod).Msg("Attention lost, starting grace period")
	a.graceTimer = time.AfterFunc(a.cfg.GracePeriod, a.graceExpired)
}

// graceExpired fires when the grace period elapses without attention being
// restored.
func (a *ActivityMonitor) graceExpired() {
	a.mu.Lock()
	a.graceTimer = nil
	away := a.engaged && !(a.visible && a.focused)
	a.mu.Unlock()
	if !away {
		return
	}
	a.logger.Info().Msg("Grace period expired, signalling away")
	a.emit(SignalAway)
}

func (a *ActivityMonitor) cancelGraceLocked() {
	if a.graceTimer != nil {
		a.graceTimer.Stop()
		a.graceTimer = nil
	}
}

func (a *ActivityMonitor) pollLoop() {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.mu.Lock()
			idle := a.engaged && time.Since(a.lastActive) > a.cfg.IdleWindow
			a.mu.Unlock()
			if idle {
				a.logger.Info().Dur("idle_window", a.cfg.IdleWindow).Msg("No input within idle window, signalling idle")
				a.emit(SignalIdle)
			}
		}
	}
}

func (a *ActivityMonitor) emit(sig Signal) {
	select {
	case a.signals <- sig:
	default:
		a.logger.Warn().Int("signal", int(sig)).Msg("Dropping attentiveness signal, consumer is behind")
	}
}

// Close stops the poll loop and cancels any pending grace timer. It is safe
// to call more than once.
func (a *ActivityMonitor) Close() {
	a.once.Do(func() {
		close(a.done)
		a.mu.Lock()
		a.cancelGraceLocked()
		a.mu.Unlock()
	})
}
