package location

import (
	"math"
	"sync"
	"time"
)

// rateLimiter tracks the timestamp of each user's last accepted update.
// It is in-process and process-lifetime only: correct for a single-instance
// deployment, not distributed-safe. A horizontally-scaled deployment would
// need to move this to a shared keyed store.
type rateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

func newRateLimiter(window time.Duration) *rateLimiter {
	return &rateLimiter{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// check reports whether an update from the user may proceed. When blocked it
// returns a positive retry-after hint, rounded up to whole seconds.
func (r *rateLimiter) check(userID string, now time.Time) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.last[userID]
	if !ok {
		return 0, true
	}
	elapsed := now.Sub(last)
	if elapsed >= r.window {
		return 0, true
	}
	remaining := r.window - elapsed
	secs := math.Ceil(remaining.Seconds())
	return time.Duration(secs) * time.Second, false
}

// markAccepted records an accepted update. Only accepted updates advance the
// window; rejected ones leave it untouched.
func (r *rateLimiter) markAccepted(userID string, now time.Time) {
	r.mu.Lock()
	r.last[userID] = now
	r.mu.Unlock()
}
