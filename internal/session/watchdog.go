package session

import (
	"context"
	"sync"
	"time"
)

// Watchdog states. A session starts awaiting its browser; the first page
// load or heartbeat connects it; loss of heartbeats past the grace period
// forces completion. A queued instance whose browser never opened stays in
// StateAwaitingConnection and is never penalized for silence.
type WatchdogState int

const (
	StateAwaitingConnection WatchdogState = iota
	StateConnected
	StateCompleted
)

// DefaultCheckInterval is how often the watchdog inspects the heartbeat
// clock; DefaultGrace is how long after the last heartbeat a connected
// session survives before being reclaimed.
const (
	DefaultCheckInterval = 5 * time.Second
	DefaultGrace         = 60 * time.Second
)

// Watchdog detects loss of the browser's liveness signal. The browser owes
// no "goodbye": a closed tab simply stops heartbeating, and the watchdog is
// the sole authority for reclaiming the session.
type Watchdog struct {
	interval time.Duration
	grace    time.Duration
	onStale  func()
	now      func() time.Time

	mu              sync.Mutex
	state           WatchdogState
	lastHeartbeatAt time.Time
}

// NewWatchdog builds a watchdog that invokes onStale once when the grace
// period elapses without a heartbeat. Non-positive durations fall back to
// the defaults.
func NewWatchdog(interval, grace time.Duration, onStale func()) *Watchdog {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Watchdog{
		interval: interval,
		grace:    grace,
		onStale:  onStale,
		now:      time.Now,
		state:    StateAwaitingConnection,
	}
}

// Run checks periodically until ctx is cancelled or the session completes.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.check() {
				return
			}
		}
	}
}

// Heartbeat records a liveness signal: the first one connects the session,
// later ones reset the clock. Ignored once completed.
func (w *Watchdog) Heartbeat() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateCompleted {
		return
	}
	w.state = StateConnected
	w.lastHeartbeatAt = w.now()
}

// Stop marks the session completed so no further check can fire. Called by
// whichever terminal path won the completion guard.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateCompleted
}

// State returns the current state.
func (w *Watchdog) State() WatchdogState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// check evaluates the heartbeat clock once. It returns true when the
// watchdog is done, either because it fired or because the session completed
// elsewhere. The stale callback runs outside the lock and at most once: the
// state flips to StateCompleted in the same critical section that decides to
// fire.
func (w *Watchdog) check() bool {
	w.mu.Lock()
	switch {
	case w.state == StateCompleted:
		w.mu.Unlock()
		return true
	case w.state == StateAwaitingConnection:
		w.mu.Unlock()
		return false
	case w.now().Sub(w.lastHeartbeatAt) <= w.grace:
		w.mu.Unlock()
		return false
	}
	w.state = StateCompleted
	w.mu.Unlock()

	if w.onStale != nil {
		w.onStale()
	}
	return true
}
