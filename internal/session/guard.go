package session

import "sync/atomic"

// Guard is the one-shot completion latch for a single instance. Submit,
// cancel, and the watchdog all race toward completion; only the first caller
// of MarkCompleted wins and may run terminal actions. This is purely local
// mutual exclusion, never a cross-process concern.
type Guard struct {
	completed atomic.Bool
}

// MarkCompleted returns true only on the first call.
func (g *Guard) MarkCompleted() bool {
	return g.completed.CompareAndSwap(false, true)
}

// Completed reports whether the latch has tripped.
func (g *Guard) Completed() bool {
	return g.completed.Load()
}
