// Package timer defines the scheduling seam the dispatcher consumes: a
// single interface for "run this after N ms" and "cancel that". The host
// runtime normally supplies its own single-threaded cooperative
// scheduler; Clock below is only a reference implementation used by the
// CLI demo and the test suite.
package timer

import (
	"sync"
	"time"
)

// Handle identifies a scheduled callback so it can later be cancelled.
// Cancelling an already-fired or already-cancelled handle is a no-op.
type Handle interface{}

// Scheduler is the adapter the dispatcher talks to. It never owns retry or
// durability semantics: a dropped tick is lost, per NON-GOALS.
type Scheduler interface {
	Schedule(delayMS int, cb func()) Handle
	Cancel(h Handle)
}

// Clock is a goroutine-backed reference Scheduler. It exists so this module
// can be exercised end to end without a host runtime; it is not part of the
// core dispatch algorithm, which only ever talks to the Scheduler interface.
type Clock struct {
	mu      sync.Mutex
	timers  map[*clockHandle]*time.Timer
	nextSeq uint64
}

type clockHandle struct {
	seq uint64
}

// NewClock constructs a ready-to-use reference Scheduler.
func NewClock() *Clock {
	return &Clock{timers: make(map[*clockHandle]*time.Timer)}
}

// Schedule arms a one-shot timer. cb runs on its own goroutine when it
// fires; callers that need single-threaded semantics (the dispatcher does)
// must serialize their own re-entry, which internal/dispatch does via its
// execution mutex.
func (c *Clock) Schedule(delayMS int, cb func()) Handle {
	h := &clockHandle{}

	c.mu.Lock()
	c.nextSeq++
	h.seq = c.nextSeq
	d := time.Duration(delayMS) * time.Millisecond
	if d < 0 {
		d = 0
	}
	t := time.AfterFunc(d, func() {
		c.mu.Lock()
		_, stillPending := c.timers[h]
		delete(c.timers, h)
		c.mu.Unlock()
		if stillPending {
			cb()
		}
	})
	c.timers[h] = t
	c.mu.Unlock()

	return h
}

// Cancel stops a pending timer. Unknown, nil or already-fired handles are
// silently ignored; cancellation has no error channel.
func (c *Clock) Cancel(h Handle) {
	ch, ok := h.(*clockHandle)
	if !ok || ch == nil {
		return
	}

	c.mu.Lock()
	t, ok := c.timers[ch]
	if ok {
		delete(c.timers, ch)
	}
	c.mu.Unlock()

	if ok {
		t.Stop()
	}
}

// Sleep is the cooperative brief-yield primitive: the dispatcher uses it
// to let a just-flushed combo settle before firing the next action. It is
// a thin, named wrapper rather than a bare time.Sleep call so call sites
// read as an intentional cooperative yield.
func Sleep(d time.Duration) {
	time.Sleep(d)
}
