// Package decorate wraps a raw compiled effect with throttle/debounce
// behavior and, where applicable, automatic numeric context binding.
// Throttling is a token-bucket gate (one admission per window); debounce
// is a cancel-and-reschedule timer per input key.
package decorate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"inputdispatch/internal/obslog"
	"inputdispatch/internal/specparser"
	"inputdispatch/internal/timer"
)

// Effect is a discriminated union over action binding shapes: a raw
// action declares up front how it wants to receive data, decided once at
// categorization time rather than inspected per event.
type Effect struct {
	NoArgs        func()
	ContextFields []string // subset of specparser.NumericFields
	ContextFn     func(values map[string]*float64)
	VariableNames []string
	VariableFn    func(captures map[string]string)
}

// Context is the live numeric signal data the dispatcher refreshes on
// every incoming event. A nil field means the event's source did not
// supply that signal.
type Context struct {
	Power, F0, F1, F2, X, Y, Value *float64
}

func (c Context) asMap() map[string]*float64 {
	return map[string]*float64{
		"power": c.Power,
		"f0":    c.F0,
		"f1":    c.F1,
		"f2":    c.F2,
		"x":     c.X,
		"y":     c.Y,
		"value": c.Value,
	}
}

// Busy tracks the per-dispatcher shared mutable throttle/debounce state.
// Encapsulated in an instance, not a package-level singleton, so multiple
// dispatcher instances can coexist without contention. forced holds the
// chord-tail windows, kept apart from the per-entry throttle limiters so
// a forced window on a key never clobbers that key's own declared
// throttle.
type Busy struct {
	mu       sync.Mutex
	throttle map[string]*rate.Limiter
	debounce map[string]timer.Handle
	forced   map[string]*rate.Limiter
}

// NewBusy constructs empty throttle/debounce tables for one dispatcher
// instance.
func NewBusy() *Busy {
	return &Busy{
		throttle: make(map[string]*rate.Limiter),
		debounce: make(map[string]timer.Handle),
		forced:   make(map[string]*rate.Limiter),
	}
}

// WasThrottleBusy reports whether inputKey is currently inside a throttle
// window — its own declared one or a forced chord-tail one. Introspection
// for tests and hosts; the dispatch path itself gates through the wrapped
// closures below.
func (b *Busy) WasThrottleBusy(inputKey string) bool {
	if b.ForcedBusy(inputKey) {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	lim, ok := b.throttle[inputKey]
	return ok && lim.Tokens() < 1
}

// ForcedBusy reports whether inputKey is inside a chord-tail forced
// window. Every Wrap-produced closure checks this before running, so the
// suppression holds for undecorated actions too.
func (b *Busy) ForcedBusy(inputKey string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	lim, ok := b.forced[inputKey]
	return ok && lim.Tokens() < 1
}

// CancelDebounce cancels a pending debounce fire for id, if any, via
// sched, and reports whether one was cancelled. The dispatcher uses it
// when a fresh "<input>" start supersedes a scheduled "<input>_stop".
func (b *Busy) CancelDebounce(id string, sched timer.Scheduler) bool {
	b.mu.Lock()
	h, ok := b.debounce[id]
	if ok {
		delete(b.debounce, id)
	}
	b.mu.Unlock()
	if ok {
		sched.Cancel(h)
	}
	return ok
}

// ForceThrottle imposes a window on inputKey with no associated action —
// the chord-trailing-pair separation. The limiter recovers its token on
// its own once the window elapses, so no timer needs to be scheduled.
func (b *Busy) ForceThrottle(inputKey string, window time.Duration) {
	if window <= 0 {
		window = time.Millisecond
	}
	lim := rate.NewLimiter(rate.Every(window), 1)
	lim.Allow() // consume the single token so Tokens() < 1 immediately

	b.mu.Lock()
	b.forced[inputKey] = lim
	b.mu.Unlock()
}

// Wrap builds the invocable closure for a compiled action, given its
// parsed decorators and this dispatcher instance's shared Busy tables.
// inputKey identifies the throttle/debounce bucket (the base chain the
// descriptor was parsed from) — distinct from the action's display label,
// since two different chains could in principle share a label. ctxFn is
// read lazily at invocation time so it always reflects the dispatcher's
// current numeric context.
//
// The closure owns the whole invocation contract: a panicking effect is
// recovered and logged, and publish (if non-nil) runs only after the
// effect actually executed — so a throttle-suppressed call, a
// still-pending debounce, and a panicked effect all publish nothing.
func Wrap(inputKey, label string, eff Effect, d *specparser.Descriptor, busy *Busy, sched timer.Scheduler, ctxFn func() Context, publish func(input, label string)) func() {
	inner := buildInner(eff, ctxFn)

	fire := func() {
		if !invokeSafely(label, inner) {
			return
		}
		if publish != nil {
			publish(inputKey, label)
		}
	}

	fn := fire
	if d.Debounce != nil {
		fn = wrapDebounce(inputKey, fn, time.Duration(*d.Debounce)*time.Millisecond, busy, sched)
	}
	if d.Throttle != nil {
		fn = wrapThrottle(inputKey, fn, time.Duration(*d.Throttle)*time.Millisecond, busy)
	}

	return func() {
		if busy.ForcedBusy(inputKey) {
			return
		}
		fn()
	}
}

func buildInner(eff Effect, ctxFn func() Context) func() {
	switch {
	case eff.ContextFn != nil:
		return func() { eff.ContextFn(ctxFn().asMap()) }
	case eff.VariableFn != nil:
		// Variable-capturing actions bind to chain tokens, not context
		// fields; the dispatcher calls them through WrapVariable with
		// captures and never routes them through Wrap's zero-arg path.
		// Wrap still needs a sensible no-op fallback so a mis-wired
		// descriptor degrades to silence instead of a nil panic.
		return func() {}
	case eff.NoArgs != nil:
		return eff.NoArgs
	default:
		return func() {}
	}
}

// invokeSafely runs fn, recovering and logging a panic from user action
// code. Returns whether fn completed, which callers use to withhold the
// event publication for a failed effect.
func invokeSafely(label string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			obslog.Errorf("action %q panicked: %v", label, r)
			ok = false
		}
	}()
	fn()
	return true
}

// wrapThrottle gates fn behind a token-bucket limiter: at most one call
// admitted per window. A rate.Limiter configured for one token per window
// with a burst of 1 gives exactly that admit-then-cool-down shape.
func wrapThrottle(inputKey string, fn func(), window time.Duration, busy *Busy) func() {
	if window <= 0 {
		window = time.Millisecond
	}
	lim := rate.NewLimiter(rate.Every(window), 1)

	busy.mu.Lock()
	busy.throttle[inputKey] = lim
	busy.mu.Unlock()

	return func() {
		if !lim.Allow() {
			return
		}
		fn()
	}
}

// wrapDebounce cancels any prior pending fire for inputKey and
// reschedules a new one window ms out, driven through the injectable
// timer.Scheduler rather than time.AfterFunc so a host scheduler stays in
// control of all timing.
func wrapDebounce(inputKey string, fn func(), window time.Duration, busy *Busy, sched timer.Scheduler) func() {
	return func() {
		busy.mu.Lock()
		if prev, ok := busy.debounce[inputKey]; ok {
			sched.Cancel(prev)
		}
		h := sched.Schedule(int(window/time.Millisecond), func() {
			busy.mu.Lock()
			delete(busy.debounce, inputKey)
			busy.mu.Unlock()
			fn()
		})
		busy.debounce[inputKey] = h
		busy.mu.Unlock()
	}
}

// WrapVariable builds the invocable closure for a variable-capturing
// action. Variable actions bind to chain tokens rather than context
// fields, but may still carry throttle/debounce decorators, so the
// same Busy-backed gating applies. The returned closure takes the runtime
// chain alongside the captures because the published event's input field
// must carry the chain that actually matched ("tut hello"), not the
// compile-time pattern source ("tut $word").
func WrapVariable(inputKey, label string, fn func(map[string]string), d *specparser.Descriptor, busy *Busy, sched timer.Scheduler, publish func(input, label string)) func(chain string, captures map[string]string) {
	var pendingChain string
	var pendingCaptures map[string]string

	fire := func() {
		if !invokeSafely(label, func() { fn(pendingCaptures) }) {
			return
		}
		if publish != nil {
			publish(pendingChain, label)
		}
	}

	gated := fire
	if d.Debounce != nil {
		gated = wrapDebounce(inputKey, gated, time.Duration(*d.Debounce)*time.Millisecond, busy, sched)
	}
	if d.Throttle != nil {
		gated = wrapThrottle(inputKey, gated, time.Duration(*d.Throttle)*time.Millisecond, busy)
	}

	return func(chain string, captures map[string]string) {
		if busy.ForcedBusy(inputKey) {
			return
		}
		pendingChain, pendingCaptures = chain, captures
		gated()
	}
}
