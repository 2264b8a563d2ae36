package decorate_test

import (
	"testing"
	"time"

	"inputdispatch/internal/decorate"
	"inputdispatch/internal/specparser"
	"inputdispatch/internal/timer"
)

func descriptorWithThrottle(ms int) *specparser.Descriptor {
	d := specparser.DurationMS(ms)
	return &specparser.Descriptor{Throttle: &d}
}

func descriptorWithDebounce(ms int) *specparser.Descriptor {
	d := specparser.DurationMS(ms)
	return &specparser.Descriptor{Debounce: &d}
}

func noCtx() decorate.Context { return decorate.Context{} }

func TestWrapThrottleAdmitsFirstCallOnly(t *testing.T) {
	t.Parallel()

	var calls int
	eff := decorate.Effect{NoArgs: func() { calls++ }}
	busy := decorate.NewBusy()
	sched := timer.NewClock()

	fn := decorate.Wrap("pop", "Jump", eff, descriptorWithThrottle(200), busy, sched, noCtx, nil)

	fn()
	fn()
	fn()

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (subsequent calls within the window should be suppressed)", calls)
	}
}

func TestWrapThrottleAdmitsAgainAfterWindow(t *testing.T) {
	t.Parallel()

	var calls int
	eff := decorate.Effect{NoArgs: func() { calls++ }}
	busy := decorate.NewBusy()
	sched := timer.NewClock()

	fn := decorate.Wrap("pop", "Jump", eff, descriptorWithThrottle(30), busy, sched, noCtx, nil)

	fn()
	time.Sleep(60 * time.Millisecond)
	fn()

	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (a call after the window elapses should be admitted)", calls)
	}
}

func TestWrapThrottlePublishesOnlyAdmittedCalls(t *testing.T) {
	t.Parallel()

	var published int
	eff := decorate.Effect{NoArgs: func() {}}
	busy := decorate.NewBusy()
	sched := timer.NewClock()

	fn := decorate.Wrap("pop", "Jump", eff, descriptorWithThrottle(200), busy, sched, noCtx,
		func(input, label string) { published++ })

	fn()
	fn()

	if published != 1 {
		t.Fatalf("published = %d, want 1 (the suppressed call must not publish)", published)
	}
}

func TestWrapDebounceCancelAndReschedule(t *testing.T) {
	t.Parallel()

	var calls int
	eff := decorate.Effect{NoArgs: func() { calls++ }}
	busy := decorate.NewBusy()
	sched := timer.NewClock()

	fn := decorate.Wrap("cluck", "Crouch", eff, descriptorWithDebounce(30), busy, sched, noCtx, nil)

	fn()
	time.Sleep(10 * time.Millisecond)
	fn() // cancels the first pending fire and reschedules
	time.Sleep(10 * time.Millisecond)
	if calls != 0 {
		t.Fatalf("calls = %d at t=20ms, want 0 (second call should have cancelled the first)", calls)
	}

	time.Sleep(40 * time.Millisecond)
	if calls != 1 {
		t.Fatalf("calls = %d after debounce window, want 1", calls)
	}
}

func TestWrapDebouncePublishesAtFireTimeOnce(t *testing.T) {
	t.Parallel()

	var published int
	eff := decorate.Effect{NoArgs: func() {}}
	busy := decorate.NewBusy()
	sched := timer.NewClock()

	fn := decorate.Wrap("pop", "Jump", eff, descriptorWithDebounce(30), busy, sched, noCtx,
		func(input, label string) { published++ })

	fn()
	fn()
	if published != 0 {
		t.Fatalf("published = %d before the debounce window elapses, want 0", published)
	}

	time.Sleep(60 * time.Millisecond)
	if published != 1 {
		t.Fatalf("published = %d after the debounce fire, want 1", published)
	}
}

func TestWrapRecoversPanickingEffectAndSkipsPublish(t *testing.T) {
	t.Parallel()

	var published int
	eff := decorate.Effect{NoArgs: func() { panic("boom") }}
	busy := decorate.NewBusy()
	sched := timer.NewClock()

	fn := decorate.Wrap("pop", "Jump", eff, &specparser.Descriptor{}, busy, sched, noCtx,
		func(input, label string) { published++ })

	fn() // must not propagate the panic

	if published != 0 {
		t.Fatalf("published = %d after a panicking effect, want 0", published)
	}
}

func TestWasThrottleBusy(t *testing.T) {
	t.Parallel()

	eff := decorate.Effect{NoArgs: func() {}}
	busy := decorate.NewBusy()
	sched := timer.NewClock()

	fn := decorate.Wrap("pop", "Jump", eff, descriptorWithThrottle(50), busy, sched, noCtx, nil)

	if busy.WasThrottleBusy("pop") {
		t.Fatalf("WasThrottleBusy(\"pop\") = true before any call, want false")
	}
	fn()
	if !busy.WasThrottleBusy("pop") {
		t.Fatalf("WasThrottleBusy(\"pop\") = false immediately after a call, want true")
	}
}

func TestForceThrottleGatesWrappedInvocation(t *testing.T) {
	t.Parallel()

	var calls int
	eff := decorate.Effect{NoArgs: func() { calls++ }}
	busy := decorate.NewBusy()
	sched := timer.NewClock()

	fn := decorate.Wrap("grip", "Hold", eff, &specparser.Descriptor{}, busy, sched, noCtx, nil)

	busy.ForceThrottle("grip", 50*time.Millisecond)
	if !busy.ForcedBusy("grip") {
		t.Fatalf("ForcedBusy(\"grip\") = false right after ForceThrottle, want true")
	}

	fn()
	if calls != 0 {
		t.Fatalf("calls = %d inside the forced window, want 0", calls)
	}

	time.Sleep(80 * time.Millisecond)
	fn()
	if calls != 1 {
		t.Fatalf("calls = %d after the forced window elapses, want 1", calls)
	}
}
