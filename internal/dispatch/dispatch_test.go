package dispatch_test

import (
	"testing"
	"time"

	"inputdispatch/internal/categorize"
	"inputdispatch/internal/decorate"
	"inputdispatch/internal/dispatch"
	"inputdispatch/internal/eventbus"
	"inputdispatch/internal/settings"
	"inputdispatch/internal/timer"
)

func f(v float64) *float64 { return &v }

func newDispatcher(t *testing.T, entries []categorize.Entry, s settings.Settings) (*dispatch.Dispatcher, *eventbus.Bus) {
	t.Helper()

	sched := timer.NewClock()
	bus := eventbus.New()
	d := dispatch.New(sched, bus, s)

	tables, err := categorize.Categorize(entries, categorize.Deps{
		Busy:    d.Busy(),
		Sched:   sched,
		CtxFn:   d.Context,
		Publish: d.PublishFired,
	})
	if err != nil {
		t.Fatalf("Categorize() error = %v", err)
	}
	d.SetTables(tables, "default")
	return d, bus
}

func TestDispatchSimpleLiteral(t *testing.T) {
	t.Parallel()

	var fired int
	entries := []categorize.Entry{
		{Spec: "pop", Label: "Jump", Effect: decorate.Effect{NoArgs: func() { fired++ }}},
	}
	d, bus := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 40, ChordTailThrottleMS: 10})

	var events []eventbus.Event
	bus.Subscribe(func(e eventbus.Event) { events = append(events, e) })

	d.Execute("pop", decorate.Context{})

	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if len(events) != 1 || events[0].Input != "pop" || events[0].Label != "Jump" {
		t.Fatalf("events = %#v, want one event for \"pop\"/\"Jump\"", events)
	}
}

func TestDispatchComboFiresOnSecondInput(t *testing.T) {
	t.Parallel()

	var single, combo int
	entries := []categorize.Entry{
		{Spec: "pop", Label: "Single", Effect: decorate.Effect{NoArgs: func() { single++ }}},
		{Spec: "pop cluck", Label: "Combo", Effect: decorate.Effect{NoArgs: func() { combo++ }}},
	}
	d, _ := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 500, ChordTailThrottleMS: 10})

	d.Execute("pop", decorate.Context{})
	if single != 0 || combo != 0 {
		t.Fatalf("after first input: single=%d combo=%d, want 0,0 (should be pending)", single, combo)
	}

	d.Execute("cluck", decorate.Context{})
	if single != 0 || combo != 1 {
		t.Fatalf("after combo completes: single=%d combo=%d, want 0,1", single, combo)
	}
}

func TestDispatchComboWindowFlushesPrefixAlone(t *testing.T) {
	t.Parallel()

	var single int
	entries := []categorize.Entry{
		{Spec: "pop", Label: "Single", Effect: decorate.Effect{NoArgs: func() { single++ }}},
		{Spec: "pop cluck", Label: "Combo", Effect: decorate.Effect{NoArgs: func() {}}},
	}
	d, _ := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 20, ChordTailThrottleMS: 10})

	d.Execute("pop", decorate.Context{})
	time.Sleep(80 * time.Millisecond)

	if single != 1 {
		t.Fatalf("single = %d, want 1 after the combo window elapses with no second input", single)
	}
}

func TestDispatchNowDoubleFire(t *testing.T) {
	t.Parallel()

	var fired int
	entries := []categorize.Entry{
		{Spec: "pop:now", Label: "Jump", Effect: decorate.Effect{NoArgs: func() { fired++ }}},
		{Spec: "pop cluck", Label: "Combo", Effect: decorate.Effect{NoArgs: func() {}}},
	}
	d, _ := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 20, ChordTailThrottleMS: 10})

	d.Execute("pop", decorate.Context{})
	if fired != 1 {
		t.Fatalf("fired = %d immediately after a :now input, want 1", fired)
	}

	time.Sleep(80 * time.Millisecond)
	if fired != 2 {
		t.Fatalf("fired = %d after the combo window elapses, want 2 (a :now entry fires again on the delayed flush)", fired)
	}
}

func TestDispatchThrottleSuppressesRepeatAndPublish(t *testing.T) {
	t.Parallel()

	var fired int
	entries := []categorize.Entry{
		{Spec: "pop:th_1000", Label: "Jump", Effect: decorate.Effect{NoArgs: func() { fired++ }}},
	}
	d, bus := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 10, ChordTailThrottleMS: 10})

	var published int
	bus.Subscribe(func(eventbus.Event) { published++ })

	d.Execute("pop", decorate.Context{})
	d.Execute("pop", decorate.Context{})

	if fired != 1 {
		t.Fatalf("fired = %d, want 1 (second call within the throttle window should be suppressed)", fired)
	}
	if published != 1 {
		t.Fatalf("published = %d, want 1 (suppressed call should not publish)", published)
	}
}

func TestDispatchExecuteBoolRewritesStopSuffixOnRelease(t *testing.T) {
	t.Parallel()

	var engaged, released int
	entries := []categorize.Entry{
		{Spec: "grip", Label: "Engaged", Effect: decorate.Effect{NoArgs: func() { engaged++ }}},
		{Spec: "grip_stop", Label: "Released", Effect: decorate.Effect{NoArgs: func() { released++ }}},
	}
	d, _ := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 10, ChordTailThrottleMS: 10})

	d.ExecuteBool("grip", true, decorate.Context{})
	if engaged != 1 || released != 0 {
		t.Fatalf("after ExecuteBool(true): engaged=%d released=%d, want 1,0", engaged, released)
	}

	d.ExecuteBool("grip", false, decorate.Context{})
	if engaged != 1 || released != 1 {
		t.Fatalf("after ExecuteBool(false): engaged=%d released=%d, want 1,1 (should rewrite to \"grip_stop\")", engaged, released)
	}
}

func TestDispatchEdgeTriggeredRegionSuppressesUnchanged(t *testing.T) {
	t.Parallel()

	var high, low int
	entries := []categorize.Entry{
		{Spec: "pop:power>10", Label: "High", Effect: decorate.Effect{NoArgs: func() { high++ }}},
		{Spec: "pop:else", Label: "Low", Effect: decorate.Effect{NoArgs: func() { low++ }}},
	}
	d, _ := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 10, ChordTailThrottleMS: 10})

	d.Execute("pop", decorate.Context{Power: f(20)})
	d.Execute("pop", decorate.Context{Power: f(20)})
	if high != 1 {
		t.Fatalf("high = %d, want 1 (region unchanged on repeat, should not refire)", high)
	}

	d.Execute("pop", decorate.Context{Power: f(5)})
	if low != 1 {
		t.Fatalf("low = %d, want 1 (region changed to else, should fire once)", low)
	}
}

func TestDispatchVariableCapture(t *testing.T) {
	t.Parallel()

	// "hello" needs its own entry: the admission filter only lets tokens in
	// base_inputs extend a chain, so a capturable token is always one some
	// other mapping line already knows about.
	var got string
	entries := []categorize.Entry{
		{Spec: "tut $word", Label: "Say", Effect: decorate.Effect{
			VariableNames: []string{"word"},
			VariableFn:    func(captures map[string]string) { got = captures["word"] },
		}},
		{Spec: "hello", Label: "Hello", Effect: decorate.Effect{NoArgs: func() {}}},
	}
	d, bus := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 200, ChordTailThrottleMS: 10})

	var events []eventbus.Event
	bus.Subscribe(func(e eventbus.Event) { events = append(events, e) })

	d.Execute("tut", decorate.Context{})
	d.Execute("hello", decorate.Context{})

	if got != "hello" {
		t.Fatalf("captured word = %q, want %q", got, "hello")
	}
	if len(events) != 1 || events[0].Input != "tut hello" {
		t.Fatalf("events = %#v, want one event whose Input is the matched runtime chain", events)
	}
}

func TestDispatchContextBoundActionReadsLiveContext(t *testing.T) {
	t.Parallel()

	var gotX float64
	entries := []categorize.Entry{
		{Spec: "gaze", Label: "Look", Effect: decorate.Effect{
			ContextFields: []string{"x"},
			ContextFn: func(values map[string]*float64) {
				if v := values["x"]; v != nil {
					gotX = *v
				}
			},
		}},
	}
	d, _ := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 10, ChordTailThrottleMS: 10})

	d.Execute("gaze", decorate.Context{X: f(640)})
	if gotX != 640 {
		t.Fatalf("gotX = %v, want 640 (context-bound effect should read the event's numeric context)", gotX)
	}
}

func TestDispatchDebouncePublishesOnceAtFireTime(t *testing.T) {
	t.Parallel()

	var fired int
	entries := []categorize.Entry{
		{Spec: "pop:db_30", Label: "Jump", Effect: decorate.Effect{NoArgs: func() { fired++ }}},
	}
	d, bus := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 10, ChordTailThrottleMS: 10})

	var published int
	bus.Subscribe(func(eventbus.Event) { published++ })

	d.Execute("pop", decorate.Context{})
	d.Execute("pop", decorate.Context{})
	if published != 0 {
		t.Fatalf("published = %d before the debounce fires, want 0", published)
	}

	time.Sleep(80 * time.Millisecond)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1 (debounce collapses the burst to one invocation)", fired)
	}
	if published != 1 {
		t.Fatalf("published = %d, want 1 (one publication at actual fire time)", published)
	}
}

func TestDispatchChordTailForceThrottlesPairBase(t *testing.T) {
	t.Parallel()

	var combo, grip int
	entries := []categorize.Entry{
		{Spec: "pop grip", Label: "ComboGrip", Effect: decorate.Effect{NoArgs: func() { combo++ }}},
		{Spec: "grip", Label: "Grip", Effect: decorate.Effect{NoArgs: func() { grip++ }}},
		{Spec: "grip_stop", Label: "GripStop", Effect: decorate.Effect{NoArgs: func() {}}},
	}
	d, _ := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 300, ChordTailThrottleMS: 60})

	d.Execute("pop", decorate.Context{})
	d.Execute("grip", decorate.Context{})
	if combo != 1 {
		t.Fatalf("combo = %d, want 1", combo)
	}

	d.Execute("grip", decorate.Context{})
	if grip != 0 {
		t.Fatalf("grip = %d immediately after the chord, want 0 (pair base is force-throttled)", grip)
	}

	time.Sleep(100 * time.Millisecond)
	d.Execute("grip", decorate.Context{})
	if grip != 1 {
		t.Fatalf("grip = %d after the chord-tail window, want 1", grip)
	}
}

func TestDispatchSignalOverloadsFillContext(t *testing.T) {
	t.Parallel()

	var lastPower, lastX, lastValue *float64
	entries := []categorize.Entry{
		{Spec: "hiss", Label: "Power", Effect: decorate.Effect{
			ContextFields: []string{"power"},
			ContextFn:     func(values map[string]*float64) { lastPower = values["power"] },
		}},
		{Spec: "gaze", Label: "Gaze", Effect: decorate.Effect{
			ContextFields: []string{"x"},
			ContextFn:     func(values map[string]*float64) { lastX = values["x"] },
		}},
		{Spec: "pedal", Label: "Pedal", Effect: decorate.Effect{
			ContextFields: []string{"value"},
			ContextFn:     func(values map[string]*float64) { lastValue = values["value"] },
		}},
	}
	d, _ := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 10, ChordTailThrottleMS: 10})

	d.ExecuteParrot("hiss", 42, 1, 2, 3)
	d.ExecuteXY("gaze", 640, 360)
	d.ExecuteValue("pedal", 0.5)

	if lastPower == nil || *lastPower != 42 {
		t.Fatalf("power = %v, want 42", lastPower)
	}
	if lastX == nil || *lastX != 640 {
		t.Fatalf("x = %v, want 640", lastX)
	}
	if lastValue == nil || *lastValue != 0.5 {
		t.Fatalf("value = %v, want 0.5", lastValue)
	}
}

func TestDispatchUnknownInputLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	entries := []categorize.Entry{
		{Spec: "pop", Label: "Jump", Effect: decorate.Effect{NoArgs: func() {}}},
		{Spec: "pop cluck", Label: "Combo", Effect: decorate.Effect{NoArgs: func() {}}},
	}
	d, _ := newDispatcher(t, entries, settings.Settings{ComboWindowMS: 300, ChordTailThrottleMS: 10})

	d.Execute("pop", decorate.Context{})
	before := d.ComboChain()

	d.Execute("mystery_noise", decorate.Context{})
	if got := d.ComboChain(); got != before {
		t.Fatalf("ComboChain() = %q after an unknown input, want %q unchanged", got, before)
	}
}
