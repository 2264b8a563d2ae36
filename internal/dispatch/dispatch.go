// Package dispatch is the per-event state machine: it resolves one raw
// input into zero or one action invocations, coordinating the combo-chain
// buffer, the combo timeout timer, throttle/debounce state, and
// fall-through precedence across the five rule kinds (immediate literal,
// delayed literal, variable pattern, conditional filter, edge-triggered
// region). Every incoming event routes through one ordered guard chain to
// exactly one outcome, and all dispatcher state is fully advanced before
// any user callback runs.
package dispatch

import (
	"strings"
	"sync"
	"time"

	"inputdispatch/internal/categorize"
	"inputdispatch/internal/condition"
	"inputdispatch/internal/decorate"
	"inputdispatch/internal/eventbus"
	"inputdispatch/internal/settings"
	"inputdispatch/internal/timer"
	"inputdispatch/internal/variable"
)

// ELSE is the edge-triggered region sentinel: the region an input is in
// when none of its conditional alternatives hold.
const ELSE = -1

// flushYield is the brief cooperative pause guards F/G take after
// synchronously replaying a flushed prior combo, giving its effect a
// chance to settle before the freshly-arrived single input is handled.
const flushYield = 5 * time.Millisecond

type pendingKind int

const (
	pendingNone pendingKind = iota
	pendingDelayedFlush
	pendingDelayedVariableFlush
	pendingPotential
)

// Dispatcher is one independent state machine instance. Multiple
// instances may coexist (ambient, channels, singles); each owns its state
// exclusively, so instances never contend with each other. mu serializes
// this *one* instance's own execute/timer callbacks against
// each other, since the reference timer.Clock fires callbacks on their own
// goroutines. ctxMu separately guards the numeric context and mode name:
// they are read by compiled-action closures and PublishFired *while* mu is
// held around the invocation, so they can never share mu.
type Dispatcher struct {
	mu sync.Mutex

	tables *categorize.Tables

	comboChain   []string
	pendingCombo string
	pendingKind  pendingKind
	timerHandle  timer.Handle

	activeRegion map[string]int

	busy     *decorate.Busy
	sched    timer.Scheduler
	settings settings.Settings
	bus      *eventbus.Bus

	ctxMu       sync.Mutex
	ctx         decorate.Context
	currentMode string
}

// New constructs a dispatcher bound to a timer.Scheduler and event bus.
// Tables are installed separately via SetTables (typically by the mode
// controller), so construction and configuration stay distinct steps.
func New(sched timer.Scheduler, bus *eventbus.Bus, s settings.Settings) *Dispatcher {
	return &Dispatcher{
		busy:         decorate.NewBusy(),
		sched:        sched,
		settings:     s,
		bus:          bus,
		activeRegion: make(map[string]int),
	}
}

// Context returns a snapshot of the dispatcher's live numeric context, for
// decorate.Wrap's ctxFn argument at categorization time. Safe to call from
// inside a firing action.
func (d *Dispatcher) Context() decorate.Context {
	d.ctxMu.Lock()
	defer d.ctxMu.Unlock()
	return d.ctx
}

// Busy exposes this instance's throttle/debounce tables so the mode
// controller can pass them into categorize.Deps when (re)building tables.
func (d *Dispatcher) Busy() *decorate.Busy { return d.busy }

// PublishFired publishes one dispatch outcome to this instance's event
// bus, stamping in the current mode and numeric context. Compiled actions
// call it (through categorize.Deps.Publish) at the moment their effect
// actually runs, which is what keeps throttle-suppressed calls and
// still-pending debounces invisible to subscribers.
func (d *Dispatcher) PublishFired(input, label string) {
	d.ctxMu.Lock()
	c := d.ctx
	mode := d.currentMode
	d.ctxMu.Unlock()

	d.bus.Publish(eventbus.Event{
		Input: input,
		Label: label,
		Mode:  mode,
		Power: c.Power, F0: c.F0, F1: c.F1, F2: c.F2,
		X: c.X, Y: c.Y, Value: c.Value,
	})
}

// SetTables installs newly categorized tables and flushes all transient
// state: the pending timer, the combo chain, and the active-region map.
// modeName is recorded for the event-bus payload.
func (d *Dispatcher) SetTables(tables *categorize.Tables, modeName string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timerHandle != nil {
		d.sched.Cancel(d.timerHandle)
		d.timerHandle = nil
	}
	d.comboChain = nil
	d.pendingCombo = ""
	d.pendingKind = pendingNone
	d.activeRegion = make(map[string]int)

	d.tables = tables

	d.ctxMu.Lock()
	d.currentMode = modeName
	d.ctxMu.Unlock()
}

// ComboChain reports the current, space-joined combo chain (introspection
// / tests only — never consulted by user code).
func (d *Dispatcher) ComboChain() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.comboChain, " ")
}

// Execute is the public per-event operation; the signal-carrying
// overloads below all funnel into it through a filled Context. It must
// not be called re-entrantly by an action; actions run to completion
// before Execute returns, and timer-fired flushes are serialized against
// Execute by the same mutex.
func (d *Dispatcher) Execute(inputName string, ctx decorate.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executeLocked(inputName, ctx)
}

// ExecuteParrot is the overload for voice-noise recognizers, which
// report a power level and three formants alongside the noise name.
func (d *Dispatcher) ExecuteParrot(name string, power, f0, f1, f2 float64) {
	d.Execute(name, decorate.Context{Power: &power, F0: &f0, F1: &f1, F2: &f2})
}

// ExecuteXY is the overload for spatial sources (gaze and facial
// trackers, gamepad sticks).
func (d *Dispatcher) ExecuteXY(name string, x, y float64) {
	d.Execute(name, decorate.Context{X: &x, Y: &y})
}

// ExecuteValue is the overload for scalar sources (pedals, sliders,
// single axes).
func (d *Dispatcher) ExecuteValue(name string, value float64) {
	d.Execute(name, decorate.Context{Value: &value})
}

// ExecuteBool is the overload for boolean input sources: a two-state
// input (grip engaged/released, a held key) collapses to the same
// discrete-event vocabulary as every other input by rewriting name to
// "<name>_stop" whenever active is false, then delegating to Execute.
// This is the one reusable place that rewrite rule lives — callers should
// never hand-construct the "_stop" suffix themselves.
func (d *Dispatcher) ExecuteBool(name string, active bool, ctx decorate.Context) {
	if !active {
		name += "_stop"
	}
	d.Execute(name, ctx)
}

func (d *Dispatcher) executeLocked(inputName string, ctx decorate.Context) {
	d.ctxMu.Lock()
	d.ctx = ctx
	d.ctxMu.Unlock()

	if d.tables == nil || !d.tables.BaseInputSet[inputName] {
		return
	}

	if d.tables.BasePairs[inputName] {
		if d.busy.CancelDebounce(inputName+"_stop", d.sched) {
			return
		}
	}

	hadPending := d.timerHandle != nil
	oldChain, oldKind := d.pendingCombo, d.pendingKind

	if d.timerHandle != nil {
		d.sched.Cancel(d.timerHandle)
		d.timerHandle = nil
	}
	d.pendingCombo = ""
	d.pendingKind = pendingNone

	d.comboChain = append(d.comboChain, inputName)
	chain := strings.Join(d.comboChain, " ")

	d.resolve(chain, inputName, hadPending, oldChain, oldKind)
}

func (d *Dispatcher) resolve(chain, inputName string, hadPending bool, oldChain string, oldKind pendingKind) {
	t := d.tables

	_, inDelayedLiteral := t.DelayedLiteral[chain]
	_, inDelayedConditional := t.DelayedConditional[chain]

	switch {
	case inDelayedLiteral || inDelayedConditional: // Guard A
		if action, ok := t.ImmediateLiteral[chain]; ok {
			d.invoke(action, chain, false)
		}
		d.arm(pendingDelayedFlush, chain)

	case func() bool { _, ok := t.ImmediateConditional[chain]; return ok }(): // Guard B
		matched := d.dispatchConditional(chain, t.ImmediateConditional[chain])
		if !matched {
			if action, ok := t.ImmediateLiteral[chain]; ok {
				d.invoke(action, chain, true)
				return
			}
		}
		d.clearChain()

	case func() bool { _, ok := t.ImmediateLiteral[chain]; return ok }(): // Guard C
		if d.chainExtendedByVariable(chain) {
			d.arm(pendingPotential, chain)
			return
		}
		d.invoke(t.ImmediateLiteral[chain], chain, true)

	case func() bool { _, _, ok := variable.FirstMatch(patterns(t.ImmediateVariable), chain); return ok }(): // Guard D
		pat, captures, _ := variable.FirstMatch(patterns(t.ImmediateVariable), chain)
		va := findVariableAction(t.ImmediateVariable, pat)
		d.invokeVariable(va, chain, captures, true)

	case func() bool { _, _, ok := variable.FirstMatch(patterns(t.DelayedVariable), chain); return ok }(): // Guard E
		d.arm(pendingDelayedVariableFlush, chain)

	case func() bool { _, ok := t.ImmediateConditional[inputName]; return ok }(): // Guard F
		d.flushPreamble(hadPending, oldChain, oldKind)
		matched := d.dispatchConditionalNoClear(inputName, t.ImmediateConditional[inputName])
		if !matched {
			if action, ok := t.ImmediateLiteral[inputName]; ok {
				d.invokeNoClear(action, inputName)
			}
		}
		d.clearChain()

	case func() bool { _, ok := t.ImmediateLiteral[inputName]; return ok }(): // Guard G
		d.flushPreamble(hadPending, oldChain, oldKind)
		d.invokeNoClear(t.ImmediateLiteral[inputName], inputName)
		d.clearChain()

	default: // Guard H
		d.arm(pendingPotential, chain)
	}
}

func patterns(vas []categorize.VariableAction) []*variable.Pattern {
	out := make([]*variable.Pattern, len(vas))
	for i, va := range vas {
		out[i] = va.Pattern
	}
	return out
}

func findVariableAction(vas []categorize.VariableAction, pat *variable.Pattern) categorize.VariableAction {
	for _, va := range vas {
		if va.Pattern == pat {
			return va
		}
	}
	return categorize.VariableAction{}
}

// chainExtendedByVariable reports whether chain is a strict literal
// prefix of any variable pattern. With consistent prefix categorization
// upstream this is normally already false whenever it's reached — any
// chain that truly extends into a pattern would have been classified
// delayed — but guard C still checks it before committing to an
// immediate fire.
func (d *Dispatcher) chainExtendedByVariable(chain string) bool {
	prefix := chain + " "
	for _, va := range d.tables.ImmediateVariable {
		if strings.HasPrefix(va.Pattern.Source, prefix) {
			return true
		}
	}
	for _, va := range d.tables.DelayedVariable {
		if strings.HasPrefix(va.Pattern.Source, prefix) {
			return true
		}
	}
	return false
}

// dispatchConditional resolves a base's conditional list against the
// current context, clearing the chain as a side effect when it
// fires or suppresses. Returns whether the event was consumed (fired or
// region-suppressed) — callers still must decide on a fallback literal
// for the unmatched case themselves.
func (d *Dispatcher) dispatchConditional(base string, entries []categorize.ConditionalEntry) bool {
	fired := d.dispatchConditionalNoClear(base, entries)
	if fired {
		d.clearChain()
	}
	return fired
}

// dispatchConditionalNoClear is the shared core of both conditional
// dispatch modes (per-event filter, edge-triggered region), without
// touching the combo chain — callers handle clearing.
func (d *Dispatcher) dispatchConditionalNoClear(base string, entries []categorize.ConditionalEntry) bool {
	isEdge := d.tables.EdgeTriggeredBases[base]

	if !isEdge {
		// Per-event filter mode: stateless, first match wins.
		for _, ce := range entries {
			if condition.Evaluate(ce.Conditions, ctxMap(d.Context())) {
				d.invokeNoClear(ce.Action, base)
				return true
			}
		}
		return false
	}

	// Edge-triggered region mode.
	region := ELSE
	var action categorize.CompiledAction
	matched := false
	for i, ce := range entries {
		if condition.Evaluate(ce.Conditions, ctxMap(d.Context())) {
			region = i
			action = ce.Action
			matched = true
			break
		}
	}
	if !matched {
		action = d.tables.EdgeElseActions[base]
	}

	if prev, ok := d.activeRegion[base]; ok && prev == region {
		return true // region unchanged: suppress, but the event is consumed
	}
	d.activeRegion[base] = region
	d.invokeNoClear(action, base)
	return true
}

func ctxMap(c decorate.Context) map[string]*float64 {
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

// invoke fires a compiled literal/conditional action and optionally
// clears the chain. Panic recovery, throttle/debounce gating, and event
// publication all live inside the compiled closure (decorate.Wrap), so
// once Invoke returns the whole invocation contract has been honored.
func (d *Dispatcher) invoke(action categorize.CompiledAction, firedChain string, clear bool) {
	d.invokeNoClear(action, firedChain)
	if clear {
		d.clearChain()
	}
}

func (d *Dispatcher) invokeNoClear(action categorize.CompiledAction, firedChain string) {
	action.Invoke()
	d.chordTailSeparate(firedChain)
}

func (d *Dispatcher) invokeVariable(va categorize.VariableAction, chain string, captures map[string]string, clear bool) {
	va.Invoke(chain, captures)
	d.chordTailSeparate(chain)
	if clear {
		d.clearChain()
	}
}

// chordTailSeparate forces separation after a chord ending in a
// continuous input: when the fired chain has multiple tokens and its last
// token is a pair base, both <last> and <last>_stop are suppressed for
// the configured window so the chord's tail can't immediately read as a
// fresh activation.
func (d *Dispatcher) chordTailSeparate(firedChain string) {
	tokens := strings.Fields(firedChain)
	if len(tokens) < 2 {
		return
	}
	last := tokens[len(tokens)-1]
	if !d.tables.BasePairs[last] {
		return
	}
	window := durationMS(d.settings.ChordTailThrottleMS)
	d.busy.ForceThrottle(last, window)
	d.busy.ForceThrottle(last+"_stop", window)
}

func (d *Dispatcher) clearChain() {
	d.comboChain = nil
}

// arm schedules the combo-window timer for one of the three flush kinds
// and records pendingCombo, per the invariant "pending_combo is non-null
// iff timer_handle is non-null". The callback re-checks that it is still
// the live pending timer: the reference Clock can have already dequeued a
// callback at the instant Cancel runs, and a superseded flush must never
// fire against fresher chain state.
func (d *Dispatcher) arm(kind pendingKind, chain string) {
	d.pendingKind = kind
	d.pendingCombo = chain

	var h timer.Handle
	h = d.sched.Schedule(d.settings.ComboWindowMS, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.timerHandle != h {
			return
		}
		d.fireTimer(kind, chain)
	})
	d.timerHandle = h
}

// fireTimer runs one of the three timer-expiry flush behaviors. It
// assumes d.mu is already held and that the caller has verified this
// timer is still the live one.
func (d *Dispatcher) fireTimer(kind pendingKind, chain string) {
	d.timerHandle = nil
	d.pendingCombo = ""
	d.pendingKind = pendingNone

	d.runFlush(kind, chain)
}

// runFlush executes the flush behavior for kind/chain without touching
// timerHandle/pendingCombo bookkeeping — shared between the real timer
// callback and guard F/G's flush-a-dangling-prior-combo preamble.
func (d *Dispatcher) runFlush(kind pendingKind, chain string) {
	switch kind {
	case pendingDelayedFlush:
		if entries, ok := d.tables.DelayedConditional[chain]; ok {
			if d.dispatchConditional(chain, entries) {
				return
			}
		}
		if action, ok := d.tables.DelayedLiteral[chain]; ok {
			d.invoke(action, chain, false)
		}
		d.clearChain()

	case pendingDelayedVariableFlush:
		if pat, captures, ok := variable.FirstMatch(patterns(d.tables.DelayedVariable), chain); ok {
			va := findVariableAction(d.tables.DelayedVariable, pat)
			d.invokeVariable(va, chain, captures, false)
		}
		d.clearChain()

	case pendingPotential:
		// Deliberately does not retroactively fire the immediate
		// literal — the dispatcher errs on the side of no action when
		// the user's intent was ambiguous.
		d.clearChain()
	}
}

// flushPreamble implements guards F/G's "if a prior combo is pending,
// flush it immediately then briefly yield to let its effect complete."
func (d *Dispatcher) flushPreamble(hadPending bool, oldChain string, oldKind pendingKind) {
	if !hadPending {
		return
	}
	d.runFlush(oldKind, oldChain)
	d.mu.Unlock()
	timer.Sleep(flushYield)
	d.mu.Lock()
}

func durationMS(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
