// Package categorize is the setup-time compiler: it turns a flat user
// mapping of specifier -> (label, effect) into the indexed tables the
// dispatcher consults on the hot path. The central analysis is prefix
// strictness — a base chain that some longer chain strictly extends must
// wait out the combo window before firing, so it lands in a delayed
// table; everything else fires immediately.
package categorize

import (
	"fmt"
	"sort"
	"strings"

	goerrors "github.com/go-faster/errors"

	"inputdispatch/internal/decorate"
	"inputdispatch/internal/obslog"
	"inputdispatch/internal/specparser"
	"inputdispatch/internal/timer"
	"inputdispatch/internal/variable"
)

// Entry is one line of the user's flat specifier -> (label, effect) map.
// Declaration order matters (condition and variable-pattern first-match
// semantics depend on it), so callers must pass Entries as a slice, never
// reconstructed from an unordered map.
type Entry struct {
	Spec   string
	Label  string
	Effect decorate.Effect
}

// CompiledAction is a ready-to-invoke action. Invoke is the fully
// decorated closure from decorate.Wrap: it owns throttle/debounce gating,
// panic recovery, and event publication, so the dispatcher just calls it.
type CompiledAction struct {
	Label  string
	Invoke func()
}

// VariableAction pairs a compiled variable pattern with its decorated
// invocation. Invoke takes the runtime chain that matched alongside the
// captures so the published event can carry the real chain, not the
// pattern source.
type VariableAction struct {
	Pattern *variable.Pattern
	Label   string
	Invoke  func(chain string, captures map[string]string)
}

// ConditionalEntry is one alternative within a base's conditional list.
// Conditions is nil for an else/fallback entry.
type ConditionalEntry struct {
	Conditions []specparser.Condition
	Action     CompiledAction
	IsElse     bool
}

// Tables is the full categorizer output for one mode: the six dispatch
// tables plus the metadata sets the dispatcher's admission and pairing
// checks read.
type Tables struct {
	ImmediateLiteral     map[string]CompiledAction
	DelayedLiteral       map[string]CompiledAction
	ImmediateVariable    []VariableAction
	DelayedVariable      []VariableAction
	ImmediateConditional map[string][]ConditionalEntry
	DelayedConditional   map[string][]ConditionalEntry

	EdgeTriggeredBases map[string]bool
	EdgeElseActions    map[string]CompiledAction

	BaseInputSet map[string]bool
	BasePairs    map[string]bool
	UniqueCombos map[string]bool

	Diagnostics []string
}

// Deps bundles the per-instance dependencies the categorizer needs to
// decorate compiled actions: the shared throttle/debounce tables, the
// timer scheduler, a callback returning the live numeric context, and the
// publication hook a decorated closure calls when its effect actually
// runs.
type Deps struct {
	Busy    *decorate.Busy
	Sched   timer.Scheduler
	CtxFn   func() decorate.Context
	Publish func(input, label string)
}

// Categorize runs the six-pass compilation and returns the indexed
// tables, or an error if a structural violation (duplicate condition-set
// on the same base) was found — the one case that rejects the whole
// categorization rather than skipping one entry.
func Categorize(entries []Entry, deps Deps) (*Tables, error) {
	t := &Tables{
		ImmediateLiteral:     make(map[string]CompiledAction),
		DelayedLiteral:       make(map[string]CompiledAction),
		ImmediateConditional: make(map[string][]ConditionalEntry),
		DelayedConditional:   make(map[string][]ConditionalEntry),
		EdgeTriggeredBases:   make(map[string]bool),
		EdgeElseActions:      make(map[string]CompiledAction),
		BaseInputSet:         make(map[string]bool),
		BasePairs:            make(map[string]bool),
		UniqueCombos:         make(map[string]bool),
	}

	type parsed struct {
		entry Entry
		desc  *specparser.Descriptor
	}

	var variableCommands, conditionalCommands, activeCommands []parsed

	// Pass 1: classify.
	for _, e := range entries {
		desc := specparser.Parse(e.Spec)
		for _, diag := range desc.Diagnostics {
			t.Diagnostics = append(t.Diagnostics, fmt.Sprintf("%q: %s", e.Spec, diag))
		}

		if bad, diag := invalidContextFields(e.Effect); bad {
			t.Diagnostics = append(t.Diagnostics, fmt.Sprintf("%q: %s, skipped", e.Spec, diag))
			continue
		}

		switch {
		case desc.HasVariables():
			if e.Effect.VariableFn == nil {
				t.Diagnostics = append(t.Diagnostics, fmt.Sprintf("%q: variable pattern has no variable-capturing effect, skipped", e.Spec))
				continue
			}
			if len(e.Effect.VariableNames) != 0 && len(e.Effect.VariableNames) != len(desc.Variables) {
				t.Diagnostics = append(t.Diagnostics, fmt.Sprintf("%q: effect arity %d does not match placeholder count %d, skipped", e.Spec, len(e.Effect.VariableNames), len(desc.Variables)))
				continue
			}
			variableCommands = append(variableCommands, parsed{e, desc})

		case len(desc.Conditions) > 0 || desc.Else:
			conditionalCommands = append(conditionalCommands, parsed{e, desc})

		default:
			activeCommands = append(activeCommands, parsed{e, desc})
		}
	}
	for _, diag := range t.Diagnostics {
		obslog.Warnf("categorize: %s", diag)
	}

	// Pass 2: base-level metadata, shared across all three categories.
	comboInputSet := make(map[string]bool)
	addBase := func(desc *specparser.Descriptor) {
		chain := desc.BaseChain()
		comboInputSet[chain] = true
		if len(desc.BaseTokens) > 1 {
			t.UniqueCombos[chain] = true
		}
		for i, tok := range desc.BaseTokens {
			if _, isVar := desc.Variables[i]; isVar {
				continue
			}
			t.BaseInputSet[tok] = true
		}
	}
	for _, p := range activeCommands {
		addBase(p.desc)
	}
	for _, p := range conditionalCommands {
		addBase(p.desc)
	}
	for _, p := range variableCommands {
		addBase(p.desc)
	}
	for tok := range t.BaseInputSet {
		if strings.HasSuffix(tok, "_stop") {
			continue
		}
		if t.BaseInputSet[tok+"_stop"] {
			t.BasePairs[tok] = true
		}
	}

	isStrictPrefix := func(chain string) bool {
		prefix := chain + " "
		for other := range comboInputSet {
			if other != chain && strings.HasPrefix(other, prefix) {
				return true
			}
		}
		return false
	}

	// Pass 3: literals.
	for _, p := range activeCommands {
		chain := p.desc.BaseChain()
		invoke := decorate.Wrap(chain, p.entry.Label, p.entry.Effect, p.desc, deps.Busy, deps.Sched, deps.CtxFn, deps.Publish)
		action := CompiledAction{Label: p.entry.Label, Invoke: invoke}

		delayed := isStrictPrefix(chain)
		if delayed {
			t.DelayedLiteral[chain] = action
		}
		if !delayed || p.desc.Now {
			t.ImmediateLiteral[chain] = action
		}
	}

	// Pass 4: variable patterns.
	for _, p := range variableCommands {
		chain := p.desc.BaseChain()
		pattern := variable.Compile(p.desc.BaseTokens, p.desc.Variables)
		invoke := decorate.WrapVariable(chain, p.entry.Label, p.entry.Effect.VariableFn, p.desc, deps.Busy, deps.Sched, deps.Publish)
		va := VariableAction{Pattern: pattern, Label: p.entry.Label, Invoke: invoke}

		if isStrictPrefix(chain) {
			t.DelayedVariable = append(t.DelayedVariable, va)
		} else {
			t.ImmediateVariable = append(t.ImmediateVariable, va)
		}
	}

	// Pass 5: conditionals, preserving declaration order per base.
	for _, p := range conditionalCommands {
		chain := p.desc.BaseChain()
		invoke := decorate.Wrap(chain, p.entry.Label, p.entry.Effect, p.desc, deps.Busy, deps.Sched, deps.CtxFn, deps.Publish)
		action := CompiledAction{Label: p.entry.Label, Invoke: invoke}

		ce := ConditionalEntry{
			Conditions: p.desc.Conditions,
			Action:     action,
			IsElse:     p.desc.Else,
		}

		if isStrictPrefix(chain) {
			t.DelayedConditional[chain] = append(t.DelayedConditional[chain], ce)
		} else {
			t.ImmediateConditional[chain] = append(t.ImmediateConditional[chain], ce)
		}
	}

	// Pass 6: extract else entries into edge-triggered metadata and
	// reject duplicate condition-sets on the same base.
	if err := finalizeConditionals(t.ImmediateConditional, t); err != nil {
		return nil, err
	}
	if err := finalizeConditionals(t.DelayedConditional, t); err != nil {
		return nil, err
	}

	return t, nil
}

// invalidContextFields validates a context-bound effect's declared fields
// against the fixed numeric-field set — the typed-language stand-in for
// the source's "parameter names are a subset of the numeric fields" check,
// performed once here instead of per event.
func invalidContextFields(eff decorate.Effect) (bool, string) {
	if eff.ContextFn == nil {
		return false, ""
	}
	for _, f := range eff.ContextFields {
		if !specparser.NumericFields[f] {
			return true, fmt.Sprintf("context-bound effect references unknown field %q", f)
		}
	}
	return false, ""
}

func finalizeConditionals(tables map[string][]ConditionalEntry, t *Tables) error {
	for base, list := range tables {
		var remaining []ConditionalEntry
		seen := make(map[string]bool)

		for _, ce := range list {
			if ce.IsElse {
				t.EdgeTriggeredBases[base] = true
				t.EdgeElseActions[base] = ce.Action
				continue
			}
			key := conditionSetKey(ce.Conditions)
			if seen[key] {
				return goerrors.New(fmt.Sprintf("duplicate condition-set on base %q: %s", base, key))
			}
			seen[key] = true
			remaining = append(remaining, ce)
		}

		tables[base] = remaining
	}
	return nil
}

func conditionSetKey(conditions []specparser.Condition) string {
	parts := make([]string, len(conditions))
	for i, c := range conditions {
		parts[i] = fmt.Sprintf("%s%s%g", c.Field, c.Op, c.Threshold)
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}
