package main

import (
	"time"

	"github.com/hako/durafmt"

	"inputdispatch/internal/decorate"
	"inputdispatch/internal/obslog"
)

// demoActions is the fixed action table the sample modes.yaml resolves
// action keys against. A real host would build this from its own command
// surface; here it just logs what would have happened.
var demoActions = map[string]decorate.Effect{
	"jump": {
		NoArgs: func() { obslog.Infof("action: jump") },
	},
	"crouch": {
		NoArgs: func() { obslog.Infof("action: crouch") },
	},
	"ascend": {
		NoArgs: func() { obslog.Infof("action: ascend") },
	},
	"move": {
		ContextFields: []string{"x", "y"},
		ContextFn: func(values map[string]*float64) {
			x, y := numOrZero(values["x"]), numOrZero(values["y"])
			obslog.Infof("action: move x=%.2f y=%.2f", x, y)
		},
	},
	"throttle": {
		ContextFields: []string{"power"},
		ContextFn: func(values map[string]*float64) {
			obslog.Infof("action: throttle power=%.2f", numOrZero(values["power"]))
		},
	},
	"say": {
		VariableNames: []string{"word"},
		VariableFn: func(captures map[string]string) {
			obslog.Infof("action: say %q", captures["word"])
		},
	},
	"go_to": {
		VariableNames: []string{"place"},
		VariableFn: func(captures map[string]string) {
			obslog.Infof("action: go_to %q", captures["place"])
		},
	},
	"grip_on": {
		NoArgs: func() { obslog.Infof("action: grip engaged") },
	},
	"grip_off": {
		NoArgs: func() { obslog.Infof("action: grip released") },
	},
}

func numOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func resolveDemoAction(actionKey string) (decorate.Effect, bool) {
	e, ok := demoActions[actionKey]
	return e, ok
}

// describeWindow renders a millisecond setting as a short human-readable
// duration. None of the subcommands calls it.
func describeWindow(ms int) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Millisecond {
		d = 0
	}
	return durafmt.ParseShort(d).String()
}
