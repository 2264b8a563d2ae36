package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"inputdispatch/internal/categorize"
	"inputdispatch/internal/decorate"
	"inputdispatch/internal/eventbus"
	"inputdispatch/internal/obslog"
	"inputdispatch/internal/registry"
	"inputdispatch/internal/settings"
	"inputdispatch/internal/timer"
)

// pedalKeymap stands in for a programmable-key/foot-pedal input source in
// raw-keypress mode: one keystroke, no Enter, one input_name per key.
var pedalKeymap = map[rune]string{
	'j': "pop",
	'k': "cluck",
	'w': "whistle",
}

// pedalBoolKeymap models a boolean input (grip engaged/released) read
// through the same raw-keypress loop: each key names the base input and
// whether it is the active (press) or inactive (release) edge, routed
// through Ambient.ExecuteBool's handle_bool-style "<name>_stop" rewrite
// rather than a hand-written "_stop" literal.
var pedalBoolKeymap = map[rune]struct {
	name   string
	active bool
}{
	'g': {"grip", true},
	'G': {"grip", false},
}

func runCmd() *cobra.Command {
	var raw bool
	var withPedalChannel bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Feed simulated input events to the engine interactively",
		Long: `run starts the ambient dispatch instance from --config and reads input
events from the terminal, printing every fired (non-suppressed) action.

By default it reads whitespace-separated lines of "input_name field=value ...".
With --raw it instead reads single keystrokes (no Enter) through a small
built-in pedal keymap, simulating a foot-pedal/programmable-key source.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amb, provider, err := buildAmbient()
			if err != nil {
				return err
			}
			defer provider.Close()

			amb.Bus.Subscribe(printEvent)

			g, ctx := errgroup.WithContext(cmd.Context())

			if withPedalChannel {
				g.Go(func() error { return runPedalChannel(ctx) })
			}

			if raw {
				g.Go(func() error { return runRawLoop(ctx, amb) })
			} else {
				g.Go(func() error { return runLineLoop(ctx, amb) })
			}

			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "read single keystrokes instead of lines (pedal/programmable-key simulation)")
	cmd.Flags().BoolVar(&withPedalChannel, "with-pedal-channel", false, "also run a second, independently-subscribed channel instance driven by a fixed demo sequence")

	return cmd
}

// runLineLoop is the default input source: an interactive readline prompt
// parsing "input_name [field=value ...]" lines and forwarding each to the
// ambient instance's Execute.
func runLineLoop(ctx context.Context, amb *registry.Ambient) error {
	rl, err := readline.New("input> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if handled, err := handleControlLine(amb, line); handled {
			if err != nil {
				color.New(color.FgRed).Printf("error: %v\n", err)
			}
			continue
		}

		name, evCtx := parseEventLine(line)
		if err := amb.Execute(name, evCtx); err != nil {
			color.New(color.FgRed).Printf("error: %v\n", err)
		}
	}
}

// runRawLoop reads raw, unbuffered keystrokes from stdin via x/term's
// raw-mode terminal state, mapping each key through pedalKeymap — a
// believable stand-in for a discrete-event hardware source that never
// sends a line terminator.
func runRawLoop(ctx context.Context, amb *registry.Ambient) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("dispatchctl: --raw requires an interactive terminal on stdin")
	}

	prevState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("dispatchctl: entering raw terminal mode: %w", err)
	}
	defer term.Restore(fd, prevState)

	fmt.Fprintln(os.Stderr, "raw mode: j=pop k=cluck w=whistle g=grip(press) G=grip(release) q=quit")

	buf := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return nil
		}
		r := rune(buf[0])
		if r == 'q' {
			return nil
		}

		if name, ok := pedalKeymap[r]; ok {
			if err := amb.Execute(name, decorate.Context{}); err != nil {
				obslog.Errorf("raw loop: %v", err)
			}
			continue
		}
		if bk, ok := pedalBoolKeymap[r]; ok {
			if err := amb.ExecuteBool(bk.name, bk.active, decorate.Context{}); err != nil {
				obslog.Errorf("raw loop: %v", err)
			}
		}
	}
}

// runPedalChannel demonstrates the channel instance shape: an independently
// registered, independently subscribed instance coexisting with the
// ambient one, driven here by a fixed scripted sequence of foot-pedal
// taps rather than a second live input device. Its subscriber list is
// entirely separate from the ambient instance's — firing "pedal_tap"
// here never reaches printEvent above.
func runPedalChannel(ctx context.Context) error {
	channels := registry.NewChannels()
	sched := timer.NewClock()
	s := settings.Resolve(settings.NewEnvProvider(envPath))

	inst := channels.Register("pedal", sched, s)
	id := inst.Bus.Subscribe(func(e eventbus.Event) {
		color.New(color.FgMagenta).Printf("[pedal] %s -> %s\n", e.Input, e.Label)
	})
	defer inst.Bus.Unsubscribe(id)

	entries := []categorize.Entry{
		{
			Spec:  "pedal_tap:th_250",
			Label: "Pedal tap",
			Effect: decorate.Effect{
				NoArgs: func() {},
			},
		},
	}
	if err := inst.Mode.SetupFlat(entries); err != nil {
		return err
	}

	ticker := time.NewTicker(400 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			inst.Dispatcher.Execute("pedal_tap", decorate.Context{})
		}
	}
}

// handleControlLine intercepts the small set of non-event control verbs
// the REPL understands (mode switching/introspection) before falling
// through to ordinary event dispatch.
func handleControlLine(amb *registry.Ambient, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "mode:cycle":
		name, err := amb.Mode.Cycle()
		if err == nil {
			color.New(color.FgGreen).Printf("mode -> %s\n", name)
		}
		return true, err
	case "mode:revert":
		name, err := amb.Mode.Revert()
		if err == nil {
			color.New(color.FgGreen).Printf("mode -> %s\n", name)
		}
		return true, err
	case "mode:set":
		if len(fields) < 2 {
			return true, fmt.Errorf("usage: mode:set <name>")
		}
		return true, amb.Mode.SetMode(fields[1])
	case "mode:get":
		color.New(color.FgGreen).Printf("mode = %s\n", amb.Mode.Current())
		return true, nil
	}
	return false, nil
}

// parseEventLine splits "input_name field=value ..." into the input name
// and a decorate.Context, tolerating unknown or malformed field tokens by
// silently dropping them (matching the engine's own silence-on-unknown
// policy for anything outside its contract).
func parseEventLine(line string) (string, decorate.Context) {
	fields := strings.Fields(line)
	name := fields[0]

	var ctx decorate.Context
	for _, tok := range fields[1:] {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		switch k {
		case "power":
			ctx.Power = &f
		case "f0":
			ctx.F0 = &f
		case "f1":
			ctx.F1 = &f
		case "f2":
			ctx.F2 = &f
		case "x":
			ctx.X = &f
		case "y":
			ctx.Y = &f
		case "value":
			ctx.Value = &f
		}
	}
	return name, ctx
}

func printEvent(e eventbus.Event) {
	c := color.New(color.FgCyan)
	if debug {
		c.Printf("fired: input=%q label=%q mode=%q power=%s f0=%s f1=%s f2=%s x=%s y=%s value=%s\n",
			e.Input, e.Label, e.Mode,
			fmtPtr(e.Power), fmtPtr(e.F0), fmtPtr(e.F1), fmtPtr(e.F2), fmtPtr(e.X), fmtPtr(e.Y), fmtPtr(e.Value))
		return
	}
	c.Printf("fired: %s -> %s\n", e.Input, e.Label)
}

func fmtPtr(v *float64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
