// Package mode resolves a (possibly multi-mode) user configuration into
// categorized tables, switches between modes while flushing the
// dispatcher's transient state, and caches each mode's compiled tables so
// repeat switches are free. A current/previous name pair gives Revert its
// one-step "go back" semantics.
package mode

import (
	"fmt"
	"sync"

	goerrors "github.com/go-faster/errors"
	gocache "github.com/patrickmn/go-cache"

	"inputdispatch/internal/categorize"
	"inputdispatch/internal/dispatch"
	"inputdispatch/internal/specparser"
	"inputdispatch/internal/timer"
)

// DefaultModeName is the mode a flat specifier map is installed under
// when the caller has no mode dictionary of its own.
const DefaultModeName = "default"

// Controller owns one dispatcher's mode lifecycle: the raw per-mode entry
// lists, the compiled-tables cache, and current/previous mode tracking.
type Controller struct {
	mu sync.Mutex

	dispatcher *dispatch.Dispatcher
	sched      timer.Scheduler
	cache      *gocache.Cache

	specs map[string][]categorize.Entry
	order []string

	current  string
	previous string
}

// New constructs a Controller bound to d. The cache never expires entries
// on its own (NoExpiration for both TTL and sweep interval) since compiled
// tables are only ever invalidated by an explicit Setup call.
func New(d *dispatch.Dispatcher, sched timer.Scheduler) *Controller {
	return &Controller{
		dispatcher: d,
		sched:      sched,
		cache:      gocache.New(gocache.NoExpiration, gocache.NoExpiration),
	}
}

// SetupFlat installs a single-mode configuration under DefaultModeName,
// the flat-map convenience case.
func (c *Controller) SetupFlat(entries []categorize.Entry) error {
	return c.Setup(map[string][]categorize.Entry{DefaultModeName: entries}, []string{DefaultModeName})
}

// Setup installs a mode dictionary and switches to order[0]. order gives
// the insertion sequence Cycle advances through, since Go maps carry no
// order of their own.
func (c *Controller) Setup(modes map[string][]categorize.Entry, order []string) error {
	if len(order) == 0 {
		return goerrors.New("mode: Setup requires at least one mode")
	}

	c.mu.Lock()
	c.specs = modes
	c.order = order
	c.cache.Flush()
	c.mu.Unlock()

	return c.SetMode(order[0])
}

// Current returns the active mode name, or "" if Setup hasn't run yet.
func (c *Controller) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetMode switches to name, building (or reusing a cached build of) its
// tables and flushing the dispatcher's transient state. It returns an
// error for an unrecognized mode name rather than switching.
func (c *Controller) SetMode(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switchToLocked(name)
}

func (c *Controller) switchToLocked(name string) error {
	entries, ok := c.specs[name]
	if !ok {
		return goerrors.New(fmt.Sprintf("mode: unknown mode %q", name))
	}

	tables, err := c.tablesForLocked(name, entries)
	if err != nil {
		return goerrors.Wrap(err, fmt.Sprintf("mode: categorizing %q", name))
	}

	c.previous = c.current
	c.current = name
	c.dispatcher.SetTables(tables, name)
	return nil
}

func (c *Controller) tablesForLocked(name string, entries []categorize.Entry) (*categorize.Tables, error) {
	if cached, ok := c.cache.Get(name); ok {
		return cached.(*categorize.Tables), nil
	}

	deps := categorize.Deps{
		Busy:    c.dispatcher.Busy(),
		Sched:   c.sched,
		CtxFn:   c.dispatcher.Context,
		Publish: c.dispatcher.PublishFired,
	}
	tables, err := categorize.Categorize(entries, deps)
	if err != nil {
		return nil, err
	}
	c.cache.Set(name, tables, gocache.NoExpiration)
	return tables, nil
}

// Cycle advances circularly through the configured mode order and returns
// the newly active mode name.
func (c *Controller) Cycle() (string, error) {
	c.mu.Lock()
	if len(c.order) == 0 {
		c.mu.Unlock()
		return "", goerrors.New("mode: Cycle called before Setup")
	}
	idx := 0
	for i, name := range c.order {
		if name == c.current {
			idx = i
			break
		}
	}
	next := c.order[(idx+1)%len(c.order)]
	c.mu.Unlock()

	if err := c.SetMode(next); err != nil {
		return "", err
	}
	return next, nil
}

// Revert swaps current and previous mode and returns the newly active
// name.
func (c *Controller) Revert() (string, error) {
	c.mu.Lock()
	prev := c.previous
	c.mu.Unlock()

	if prev == "" {
		return "", goerrors.New("mode: Revert called with no previous mode")
	}
	if err := c.SetMode(prev); err != nil {
		return "", err
	}
	return prev, nil
}

// Get returns the raw specifier -> entry mapping as originally supplied
// to Setup for name, keyed by the full specifier string (decorators and
// all). This is the mapping Legend derives its stripped-base-chain view
// from.
func (c *Controller) Get(name string) (map[string]categorize.Entry, error) {
	c.mu.Lock()
	entries, ok := c.specs[name]
	c.mu.Unlock()
	if !ok {
		return nil, goerrors.New(fmt.Sprintf("mode: unknown mode %q", name))
	}

	mapping := make(map[string]categorize.Entry, len(entries))
	for _, e := range entries {
		mapping[e.Spec] = e
	}
	return mapping, nil
}

// Legend returns the stripped base chain to label mapping for a mode's
// raw entries, dropping entries with an empty label. "Stripped" means the
// base chain only, with every ":..." decorator tail removed. It calls Get
// internally and formats that mapping; LegendOf does the same formatting
// for a mapping supplied directly.
func (c *Controller) Legend(name string) (map[string]string, error) {
	mapping, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	return LegendOf(mapping), nil
}

// LegendOf formats an already-fetched specifier -> entry mapping into
// the stripped-base-chain -> label view — for a caller that already has
// a mapping (e.g. from Get) and wants the legend view without a second
// mode lookup.
func LegendOf(mapping map[string]categorize.Entry) map[string]string {
	legend := make(map[string]string)
	for _, e := range mapping {
		if e.Label == "" {
			continue
		}
		desc := specparser.Parse(e.Spec)
		legend[desc.BaseChain()] = e.Label
	}
	return legend
}

// Modes returns the configured mode names in their declared order.
func (c *Controller) Modes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
