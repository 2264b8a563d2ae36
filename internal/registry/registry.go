// Package registry holds the three instance shapes a host can create: a
// process-wide ambient instance bound to a hot-reloading config hook,
// explicitly named channel instances with independent subscribers, and
// minimalist single-input instances that normalize a shorthand mode map
// into a standard dispatcher.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	goerrors "github.com/go-faster/errors"
	"gopkg.in/yaml.v3"

	"inputdispatch/internal/categorize"
	"inputdispatch/internal/decorate"
	"inputdispatch/internal/dispatch"
	"inputdispatch/internal/eventbus"
	"inputdispatch/internal/mode"
	"inputdispatch/internal/obslog"
	"inputdispatch/internal/settings"
	"inputdispatch/internal/timer"
)

// Instance bundles the three collaborators every registered dispatcher
// needs: the dispatcher itself, its mode controller, and its event bus.
type Instance struct {
	Dispatcher *dispatch.Dispatcher
	Mode       *mode.Controller
	Bus        *eventbus.Bus
}

func newInstance(sched timer.Scheduler, s settings.Settings) *Instance {
	bus := eventbus.New()
	d := dispatch.New(sched, bus, s)
	return &Instance{
		Dispatcher: d,
		Mode:       mode.New(d, sched),
		Bus:        bus,
	}
}

// ---------------------------------------------------------------------
// Ambient instance
// ---------------------------------------------------------------------

// ConfigProvider is the configuration hook the ambient instance polls:
// identity is compared against the previous call's identity to decide
// whether to re-run setup, which is the hot-reload path for live editing.
// identity should be cheap to compare (a version counter, a pointer, a
// hash) — never the mapping itself.
type ConfigProvider interface {
	Load() (modes map[string][]categorize.Entry, order []string, identity any, err error)
}

// Ambient is the process-wide instance bound to a ConfigProvider. Every
// Execute call compares the provider's current identity against the last
// one it set up under, re-running setup on change.
type Ambient struct {
	*Instance

	mu           sync.Mutex
	provider     ConfigProvider
	lastIdentity any
}

// NewAmbient constructs the ambient instance and performs its initial
// setup from provider.
func NewAmbient(sched timer.Scheduler, s settings.Settings, provider ConfigProvider) (*Ambient, error) {
	a := &Ambient{
		Instance: newInstance(sched, s),
		provider: provider,
	}
	if err := a.reload(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Ambient) reload() error {
	modes, order, identity, err := a.provider.Load()
	if err != nil {
		return goerrors.Wrap(err, "ambient: loading configuration")
	}
	if err := a.Mode.Setup(modes, order); err != nil {
		return goerrors.Wrap(err, "ambient: setup")
	}
	a.mu.Lock()
	a.lastIdentity = identity
	a.mu.Unlock()
	return nil
}

// Execute checks the config provider's identity before dispatching,
// re-running setup when it has changed, then forwards to the dispatcher.
func (a *Ambient) Execute(inputName string, ctx decorate.Context) error {
	if err := a.reloadIfStale(); err != nil {
		return err
	}
	a.Dispatcher.Execute(inputName, ctx)
	return nil
}

// ExecuteBool is the ambient boolean-input overload: it runs the same
// hot-reload check as Execute, then delegates the "_stop" name rewrite to
// Dispatcher.ExecuteBool.
func (a *Ambient) ExecuteBool(inputName string, active bool, ctx decorate.Context) error {
	if err := a.reloadIfStale(); err != nil {
		return err
	}
	a.Dispatcher.ExecuteBool(inputName, active, ctx)
	return nil
}

// ExecuteParrot is the ambient voice-noise overload, hot-reload check
// included.
func (a *Ambient) ExecuteParrot(name string, power, f0, f1, f2 float64) error {
	return a.Execute(name, decorate.Context{Power: &power, F0: &f0, F1: &f1, F2: &f2})
}

// ExecuteXY is the ambient spatial-source overload.
func (a *Ambient) ExecuteXY(name string, x, y float64) error {
	return a.Execute(name, decorate.Context{X: &x, Y: &y})
}

// ExecuteValue is the ambient scalar-source overload.
func (a *Ambient) ExecuteValue(name string, value float64) error {
	return a.Execute(name, decorate.Context{Value: &value})
}

func (a *Ambient) reloadIfStale() error {
	_, _, identity, err := a.provider.Load()
	if err != nil {
		return goerrors.Wrap(err, "ambient: checking configuration identity")
	}

	a.mu.Lock()
	stale := identity != a.lastIdentity
	a.mu.Unlock()

	if stale {
		return a.reload()
	}
	return nil
}

// MapProvider is the in-memory ConfigProvider flavor: the host hands it a
// mode dictionary directly and calls Swap to install a new one, which
// bumps the version the ambient instance compares identities with. The
// simplest way to embed the engine, and the shape every test uses.
type MapProvider struct {
	mu      sync.Mutex
	modes   map[string][]categorize.Entry
	order   []string
	version int64
}

// NewMapProvider constructs a provider serving the given mode dictionary.
func NewMapProvider(modes map[string][]categorize.Entry, order []string) *MapProvider {
	return &MapProvider{modes: modes, order: order}
}

// Swap replaces the served configuration and bumps the identity version,
// so the next ambient Execute re-runs setup.
func (p *MapProvider) Swap(modes map[string][]categorize.Entry, order []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modes = modes
	p.order = order
	p.version++
}

// Load implements ConfigProvider.
func (p *MapProvider) Load() (map[string][]categorize.Entry, []string, any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modes, p.order, p.version, nil
}

// FileProvider is a ConfigProvider backed by a YAML file on disk, watched
// with fsnotify so edits are picked up without restarting the host.
// Actions can't be serialized through YAML, so each entry names an action
// key resolved through an ActionResolver supplied by the host at startup
// (the CLI demo's own action table, for instance).
type FileProvider struct {
	path     string
	resolver ActionResolver

	watcher *fsnotify.Watcher
	version int64
}

// ActionResolver maps an action key from the YAML file to a live Effect.
// Unresolvable keys are skipped with a logged diagnostic rather than
// failing the whole load, mirroring specparser.Parse's one-bad-entry
// tolerance.
type ActionResolver func(actionKey string) (decorate.Effect, bool)

type yamlFile struct {
	Order []string               `yaml:"order"`
	Modes map[string][]yamlEntry `yaml:"modes"`
}

type yamlEntry struct {
	Spec   string `yaml:"spec"`
	Label  string `yaml:"label"`
	Action string `yaml:"action"`
}

// NewFileProvider constructs a provider watching path for changes. The
// returned provider's identity is an internal version counter bumped on
// every filesystem write event; it is not meaningful outside this type.
func NewFileProvider(path string, resolver ActionResolver) (*FileProvider, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, goerrors.Wrap(err, "registry: creating fsnotify watcher")
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, goerrors.Wrap(err, "registry: watching config directory")
	}

	p := &FileProvider{path: path, resolver: resolver, watcher: w}
	go p.watchLoop()
	return p, nil
}

func (p *FileProvider) watchLoop() {
	for {
		select {
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(p.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				atomic.AddInt64(&p.version, 1)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			obslog.Warnf("registry: config watcher error: %v", err)
		}
	}
}

// Close stops the underlying filesystem watcher.
func (p *FileProvider) Close() error {
	return p.watcher.Close()
}

// Load implements ConfigProvider by parsing the YAML file and resolving
// each entry's action key through the configured ActionResolver.
func (p *FileProvider) Load() (map[string][]categorize.Entry, []string, any, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, nil, nil, goerrors.Wrap(err, fmt.Sprintf("registry: reading %s", p.path))
	}

	var doc yamlFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, nil, goerrors.Wrap(err, fmt.Sprintf("registry: parsing %s", p.path))
	}

	modes := make(map[string][]categorize.Entry, len(doc.Modes))
	for name, rawEntries := range doc.Modes {
		entries := make([]categorize.Entry, 0, len(rawEntries))
		for _, re := range rawEntries {
			eff, ok := p.resolver(re.Action)
			if !ok {
				obslog.Warnf("registry: mode %q spec %q references unknown action %q, skipped", name, re.Spec, re.Action)
				continue
			}
			entries = append(entries, categorize.Entry{Spec: re.Spec, Label: re.Label, Effect: eff})
		}
		modes[name] = entries
	}

	identity := atomic.LoadInt64(&p.version)
	return modes, doc.Order, identity, nil
}

// ---------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------

// Channels is the registry of explicitly named dispatcher instances.
// Registration is refused, not overwritten, for a name already in use —
// the existing instance keeps running and a diagnostic is logged.
type Channels struct {
	mu       sync.Mutex
	channels map[string]*Instance
}

// NewChannels constructs an empty channel registry.
func NewChannels() *Channels {
	return &Channels{channels: make(map[string]*Instance)}
}

// Register creates and installs a new named instance, or returns the
// existing one unchanged if name is already registered.
func (c *Channels) Register(name string, sched timer.Scheduler, s settings.Settings) *Instance {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.channels[name]; ok {
		obslog.Warnf("registry: channel %q already registered, keeping existing instance", name)
		return existing
	}
	inst := newInstance(sched, s)
	c.channels[name] = inst
	return inst
}

// Get looks up a previously registered channel by name.
func (c *Channels) Get(name string) (*Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok := c.channels[name]
	return inst, ok
}

// Unregister removes a previously registered channel, mirroring
// peersmgr.manager.go's plain delete-from-map teardown. Unregistering an
// unknown name is a no-op, matching the engine's general "unknown names
// fail quietly outside control operations that explicitly document
// otherwise" posture.
func (c *Channels) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, name)
}

// List returns the currently registered channel names in sorted order.
func (c *Channels) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------
// Singles
// ---------------------------------------------------------------------

// Behavior is a (label, effect) pair, the normalized unit every single
// shape reduces to.
type Behavior struct {
	Label  string
	Effect decorate.Effect
}

// SingleMode is one mode's value in the shorthand single map. Exactly one
// of Bare or Named should be set: Bare for the "effect" and "(label,
// effect)" shapes, Named for the "inner map" shape giving several named
// behaviors within one mode. Named is a Go map, so NewSingle does not
// keep the order its behaviors were written in: when two named behaviors
// are conditional alternatives on the same base, which one is tried first
// is not defined.
type SingleMode struct {
	Bare  *Behavior
	Named map[string]Behavior
}

// NewSingle builds a standard Instance from the shorthand mode -> (effect
// | (label, effect) | inner map) shape, normalizing every mode
// into mode -> {name: (label, effect)} and delegating to mode.Controller.
// order gives the insertion order of modes (the initial mode is order[0],
// "the first key in insertion order").
func NewSingle(sched timer.Scheduler, s settings.Settings, inputName string, modes map[string]SingleMode, order []string) (*Instance, error) {
	if len(order) == 0 {
		return nil, goerrors.New("registry: NewSingle requires at least one mode")
	}

	normalized := make(map[string][]categorize.Entry, len(modes))
	for name, sm := range modes {
		var entries []categorize.Entry
		switch {
		case sm.Bare != nil:
			entries = append(entries, categorize.Entry{
				Spec:   inputName,
				Label:  sm.Bare.Label,
				Effect: sm.Bare.Effect,
			})
		case sm.Named != nil:
			for behaviorName, b := range sm.Named {
				entries = append(entries, categorize.Entry{
					Spec:   behaviorName,
					Label:  b.Label,
					Effect: b.Effect,
				})
			}
		}
		normalized[name] = entries
	}

	inst := newInstance(sched, s)
	if err := inst.Mode.Setup(normalized, order); err != nil {
		return nil, goerrors.Wrap(err, "registry: setting up single instance")
	}
	return inst, nil
}

// Singles is the name-keyed registry of single-input mini dispatchers.
// Mode operations on a single are reached through Get(name).Mode, so
// per-single mode control is just a lookup away. Registration refusal
// mirrors Channels.
type Singles struct {
	mu      sync.Mutex
	singles map[string]*Instance
}

// NewSingles constructs an empty single registry.
func NewSingles() *Singles {
	return &Singles{singles: make(map[string]*Instance)}
}

// Register normalizes and installs a new single under name, or returns
// the existing instance unchanged if name is already registered.
func (r *Singles) Register(name string, sched timer.Scheduler, s settings.Settings, inputName string, modes map[string]SingleMode, order []string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.singles[name]; ok {
		obslog.Warnf("registry: single %q already registered, keeping existing instance", name)
		return existing, nil
	}
	inst, err := NewSingle(sched, s, inputName, modes, order)
	if err != nil {
		return nil, err
	}
	r.singles[name] = inst
	return inst, nil
}

// Get looks up a previously registered single by name, returning a
// domain error for an unknown name — control operations against missing
// named resources fail fast rather than silently.
func (r *Singles) Get(name string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.singles[name]
	if !ok {
		return nil, goerrors.New(fmt.Sprintf("registry: unknown single %q", name))
	}
	return inst, nil
}

// Unregister removes a previously registered single; unknown names are a
// no-op, as with Channels.Unregister.
func (r *Singles) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.singles, name)
}

// List returns the registered single names in sorted order.
func (r *Singles) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.singles))
	for name := range r.singles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
