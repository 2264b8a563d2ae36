// Package eventbus delivers dispatch outcomes to subscribers: a minimal
// per-instance fan-out of Event values, each subscriber identified by a
// uuid so it can unsubscribe itself later. Only real firings are
// published — a suppressed or deferred invocation never reaches the bus.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
)

// Event is one published dispatch outcome: the input/chain that
// matched, the action's display label, the owning mode, and a snapshot of
// the numeric context at the moment the action fired.
type Event struct {
	ID    string
	Input string
	Label string
	Mode  string

	Power, F0, F1, F2, X, Y, Value *float64
}

// Subscriber receives published events. Implementations must not block;
// slow consumers should buffer internally.
type Subscriber func(Event)

// Bus is one instance's publish/subscribe point. Safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
}

// New constructs an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string]Subscriber)}
}

// Subscribe registers fn and returns an id that can later be passed to
// Unsubscribe.
func (b *Bus) Subscribe(fn Subscriber) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = fn
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a previously registered subscriber, if present.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Publish stamps e with a fresh correlation id and fans it out to every
// current subscriber. Subscribers are snapshotted under the read lock so a
// subscriber added or removed mid-publish never deadlocks the bus.
func (b *Bus) Publish(e Event) {
	e.ID = uuid.NewString()

	b.mu.RLock()
	fns := make([]Subscriber, 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}
