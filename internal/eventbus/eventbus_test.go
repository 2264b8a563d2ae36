package eventbus_test

import (
	"testing"

	"inputdispatch/internal/eventbus"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()

	var a, b []eventbus.Event
	bus.Subscribe(func(e eventbus.Event) { a = append(a, e) })
	bus.Subscribe(func(e eventbus.Event) { b = append(b, e) })

	bus.Publish(eventbus.Event{Input: "pop", Label: "Jump"})

	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("len(a)=%d len(b)=%d, want 1,1", len(a), len(b))
	}
	if a[0].ID == "" {
		t.Fatalf("expected Publish to stamp a non-empty correlation ID")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()

	var count int
	id := bus.Subscribe(func(eventbus.Event) { count++ })
	bus.Publish(eventbus.Event{Input: "pop"})
	bus.Unsubscribe(id)
	bus.Publish(eventbus.Event{Input: "pop"})

	if count != 1 {
		t.Fatalf("count = %d, want 1 (unsubscribed callback should not run again)", count)
	}
}
