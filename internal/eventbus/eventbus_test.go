package eventbus

import (
	"errors"
	"testing"
	"time"
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	bus := New(nil)
	var order []int

	bus.Subscribe("workflow.step.started", func(Event) error {
		order = append(order, 1)
		return nil
	})
	bus.Subscribe("workflow.step.started", func(Event) error {
		order = append(order, 2)
		return nil
	})

	bus.Publish(Event{Type: "workflow.step.started", Timestamp: time.Now()})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected delivery order [1 2], got %v", order)
	}
}

func TestPublishIsolatesHandlerFailure(t *testing.T) {
	bus := New(nil)
	called := false

	bus.Subscribe("ceremony.failed", func(Event) error {
		return errors.New("boom")
	})
	bus.Subscribe("ceremony.failed", func(Event) error {
		called = true
		return nil
	})

	bus.Publish(Event{Type: "ceremony.failed"})

	if !called {
		t.Fatal("expected second handler to run despite first handler's error")
	}
}

func TestPublishIsolatesHandlerPanic(t *testing.T) {
	bus := New(nil)
	called := false

	bus.Subscribe("quality_gate.failed", func(Event) error {
		panic("unexpected")
	})
	bus.Subscribe("quality_gate.failed", func(Event) error {
		called = true
		return nil
	})

	bus.Publish(Event{Type: "quality_gate.failed"})

	if !called {
		t.Fatal("expected second handler to run despite first handler's panic")
	}
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	bus := New(nil)
	count := 0

	token := bus.Subscribe("system.heartbeat", func(Event) error {
		count++
		return nil
	})
	bus.Publish(Event{Type: "system.heartbeat"})
	bus.Unsubscribe("system.heartbeat", token)
	bus.Publish(Event{Type: "system.heartbeat"})

	if count != 1 {
		t.Fatalf("expected handler to fire exactly once, fired %d times", count)
	}
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	bus := New(nil)
	bus.Publish(Event{Type: "file.modified"})

	seen := false
	bus.Subscribe("file.modified", func(Event) error {
		seen = true
		return nil
	})

	if seen {
		t.Fatal("late subscriber should not have seen an event published before it subscribed")
	}
}

func TestDifferentTopicsDoNotCrossDeliver(t *testing.T) {
	bus := New(nil)
	aCount, bCount := 0, 0

	bus.Subscribe("thread.created", func(Event) error { aCount++; return nil })
	bus.Subscribe("thread.reply", func(Event) error { bCount++; return nil })

	bus.Publish(Event{Type: "thread.created"})

	if aCount != 1 || bCount != 0 {
		t.Fatalf("expected only thread.created subscriber to fire, got a=%d b=%d", aCount, bCount)
	}
}
