package webhub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/agent/internal/eventbus"
)

type fakeSender struct {
	mu     sync.Mutex
	events []eventbus.Event
	closed bool
	failOn error
}

func (f *fakeSender) Send(event eventbus.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil {
		return f.failOn
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSender) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestConnectAssignsGeneratedIDWhenNoneRequested(t *testing.T) {
	h := New(nil)
	id, err := h.Connect("", nil, &fakeSender{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a generated client id")
	}
}

func TestConnectRejectsAtMaxConnections(t *testing.T) {
	h := New(nil, WithMaxConnections(1))
	if _, err := h.Connect("c1", nil, &fakeSender{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.Connect("c2", nil, &fakeSender{}); !errors.Is(err, ErrConnectionLimitExceeded) {
		t.Fatalf("expected ErrConnectionLimitExceeded, got %v", err)
	}
}

func TestDisconnectFreesCapacity(t *testing.T) {
	h := New(nil, WithMaxConnections(1))
	h.Connect("c1", nil, &fakeSender{})
	h.Disconnect("c1")
	if _, err := h.Connect("c2", nil, &fakeSender{}); err != nil {
		t.Fatalf("expected capacity to be freed after disconnect: %v", err)
	}
}

func TestBroadcastReachesAllConnectedClients(t *testing.T) {
	h := New(nil)
	s1, s2 := &fakeSender{}, &fakeSender{}
	h.Connect("c1", nil, s1)
	h.Connect("c2", nil, s2)

	h.Broadcast(eventbus.Event{Type: "WorkflowStepStarted"})

	if s1.count() != 1 || s2.count() != 1 {
		t.Fatalf("expected both clients to receive the broadcast, got %d and %d", s1.count(), s2.count())
	}
}

func TestConnectReplaysEventsAfterLastSequence(t *testing.T) {
	h := New(nil)
	h.Broadcast(eventbus.Event{Type: "A"})
	h.Broadcast(eventbus.Event{Type: "B"})
	h.Broadcast(eventbus.Event{Type: "C"})

	one := int64(1)
	reconnecting := &fakeSender{}
	if _, err := h.Connect("c1", &one, reconnecting); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reconnecting.count() != 2 {
		t.Fatalf("expected 2 replayed events (sequence 2 and 3), got %d", reconnecting.count())
	}
}

func TestConnectWithNoLastSequenceSkipsReplay(t *testing.T) {
	h := New(nil)
	h.Broadcast(eventbus.Event{Type: "A"})

	fresh := &fakeSender{}
	if _, err := h.Connect("c1", nil, fresh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fresh.count() != 0 {
		t.Fatalf("expected no replay for a brand new connection, got %d", fresh.count())
	}
}

func TestReplayBufferTrimsToConfiguredLength(t *testing.T) {
	h := New(nil, WithReplayBuffer(2, time.Hour))
	h.Broadcast(eventbus.Event{Type: "A"})
	h.Broadcast(eventbus.Event{Type: "B"})
	h.Broadcast(eventbus.Event{Type: "C"})

	zero := int64(0)
	reconnecting := &fakeSender{}
	h.Connect("c1", &zero, reconnecting)
	if reconnecting.count() != 2 {
		t.Fatalf("expected buffer trimmed to 2 entries, replayed %d", reconnecting.count())
	}
}

func TestShutdownClosesAllClients(t *testing.T) {
	h := New(nil)
	s1, s2 := &fakeSender{}, &fakeSender{}
	h.Connect("c1", nil, s1)
	h.Connect("c2", nil, s2)

	h.Shutdown()

	if !s1.closed || !s2.closed {
		t.Fatalf("expected both clients closed on shutdown")
	}
	if h.ConnectionCount() != 0 {
		t.Fatalf("expected no connections after shutdown, got %d", h.ConnectionCount())
	}
}
