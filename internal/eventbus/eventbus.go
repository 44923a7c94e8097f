// Package eventbus provides an in-process, topic-keyed publish/subscribe bus
// used to fan out workflow and ceremony lifecycle events.
package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

// Event is a single published occurrence.
type Event struct {
	Type      string
	Data      map[string]any
	Timestamp time.Time
}

// Handler receives a published event. A handler that returns an error is
// logged and otherwise ignored — it never stops delivery to later handlers.
type Handler func(Event) error

// subscription token handed back from Subscribe so callers can Unsubscribe
// without relying on func value comparison (Go funcs aren't comparable).
type Token int64

// Bus is a synchronous, single-process event bus. Publish invokes every
// subscribed handler for an event's type, in subscription order, on the
// publisher's own goroutine. Subscribe/Unsubscribe may be called concurrently
// with Publish; a mutex guards the subscriber map.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string][]subscriber
	nextToken   Token
	logger      *slog.Logger
}

type subscriber struct {
	token   Token
	handler Handler
}

// New creates an empty event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string][]subscriber),
		logger:      logger,
	}
}

// Subscribe registers handler for eventType and returns a token that can be
// passed to Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextToken++
	token := b.nextToken
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber{token: token, handler: handler})
	return token
}

// Unsubscribe removes the handler registered under token for eventType, if any.
func (b *Bus) Unsubscribe(eventType string, token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, s := range subs {
		if s.token == token {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// wildcardType subscribes a handler to every event, regardless of type. It is
// used by NATSBridge and is not part of the closed event-type set in §6.
const wildcardType = "*"

// Publish invokes every handler subscribed to event.Type, in subscription
// order, followed by any handler subscribed to the wildcard type. A handler's
// panic or returned error is caught, logged, and does not stop delivery to
// subsequent handlers or propagate to the caller.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	subs := make([]subscriber, 0, len(b.subscribers[event.Type])+len(b.subscribers[wildcardType]))
	subs = append(subs, b.subscribers[event.Type]...)
	if event.Type != wildcardType {
		subs = append(subs, b.subscribers[wildcardType]...)
	}
	b.mu.Unlock()

	for _, s := range subs {
		b.dispatch(s, event)
	}
}

func (b *Bus) dispatch(s subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event_handler_panicked", "event_type", event.Type, "panic", r)
		}
	}()
	if err := s.handler(event); err != nil {
		b.logger.Error("event_handler_failed", "event_type", event.Type, "error", err)
	}
}
