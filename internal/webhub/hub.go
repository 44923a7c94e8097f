package webhub

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/agent/internal/eventbus"
)

// ErrConnectionLimitExceeded is returned by Connect when the hub is already
// at MaxConnections.
var ErrConnectionLimitExceeded = errors.New("websocket connection limit exceeded")

const (
	defaultMaxConnections  = 50
	defaultReplayBufferLen = 500
	defaultReplayTTL       = 5 * time.Minute
)

// replayedEvent is one buffered broadcast, tagged with its hub-wide sequence
// number so a reconnecting client can ask for everything after the last one
// it saw.
type replayedEvent struct {
	Sequence int64
	Event    eventbus.Event
	At       time.Time
}

// Sender is the minimal surface Hub needs from a connected client to push it
// an event; *Client implements this against a real websocket.Conn.
type Sender interface {
	Send(event eventbus.Event) error
	Close(code int, reason string) error
}

// Hub tracks connected WebSocket clients, assigns a monotonic sequence number
// to every broadcast event, and buffers recent events so a reconnecting
// client can replay what it missed.
type Hub struct {
	mu             sync.Mutex
	clients        map[string]Sender
	sequence       int64
	replayBuffer   []replayedEvent
	maxConnections int
	replayBufLen   int
	replayTTL      time.Duration
	logger         *slog.Logger
}

// Option configures a Hub beyond its defaults.
type Option func(*Hub)

// WithMaxConnections overrides the default maximum concurrent connections.
func WithMaxConnections(n int) Option {
	return func(h *Hub) { h.maxConnections = n }
}

// WithReplayBuffer overrides the default replay buffer size and TTL.
func WithReplayBuffer(length int, ttl time.Duration) Option {
	return func(h *Hub) { h.replayBufLen = length; h.replayTTL = ttl }
}

// New builds an empty Hub.
func New(logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:        make(map[string]Sender),
		maxConnections: defaultMaxConnections,
		replayBufLen:   defaultReplayBufferLen,
		replayTTL:      defaultReplayTTL,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect registers sender under requestedClientID (or a freshly generated
// one), replays any buffered events newer than lastSequence, and returns the
// assigned client ID. It refuses the connection with
// ErrConnectionLimitExceeded once at capacity.
func (h *Hub) Connect(requestedClientID string, lastSequence *int64, sender Sender) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) >= h.maxConnections {
		return "", ErrConnectionLimitExceeded
	}

	clientID := requestedClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	h.clients[clientID] = sender

	if lastSequence != nil {
		for _, re := range h.replayBuffer {
			if re.Sequence > *lastSequence {
				if err := sender.Send(re.Event); err != nil {
					h.logger.Warn("replay send failed", slog.String("client_id", clientID), slog.String("error", err.Error()))
				}
			}
		}
	}

	return clientID, nil
}

// Disconnect removes clientID from the hub. Safe to call for an unknown ID.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, clientID)
}

// ConnectionCount returns the number of currently connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast assigns event the next sequence number, buffers it, and pushes it
// to every connected client.
func (h *Hub) Broadcast(event eventbus.Event) {
	seq := atomic.AddInt64(&h.sequence, 1)

	h.mu.Lock()
	h.replayBuffer = append(h.replayBuffer, replayedEvent{Sequence: seq, Event: event, At: time.Now()})
	h.trimReplayBufferLocked()
	clients := make(map[string]Sender, len(h.clients))
	for id, s := range h.clients {
		clients[id] = s
	}
	h.mu.Unlock()

	for id, sender := range clients {
		if err := sender.Send(event); err != nil {
			h.logger.Warn("broadcast send failed", slog.String("client_id", id), slog.String("error", err.Error()))
		}
	}
}

// trimReplayBufferLocked drops entries beyond the configured length or TTL.
// Callers must hold h.mu.
func (h *Hub) trimReplayBufferLocked() {
	if len(h.replayBuffer) > h.replayBufLen {
		h.replayBuffer = h.replayBuffer[len(h.replayBuffer)-h.replayBufLen:]
	}
	cutoff := time.Now().Add(-h.replayTTL)
	start := 0
	for start < len(h.replayBuffer) && h.replayBuffer[start].At.Before(cutoff) {
		start++
	}
	if start > 0 {
		h.replayBuffer = h.replayBuffer[start:]
	}
}

// SubscribeBus wires every event published on bus into the hub's broadcast,
// for the closed event-type set surfaced to the browser.
func (h *Hub) SubscribeBus(bus *eventbus.Bus, eventTypes ...string) {
	for _, t := range eventTypes {
		bus.Subscribe(t, func(e eventbus.Event) error {
			h.Broadcast(e)
			return nil
		})
	}
}

// Shutdown closes every connected client.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make(map[string]Sender, len(h.clients))
	for id, s := range h.clients {
		clients[id] = s
	}
	h.clients = make(map[string]Sender)
	h.mu.Unlock()

	for id, sender := range clients {
		if err := sender.Close(1001, "server shutting down"); err != nil {
			h.logger.Warn("close during shutdown failed", slog.String("client_id", id), slog.String("error", err.Error()))
		}
	}
}
