package webhub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/vinayprograms/agent/internal/eventbus"
	"github.com/vinayprograms/agent/internal/sessionlock"
	"github.com/vinayprograms/agent/internal/statestore"
)

// MessageStore is the slice of the state store handleWebSocket uses to
// persist inbound chat messages and thread replies.
type MessageStore interface {
	InsertMessage(m statestore.Message) (threadCreated bool, err error)
}

// inboundMessage is the wire shape a connected client sends to post a chat
// message or reply into a thread.
type inboundMessage struct {
	ConversationID   string `json:"conversation_id"`
	ConversationType string `json:"conversation_type"`
	Content          string `json:"content"`
	Role             string `json:"role"`
	AgentID          string `json:"agent_id"`
	ReplyToMessageID string `json:"reply_to_message_id"`
}

// Server is the HTTP façade in front of a Hub: health/token/lock-state
// endpoints plus the authenticated /ws upgrade, all localhost-only and
// served over plaintext HTTP/2 (h2c) the way the original deployment does.
type Server struct {
	hub      *Hub
	tokens   *TokenManager
	lock     *sessionlock.Lock
	logger   *slog.Logger
	mux      *http.ServeMux
	bus      *eventbus.Bus
	messages MessageStore
}

// NewServer assembles the route table. lock may be nil (web-only,
// lock-unaware deployments). bus and messages may also be nil, in which case
// inbound chat frames on /ws are read and discarded rather than persisted
// and rebroadcast.
func NewServer(hub *Hub, tokens *TokenManager, lock *sessionlock.Lock, logger *slog.Logger, bus *eventbus.Bus, messages MessageStore) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{hub: hub, tokens: tokens, lock: lock, logger: logger, mux: http.NewServeMux(), bus: bus, messages: messages}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/session/token", s.handleToken)
	s.mux.HandleFunc("/api/session/lock-state", s.handleLockState)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the h2c-wrapped root handler, ready to pass to an
// http.Server so HTTP/2 works on localhost without TLS.
func (s *Server) Handler() http.Handler {
	var lockChecker LockChecker
	if s.lock != nil {
		lockChecker = s.lock
	}
	wrapped := ReadOnlyMiddleware(lockChecker, s.logger)(s.mux)
	return h2c.NewHandler(wrapped, &http2.Server{})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": "1.0.0"})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"token": s.tokens.Token()})
}

func (s *Server) handleLockState(w http.ResponseWriter, r *http.Request) {
	if s.lock == nil {
		writeJSON(w, http.StatusOK, map[string]any{"mode": "", "isReadOnly": false, "holder": nil})
		return
	}
	state := s.lock.GetLockState()
	isReadOnly := state.Mode == sessionlock.ModeRead && state.Held
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":       state.Mode,
		"isReadOnly": isReadOnly,
		"holder":     state.Holder,
		"timestamp":  state.Timestamp,
	})
}

// handleWebSocket authenticates via X-Session-Token (or ?token=), then
// upgrades and registers the connection with the hub, replaying buffered
// events newer than X-Last-Sequence for a reconnecting X-Client-Id.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Session-Token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if !s.tokens.Validate(token) {
		s.logger.Warn("websocket_auth_failed")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_accept_failed", slog.String("error", err.Error()))
		return
	}

	requestedClientID := r.Header.Get("X-Client-Id")
	var lastSequence *int64
	if raw := r.Header.Get("X-Last-Sequence"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastSequence = &n
		}
	}

	client := NewClient(conn)
	clientID, err := s.hub.Connect(requestedClientID, lastSequence, client)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer s.hub.Disconnect(clientID)

	if err := client.Send(eventbus.Event{
		Type:      "system.heartbeat",
		Data:      map[string]any{"status": "connected", "client_id": clientID},
		Timestamp: time.Now(),
	}); err != nil {
		s.logger.Warn("heartbeat_send_failed", slog.String("client_id", clientID), slog.String("error", err.Error()))
	}

	s.logger.Info("websocket_connection_established",
		slog.String("client_id", clientID), slog.Bool("reconnection", requestedClientID != ""))

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		s.handleInboundMessage(clientID, data)
	}
}

// handleInboundMessage decodes a chat frame sent by a connected client and
// persists it. A reply additionally gets its thread (created on the parent's
// first reply, reused thereafter) and publishes the corresponding thread.*
// event so the hub rebroadcasts it to every client, including the sender —
// a top-level message with no reply_to_message_id is stored but does not
// itself belong to the thread.* domain event set, so nothing is published
// for it. Malformed or empty-content frames are dropped silently — the
// websocket carries only chat traffic, so anything else is treated as noise
// rather than a protocol error.
func (s *Server) handleInboundMessage(clientID string, data []byte) {
	if s.messages == nil {
		return
	}
	var in inboundMessage
	if err := json.Unmarshal(data, &in); err != nil || in.Content == "" {
		return
	}

	now := time.Now()
	convType := in.ConversationType
	if convType == "" {
		convType = string(statestore.ConversationDM)
	}
	role := in.Role
	if role == "" {
		role = string(statestore.RoleUser)
	}

	msg := statestore.Message{
		ID:               uuid.NewString(),
		ConversationID:   in.ConversationID,
		ConversationType: statestore.ConversationType(convType),
		Content:          in.Content,
		Role:             statestore.MessageRole(role),
		AgentID:          in.AgentID,
		ReplyToMessageID: in.ReplyToMessageID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.ReplyToMessageID != "" {
		msg.ThreadID = uuid.NewString()
	}

	threadCreated, err := s.messages.InsertMessage(msg)
	if err != nil {
		s.logger.Warn("inbound_message_persist_failed", slog.String("client_id", clientID), slog.String("error", err.Error()))
		return
	}

	if in.ReplyToMessageID == "" || s.bus == nil {
		return
	}
	eventType := "thread.reply"
	if threadCreated {
		eventType = "thread.created"
	}
	s.bus.Publish(eventbus.Event{
		Type: eventType,
		Data: map[string]any{
			"message_id":          msg.ID,
			"conversation_id":     msg.ConversationID,
			"content":             msg.Content,
			"role":                string(msg.Role),
			"thread_id":           msg.ThreadID,
			"reply_to_message_id": msg.ReplyToMessageID,
		},
		Timestamp: now,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
