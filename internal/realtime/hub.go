package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

var ErrHubClosed = errors.New("realtime: hub closed")

// Exclude names recipients a fanout skips.
type Exclude struct {
	SessionID string
	UserID    string
}

func (e Exclude) skip(s *Session) bool {
	if e.SessionID != "" && s.ID == e.SessionID {
		return true
	}
	return e.UserID != "" && s.UserID() == e.UserID
}

// Hub owns every live session together with presence and room membership.
// Relays are best-effort: a full or closing session queue drops the event.
type Hub struct {
	log      *slog.Logger
	metrics  *Metrics
	presence *Presence
	rooms    *Rooms

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

func NewHub(log *slog.Logger, metrics *Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		metrics:  metrics,
		presence: NewPresence(),
		rooms:    NewRooms(),
		sessions: make(map[string]*Session),
	}
}

func (h *Hub) Register(s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.sessions[s.ID] = s
	h.metrics.connOpened()
	return nil
}

// Announce binds uid to s and registers it in presence. Announcing a
// different uid on the same session moves it.
func (h *Hub) Announce(s *Session, uid string) {
	if prev := s.setUserID(uid); prev != "" && prev != uid {
		h.presence.RemoveConnection(prev, s.ID)
	}
	if h.presence.AddConnection(uid, s.ID) {
		h.log.Info("presence.online", "user_id", uid, "session_id", s.ID)
	}
	h.metrics.setOnline(h.presence.Count())
	// Broadcast even without a change so the announcing session gets the list.
	h.broadcastOnline()
}

// Disconnect removes s from rooms and presence and closes it.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s.ID]
	delete(h.sessions, s.ID)
	h.mu.Unlock()
	if !ok {
		return
	}

	h.rooms.LeaveAll(s)
	s.Close()
	h.metrics.connClosed()

	if uid := s.UserID(); uid != "" && h.presence.RemoveConnection(uid, s.ID) {
		h.log.Info("presence.offline", "user_id", uid, "session_id", s.ID)
		h.metrics.setOnline(h.presence.Count())
		h.broadcastOnline()
	}
}

func (h *Hub) Join(s *Session, conversationID string) {
	h.rooms.Join(conversationID, s)
	h.log.Debug("room.join", "conversation_id", conversationID, "session_id", s.ID)
}

func (h *Hub) Leave(s *Session, conversationID string) {
	h.rooms.Leave(conversationID, s)
	h.log.Debug("room.leave", "conversation_id", conversationID, "session_id", s.ID)
}

// RelayMessage sends a stored message as receive_message to the conversation
// room. Each session gets a given messageID at most once, so the REST fanout
// and a resolved client hint do not duplicate. It returns the deliveries made.
func (h *Hub) RelayMessage(conversationID, messageID string, message json.RawMessage, ex Exclude) int {
	env := Envelope{Event: EventReceiveMessage, Data: message}
	n := 0
	for _, s := range h.rooms.Members(conversationID) {
		if ex.skip(s) || !s.markDelivered(messageID) {
			continue
		}
		if h.deliver(s, env) {
			n++
		}
	}
	return n
}

// RelayHint forwards a client-supplied message that could not be checked
// against storage. Sessions that already received messageID are skipped, but
// nothing is recorded, so the hint never suppresses the later server relay.
func (h *Hub) RelayHint(conversationID, messageID string, message json.RawMessage, ex Exclude) int {
	env := Envelope{Event: EventReceiveMessage, Data: message}
	n := 0
	for _, s := range h.rooms.Members(conversationID) {
		if ex.skip(s) || s.delivered(messageID) {
			continue
		}
		if h.deliver(s, env) {
			n++
		}
	}
	return n
}

func (h *Hub) RelayTyping(conversationID string, p TypingPayload, ex Exclude) int {
	return h.toRoom(conversationID, mustEnvelope(EventUserTyping, p), ex)
}

func (h *Hub) RelayStopTyping(conversationID string, p TypingPayload, ex Exclude) int {
	return h.toRoom(conversationID, mustEnvelope(EventUserStopTyping, p), ex)
}

// NotifyUser sends env to every session announced as uid.
func (h *Hub) NotifyUser(uid string, env Envelope) int {
	n := 0
	for _, id := range h.presence.Sessions(uid) {
		h.mu.RLock()
		s := h.sessions[id]
		h.mu.RUnlock()
		if s != nil && h.deliver(s, env) {
			n++
		}
	}
	return n
}

func (h *Hub) OnlineUsers() []string {
	return h.presence.Online()
}

func (h *Hub) IsOnline(uid string) bool {
	return h.presence.IsOnline(uid)
}

// Close rejects new sessions and signals every live session to stop.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	list := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s)
	}
	h.mu.Unlock()
	for _, s := range list {
		s.Close()
	}
	h.log.Info("hub.closed", "sessions", len(list))
}

func (h *Hub) toRoom(roomID string, env Envelope, ex Exclude) int {
	n := 0
	for _, s := range h.rooms.Members(roomID) {
		if ex.skip(s) {
			continue
		}
		if h.deliver(s, env) {
			n++
		}
	}
	return n
}

func (h *Hub) broadcastOnline() {
	env := mustEnvelope(EventUsersOnline, h.presence.Online())
	h.mu.RLock()
	list := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s)
	}
	h.mu.RUnlock()
	for _, s := range list {
		h.deliver(s, env)
	}
}

func (h *Hub) deliver(s *Session, env Envelope) bool {
	if s.enqueue(env) {
		return true
	}
	h.metrics.drop()
	return false
}
