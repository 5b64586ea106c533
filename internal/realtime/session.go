package realtime

import "sync"

const recentMessageIDs = 256

// Session is one connected websocket.
//
// Send is never closed by the server so concurrent relays cannot panic;
// done signals the session goroutines to stop and Close is idempotent.
type Session struct {
	ID   string
	Send chan Envelope

	mu       sync.Mutex
	userID   string
	verified string
	rooms    map[string]struct{}
	seen     map[string]struct{}
	seenRing []string
	seenNext int

	done      chan struct{}
	closeOnce sync.Once
}

// NewSession constructs a Session with a bounded send queue.
// verifiedUID is the uid proven at handshake, or "" for anonymous sessions.
func NewSession(id, verifiedUID string, sendQueueSize int) *Session {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Session{
		ID:       id,
		Send:     make(chan Envelope, sendQueueSize),
		verified: verifiedUID,
		rooms:    make(map[string]struct{}),
		seen:     make(map[string]struct{}, recentMessageIDs),
		seenRing: make([]string, recentMessageIDs),
		done:     make(chan struct{}),
	}
}

// UserID is the uid announced on this session, "" before user_online.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) VerifiedUID() string {
	return s.verified
}

func (s *Session) setUserID(uid string) (prev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev = s.userID
	s.userID = uid
	return prev
}

func (s *Session) addRoom(id string) {
	s.mu.Lock()
	s.rooms[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) removeRoom(id string) {
	s.mu.Lock()
	delete(s.rooms, id)
	s.mu.Unlock()
}

func (s *Session) InRoom(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[id]
	return ok
}

func (s *Session) roomIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

// delivered reports whether messageID already reached this session.
func (s *Session) delivered(messageID string) bool {
	if messageID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[messageID]
	return ok
}

// markDelivered records messageID and reports whether it was new to this session.
// Only the most recent ids are remembered.
func (s *Session) markDelivered(messageID string) bool {
	if messageID == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[messageID]; ok {
		return false
	}
	if old := s.seenRing[s.seenNext]; old != "" {
		delete(s.seen, old)
	}
	s.seenRing[s.seenNext] = messageID
	s.seenNext = (s.seenNext + 1) % len(s.seenRing)
	s.seen[messageID] = struct{}{}
	return true
}

// Done returns a channel that is closed when the session is shutting down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// enqueue never blocks; it reports false when the queue is full or the session is closing.
func (s *Session) enqueue(env Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.Send <- env:
		return true
	default:
		return false
	}
}
