package realtime

import "sync"

// Rooms groups sessions by conversation id for scoped fanout.
// Membership here is routing only; authorization happens before Join.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Session
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]map[string]*Session)}
}

func (r *Rooms) Join(roomID string, s *Session) {
	if roomID == "" || s == nil {
		return
	}
	r.mu.Lock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Session)
		r.rooms[roomID] = members
	}
	members[s.ID] = s
	r.mu.Unlock()
	s.addRoom(roomID)
}

func (r *Rooms) Leave(roomID string, s *Session) {
	if s == nil {
		return
	}
	r.mu.Lock()
	if members, ok := r.rooms[roomID]; ok {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	r.mu.Unlock()
	s.removeRoom(roomID)
}

// LeaveAll removes s from every room it joined.
func (r *Rooms) LeaveAll(s *Session) {
	for _, id := range s.roomIDs() {
		r.Leave(id, s)
	}
}

// Members returns a snapshot so callers can fan out without holding the lock.
func (r *Rooms) Members(roomID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[roomID]
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	return out
}

func (r *Rooms) Size(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}
