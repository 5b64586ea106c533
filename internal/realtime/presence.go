package realtime

import (
	"sort"
	"sync"
)

// Presence counts live sessions per user. A user is online while at least one
// of their sessions is registered.
type Presence struct {
	mu    sync.RWMutex
	users map[string]map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{users: make(map[string]map[string]struct{})}
}

// AddConnection registers sessionID under uid and reports whether uid just came online.
func (p *Presence) AddConnection(uid, sessionID string) bool {
	if uid == "" || sessionID == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	conns, ok := p.users[uid]
	if !ok {
		conns = make(map[string]struct{})
		p.users[uid] = conns
	}
	conns[sessionID] = struct{}{}
	return !ok
}

// RemoveConnection drops sessionID from uid and reports whether uid went offline.
// Removing an unknown session is a no-op.
func (p *Presence) RemoveConnection(uid, sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns, ok := p.users[uid]
	if !ok {
		return false
	}
	if _, ok := conns[sessionID]; !ok {
		return false
	}
	delete(conns, sessionID)
	if len(conns) == 0 {
		delete(p.users, uid)
		return true
	}
	return false
}

func (p *Presence) IsOnline(uid string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.users[uid]
	return ok
}

// Online returns the online uids in sorted order.
func (p *Presence) Online() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.users))
	for uid := range p.users {
		out = append(out, uid)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (p *Presence) Sessions(uid string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.users[uid]))
	for id := range p.users[uid] {
		out = append(out, id)
	}
	return out
}

func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users)
}
