package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shinyyama/estate-chat/internal/service"
)

// LocalDirectory serves profiles for header-mode development. Registered
// profiles win; any other non-empty uid resolves to a bare profile named after it.
type LocalDirectory struct {
	mu    sync.RWMutex
	users map[string]service.Profile
}

func NewLocalDirectory(profiles ...service.Profile) *LocalDirectory {
	d := &LocalDirectory{users: make(map[string]service.Profile, len(profiles))}
	for _, p := range profiles {
		d.Put(p)
	}
	return d
}

func (d *LocalDirectory) Put(p service.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[p.UID] = p
}

func (d *LocalDirectory) GetUser(_ context.Context, uid string) (*service.Profile, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, service.ErrUserNotFound
	}
	d.mu.RLock()
	p, ok := d.users[uid]
	d.mu.RUnlock()
	if !ok {
		p = service.Profile{UID: uid, Name: uid}
	}
	return &p, nil
}

type cachedProfile struct {
	profile *service.Profile
	err     error
	expires time.Time
}

// CachedDirectory memoizes lookups, including not-found answers, for ttl.
type CachedDirectory struct {
	next service.UserDirectory
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cachedProfile
}

func NewCachedDirectory(next service.UserDirectory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{next: next, ttl: ttl, now: time.Now, entries: make(map[string]cachedProfile)}
}

func (c *CachedDirectory) GetUser(ctx context.Context, uid string) (*service.Profile, error) {
	now := c.now()
	c.mu.Lock()
	if e, ok := c.entries[uid]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		return e.profile, e.err
	}
	c.mu.Unlock()

	p, err := c.next.GetUser(ctx, uid)
	if err != nil && !errors.Is(err, service.ErrUserNotFound) {
		// Transient failures are not cached.
		return nil, err
	}
	c.mu.Lock()
	c.entries[uid] = cachedProfile{profile: p, err: err, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return p, err
}
