package session

import (
	"context"
	"sync"
	"time"
)

type refreshEntry struct {
	uid       string
	expiresAt time.Time
}

// MemoryStore implements Registry and Denylist in process. It suits a
// single instance; state is lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	refresh map[string]refreshEntry
	byUser  map[string]map[string]struct{}
	denied  map[string]time.Time
	now     func() time.Time
}

var (
	_ Registry = (*MemoryStore)(nil)
	_ Denylist = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty MemoryStore. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		refresh: make(map[string]refreshEntry),
		byUser:  make(map[string]map[string]struct{}),
		denied:  make(map[string]time.Time),
		now:     now,
	}
}

func (m *MemoryStore) Save(ctx context.Context, uid, jti string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refresh[jti] = refreshEntry{uid: uid, expiresAt: m.now().Add(ttl)}
	set, ok := m.byUser[uid]
	if !ok {
		set = make(map[string]struct{})
		m.byUser[uid] = set
	}
	set[jti] = struct{}{}
	return nil
}

func (m *MemoryStore) Consume(ctx context.Context, uid, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.liveLocked(uid, jti)
	m.removeLocked(jti)
	return live, nil
}

func (m *MemoryStore) Active(ctx context.Context, uid, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(uid, jti), nil
}

func (m *MemoryStore) Revoke(ctx context.Context, uid, jti string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(jti)
	return nil
}

func (m *MemoryStore) RevokeAll(ctx context.Context, uid string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.byUser[uid]
	for jti := range set {
		delete(m.refresh, jti)
	}
	delete(m.byUser, uid)
	return len(set), nil
}

func (m *MemoryStore) Deny(ctx context.Context, jti string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, until := range m.denied {
		if !now.Before(until) {
			delete(m.denied, k)
		}
	}
	m.denied[jti] = now.Add(ttl)
	return nil
}

func (m *MemoryStore) Denied(ctx context.Context, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.denied[jti]
	return ok && m.now().Before(until), nil
}

func (m *MemoryStore) liveLocked(uid, jti string) bool {
	e, ok := m.refresh[jti]
	return ok && e.uid == uid && m.now().Before(e.expiresAt)
}

func (m *MemoryStore) removeLocked(jti string) {
	e, ok := m.refresh[jti]
	if !ok {
		return
	}
	delete(m.refresh, jti)
	if set := m.byUser[e.uid]; set != nil {
		delete(set, jti)
		if len(set) == 0 {
			delete(m.byUser, e.uid)
		}
	}
}
