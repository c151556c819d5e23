package rate

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryBackend is a process-local Backend. Expired windows are swept
// lazily every few thousand operations.
type MemoryBackend struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	ops     int
}

// NewMemoryBackend returns an empty MemoryBackend. A nil now uses time.Now.
func NewMemoryBackend(now func() time.Time) *MemoryBackend {
	if now == nil {
		now = time.Now
	}
	return &MemoryBackend{windows: make(map[string]*window), now: now}
}

func (m *MemoryBackend) Incr(ctx context.Context, key string, length time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops++
	if m.ops%sweepEvery == 0 {
		m.sweep(now)
	}

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(length)}
		m.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

func (m *MemoryBackend) Decr(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		return nil
	}
	if w.count > 0 {
		w.count--
	}
	return nil
}

// Len returns the number of tracked windows, live or not yet swept.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func (m *MemoryBackend) sweep(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
