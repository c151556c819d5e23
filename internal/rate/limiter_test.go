package rate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemoryLimiter(t *testing.T) (*Limiter, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	l, err := New(NewMemoryBackend(clock.Now), DefaultConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return l, clock
}

func newRedisLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	l, err := New(NewRedisBackend(rdb), DefaultConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return l, mr
}

func TestLoginBudgetMemory(t *testing.T) {
	l, clock := newMemoryLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.Hit(ctx, ClassLogin, "203.0.113.7")
		if err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
		if !d.Allowed || d.Remaining != 5-i {
			t.Fatalf("hit %d: unexpected decision %+v", i, d)
		}
	}

	d, err := l.Hit(ctx, ClassLogin, "203.0.113.7")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if d.Allowed || d.RetryAfter != 15*time.Minute {
		t.Fatalf("unexpected denied decision %+v", d)
	}

	if _, err := l.Hit(ctx, ClassLogin, "198.51.100.1"); err != nil {
		t.Fatalf("expected other IP to be unaffected: %v", err)
	}

	clock.Advance(15 * time.Minute)
	if _, err := l.Hit(ctx, ClassLogin, "203.0.113.7"); err != nil {
		t.Fatalf("expected new window after expiry: %v", err)
	}
}

func TestUndoExcludesSuccessesMemory(t *testing.T) {
	l, _ := newMemoryLimiter(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if _, err := l.Hit(ctx, ClassLogin, "10.0.0.1"); err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
		if err := l.Undo(ctx, ClassLogin, "10.0.0.1"); err != nil {
			t.Fatalf("undo %d: %v", i, err)
		}
	}
	d, err := l.Hit(ctx, ClassLogin, "10.0.0.1")
	if err != nil || d.Remaining != 4 {
		t.Fatalf("expected refunded successes not to count, got %+v %v", d, err)
	}
}

func TestClassesAreIndependent(t *testing.T) {
	l, _ := newMemoryLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Hit(ctx, ClassRegister, "10.0.0.2"); err != nil {
			t.Fatalf("register hit %d: %v", i, err)
		}
	}
	if _, err := l.Hit(ctx, ClassRegister, "10.0.0.2"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected 4th registration to be limited, got %v", err)
	}
	if _, err := l.Hit(ctx, ClassForgot, "10.0.0.2"); err != nil {
		t.Fatalf("expected forgot budget untouched: %v", err)
	}
}

func TestConcurrentHitsNeverOverAdmit(t *testing.T) {
	l, _ := newMemoryLimiter(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, err := l.Hit(ctx, ClassLogin, "10.0.0.3"); err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 5 {
		t.Fatalf("expected exactly 5 admitted, got %d", allowed)
	}
}

func TestUnknownClassUnlimited(t *testing.T) {
	l, _ := newMemoryLimiter(t)
	for i := 0; i < 100; i++ {
		if _, err := l.Hit(context.Background(), Class("other"), "10.0.0.4"); err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules[ClassLogin] = Rule{Limit: 0, Window: time.Minute}
	if _, err := New(NewMemoryBackend(nil), cfg); err == nil {
		t.Fatal("expected zero limit to be rejected")
	}
}

func TestLoginBudgetRedis(t *testing.T) {
	l, mr := newRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Hit(ctx, ClassLogin, "203.0.113.9"); err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
	}
	d, err := l.Hit(ctx, ClassLogin, "203.0.113.9")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 15*time.Minute {
		t.Fatalf("unexpected RetryAfter %v", d.RetryAfter)
	}
	if ttl := mr.TTL("rl:login:203.0.113.9"); ttl <= 0 {
		t.Fatalf("expected key TTL, got %v", ttl)
	}

	mr.FastForward(15 * time.Minute)
	if _, err := l.Hit(ctx, ClassLogin, "203.0.113.9"); err != nil {
		t.Fatalf("expected new window after expiry: %v", err)
	}
}

func TestUndoRedis(t *testing.T) {
	l, mr := newRedisLimiter(t)
	ctx := context.Background()

	if _, err := l.Hit(ctx, ClassLogin, "10.1.1.1"); err != nil {
		t.Fatalf("hit: %v", err)
	}
	if err := l.Undo(ctx, ClassLogin, "10.1.1.1"); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if err := l.Undo(ctx, ClassLogin, "10.1.1.1"); err != nil {
		t.Fatalf("second undo: %v", err)
	}
	got, err := mr.Get("rl:login:10.1.1.1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "0" {
		t.Fatalf("expected counter floor at 0, got %q", got)
	}
}

func TestRedisUnavailableFailsClosed(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	l, err := New(NewRedisBackend(rdb), DefaultConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	mr.Close()

	_, err = l.Hit(context.Background(), ClassLogin, "10.2.2.2")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
