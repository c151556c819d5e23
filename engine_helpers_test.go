package authcore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/store/memory"
)

const testPassword = "correct-horse-42"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
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

type captureNotifier struct {
	mu         sync.Mutex
	deliveries []Delivery
	err        error
}

func (n *captureNotifier) Deliver(_ context.Context, d Delivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.deliveries = append(n.deliveries, d)
	return nil
}

func (n *captureNotifier) last(t *testing.T, kind DeliveryKind) Delivery {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.deliveries) - 1; i >= 0; i-- {
		if n.deliveries[i].Kind == kind {
			return n.deliveries[i]
		}
	}
	t.Fatalf("no %s delivery captured", kind)
	return Delivery{}
}

func (n *captureNotifier) count(kind DeliveryKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, d := range n.deliveries {
		if d.Kind == kind {
			c++
		}
	}
	return c
}

// countingStore wraps a store and counts reads so tests can assert that a
// path never touches it.
type countingStore struct {
	identity.Store
	reads atomic.Int64
}

func (s *countingStore) FindByID(ctx context.Context, id string) (*identity.Identity, error) {
	s.reads.Add(1)
	return s.Store.FindByID(ctx, id)
}

func (s *countingStore) FindByLogin(ctx context.Context, login string) (*identity.Identity, error) {
	s.reads.Add(1)
	return s.Store.FindByLogin(ctx, login)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("access-signing-key-0123456789abcdef")
	cfg.Refresh.Secret = []byte("refresh-signing-key-0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

type testEnv struct {
	engine   *Engine
	store    *countingStore
	clock    *testClock
	notifier *captureNotifier
	audit    *ChannelSink
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = true
	for _, fn := range mutate {
		fn(&cfg)
	}

	env := &testEnv{
		store:    &countingStore{Store: memory.New()},
		clock:    newTestClock(),
		notifier: &captureNotifier{},
		audit:    NewChannelSink(1024),
	}
	engine, err := New().
		WithConfig(cfg).
		WithStore(env.store).
		WithClock(env.clock.Now).
		WithNotifier(env.notifier).
		WithAuditSink(env.audit).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

var phoneSeq atomic.Int64

func (env *testEnv) register(t *testing.T, email string) *Session {
	t.Helper()
	n := phoneSeq.Add(1) % 100
	sess, err := env.engine.Register(ctxFromIP(fmt.Sprintf("10.1.0.%d", n)), Registration{
		Name:     "Asha Rao",
		Email:    email,
		Phone:    fmt.Sprintf("+9181234567%02d", n),
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return sess
}

func ctxFromIP(ip string) context.Context {
	return WithUserAgent(WithClientIP(context.Background(), ip), "authcore-test")
}

func (env *testEnv) identity(t *testing.T, id string) *identity.Identity {
	t.Helper()
	ident, err := env.store.Store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s) failed: %v", id, err)
	}
	return ident
}
