package authcore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/internal"
	"github.com/railconnect/authcore/internal/audit"
	"github.com/railconnect/authcore/internal/rate"
	"github.com/railconnect/authcore/jwt"
	"github.com/railconnect/authcore/password"
	"github.com/railconnect/authcore/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single use.
type Builder struct {
	config Config
	store  identity.Store
	redis  redis.UniversalClient

	logger    *slog.Logger
	auditSink AuditSink
	notifier  Notifier
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the credential store. Required.
func (b *Builder) WithStore(store identity.Store) *Builder {
	b.store = store
	return b
}

// WithRedis moves the rate limiter counters and the refresh registry into
// Redis so every instance shares them. Without it both are process-local.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithClock overrides the wall clock used for token issuance, lockout
// arithmetic and token expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine. Configuration
// errors are returned here and never surface per request.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	engine := &Engine{
		config:   cfg,
		store:    b.store,
		notifier: notifier,
		logger:   logger.With("component", "authcore"),
		now:      now,
	}

	// -------- PASSWORD HASHER --------
	hasher, err := password.NewHasher(cfg.Password.hasherConfig())
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	filler, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("dummy secret: %w", err)
	}
	engine.dummyHash, err = hasher.Hash(filler)
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	// -------- TOKEN ISSUER --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RefreshSecret: cloneBytes(cfg.Refresh.Secret),
		RefreshTTL:    cfg.Refresh.TTL,
		RememberTTL:   cfg.Refresh.RememberTTL,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwt = jm

	// -------- RATE LIMITER + SESSION REGISTRY --------
	var backend rate.Backend
	if b.redis != nil {
		backend = rate.NewRedisBackend(b.redis)
		sessions := session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
		engine.registry = sessions
		engine.denylist = sessions
	} else {
		backend = rate.NewMemoryBackend(now)
		sessions := session.NewMemoryStore(now)
		engine.registry = sessions
		engine.denylist = sessions
	}
	limiter, err := rate.New(backend, cfg.RateLimit.limiterConfig())
	if err != nil {
		return nil, err
	}
	engine.limiter = limiter

	// -------- AUDIT + METRICS --------
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
