package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/internal/audit"
	"github.com/railconnect/authcore/internal/rate"
	"github.com/railconnect/authcore/jwt"
	"github.com/railconnect/authcore/password"
	"github.com/railconnect/authcore/session"
)

// Engine is the identity and session security core. It is safe for
// concurrent use; build one with [New] and share it.
type Engine struct {
	config    Config
	store     identity.Store
	hasher    *password.Hasher
	dummyHash string
	jwt       *jwt.Manager
	limiter   *rate.Limiter
	registry  session.Registry
	denylist  session.Denylist
	notifier  Notifier
	audit     *audit.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Close drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// storeContext detaches ctx from caller cancellation and bounds it by the
// store timeout, so a disconnecting client never leaves a half-applied
// mutation behind.
func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), e.config.Store.OperationTimeout)
}

// hit charges one request of class against the caller's IP.
func (e *Engine) hit(ctx context.Context, class rate.Class, identifier string) error {
	rctx, cancel := e.storeContext(ctx)
	defer cancel()

	decision, err := e.limiter.Hit(rctx, class, ClientIPFromContext(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.emitRateLimit(ctx, string(class), identifier)
		e.logger.WarnContext(ctx, "rate limited",
			slog.String("scope", string(class)),
			slog.String("ip", ClientIPFromContext(ctx)),
			slog.Duration("retry_after", decision.RetryAfter),
		)
		return &RateLimitError{RetryAfter: decision.RetryAfter}
	default:
		return e.backendFailure(ctx, "rate limiter", err)
	}
}

// backendFailure logs err with full detail and returns the opaque
// ErrInternal callers fail closed on.
func (e *Engine) backendFailure(ctx context.Context, op string, err error) error {
	e.metricInc(MetricBackendFailure)
	e.logger.ErrorContext(ctx, "backend failure", slog.String("op", op), slog.Any("error", err))
	return internalError(op, err)
}

func (e *Engine) checkPassword(field, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return invalid(field, "Password is required")
	}
	if len([]rune(secret)) < e.config.Password.MinLength {
		return invalid(field, "Password is too short")
	}
	if limit := e.config.Password.MaxPasswordBytes; limit > 0 && len(secret) > limit {
		return invalid(field, "Password is too long")
	}
	return nil
}

func (e *Engine) normalizeIdentifier(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("identifier", "Email or phone number is required")
	}
	login, err := identity.NormalizeLogin(raw, e.config.Identity.DefaultRegion)
	if err != nil {
		return "", invalid("identifier", "Please provide a valid email or phone number")
	}
	return login, nil
}

// issueSession mints an access token and a registered refresh token for
// ident.
func (e *Engine) issueSession(ctx context.Context, ident *identity.Identity, remember bool) (*Session, error) {
	access, accessClaims, err := e.jwt.CreateAccess(subjectOf(ident))
	if err != nil {
		return nil, e.backendFailure(ctx, "sign access token", err)
	}
	refresh, refreshClaims, err := e.jwt.CreateRefresh(ident.ID, remember, time.Time{})
	if err != nil {
		return nil, e.backendFailure(ctx, "sign refresh token", err)
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	ttl := refreshClaims.ExpiresAt.Sub(e.now())
	if err := e.registry.Save(sctx, ident.ID, refreshClaims.ID, ttl); err != nil {
		return nil, e.backendFailure(ctx, "register refresh token", err)
	}

	return &Session{
		Identity:         ident.ToView(),
		AccessToken:      access,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// revokeAll drops every refresh token of uid. A failure is logged and
// audited but does not undo the mutation that triggered it.
func (e *Engine) revokeAll(ctx context.Context, uid, reason string) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	n, err := e.registry.RevokeAll(sctx, uid)
	if err != nil {
		e.logger.ErrorContext(ctx, "refresh revocation failed",
			slog.String("user_id", uid),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
		e.emitAudit(ctx, auditEventSessionRevocationFail, false, uid, "", 0, ErrInternal, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return
	}
	e.logger.InfoContext(ctx, "refresh tokens revoked",
		slog.String("user_id", uid),
		slog.String("reason", reason),
		slog.Int("count", n),
	)
}

func subjectOf(ident *identity.Identity) jwt.Subject {
	return jwt.Subject{
		UID:      ident.ID,
		Email:    ident.Email,
		Role:     string(ident.Role),
		Verified: ident.Verified(),
	}
}
