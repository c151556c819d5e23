package authcore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/internal/rate"
	"github.com/railconnect/authcore/lockout"
)

// Login authenticates by email or phone and issues a session.
//
// The order of checks is fixed: rate limit, input validation, lookup,
// lockout gate, secret verification, status. An unknown identifier and a
// wrong secret return the same ErrInvalidCredentials after the same amount
// of hashing work. A lock in force wins over a correct secret.
func (e *Engine) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricLoginLatency, time.Since(start))
		}
	}()

	if err := e.hit(ctx, rate.ClassLogin, creds.Identifier); err != nil {
		return nil, err
	}

	login, err := e.normalizeIdentifier(creds.Identifier)
	if err != nil {
		return nil, err
	}
	if creds.Password == "" {
		return nil, invalid("password", "Password is required")
	}

	ident, err := e.findByLogin(ctx, login)
	if errors.Is(err, identity.ErrNotFound) {
		// Same hashing cost as a real miss.
		e.hasher.Verify(creds.Password, e.dummyHash)
		e.loginFailed(ctx, "", login, 0, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, e.backendFailure(ctx, "find identity", err)
	}

	now := e.now()
	if ident.IsLocked(now) {
		e.metricInc(MetricLoginRejectedLocked)
		e.loginFailed(ctx, ident.ID, login, ident.Lockout.FailureCount, ErrAccountLocked)
		return nil, ErrAccountLocked
	}

	if !e.hasher.Verify(creds.Password, ident.SecretHash) {
		return nil, e.recordFailure(ctx, ident, login, now)
	}

	if !ident.CanAuthenticate() {
		e.metricInc(MetricLoginSuspended)
		e.loginFailed(ctx, ident.ID, login, 0, ErrAccountSuspended)
		return nil, ErrAccountSuspended
	}

	last := identity.LastLogin{At: now, IP: ClientIPFromContext(ctx), UserAgent: userAgentFromContext(ctx)}
	sctx, cancel := e.storeContext(ctx)
	st, err := e.store.RecordSuccess(sctx, ident.ID, now, last)
	cancel()
	if err != nil {
		return nil, e.backendFailure(ctx, "record login success", err)
	}
	if st.Locked(now) {
		// A concurrent failure locked the identity first.
		e.metricInc(MetricLoginRejectedLocked)
		e.loginFailed(ctx, ident.ID, login, st.FailureCount, ErrAccountLocked)
		return nil, ErrAccountLocked
	}
	ident.Lockout = st
	ident.LastLogin = &last

	e.maybeRehash(ctx, ident, creds.Password, now)
	e.refundLogin(ctx)

	sess, err := e.issueSession(ctx, ident, creds.RememberMe)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, ident.ID, login, 0, nil, nil)
	return sess, nil
}

// recordFailure applies one wrong-secret login attempt and maps the
// resulting lockout state to the caller-facing error.
func (e *Engine) recordFailure(ctx context.Context, ident *identity.Identity, login string, now time.Time) error {
	st, outcome, err := e.countFailure(ctx, ident, login, now)
	if err != nil {
		return err
	}
	switch outcome {
	case lockout.OutcomeLocked:
		return ErrAccountLocked
	case lockout.OutcomeRejected:
		e.metricInc(MetricLoginRejectedLocked)
		e.loginFailed(ctx, ident.ID, login, st.FailureCount, ErrAccountLocked)
		return ErrAccountLocked
	default:
		e.loginFailed(ctx, ident.ID, login, st.FailureCount, ErrInvalidCredentials)
		return ErrInvalidCredentials
	}
}

// countFailure records a verified-wrong secret atomically in the store. The
// attempt that sets the lock is logged, counted and audited here.
func (e *Engine) countFailure(ctx context.Context, ident *identity.Identity, login string, now time.Time) (lockout.State, lockout.Outcome, error) {
	sctx, cancel := e.storeContext(ctx)
	st, err := e.store.RecordFailure(sctx, ident.ID, now, e.config.Lockout)
	cancel()
	if err != nil {
		return lockout.State{}, 0, e.backendFailure(ctx, "record credential failure", err)
	}

	outcome := e.config.Lockout.Outcome(st, now)
	if outcome == lockout.OutcomeLocked {
		e.metricInc(MetricLoginLocked)
		e.logger.WarnContext(ctx, "identity locked",
			slog.String("user_id", ident.ID),
			slog.String("ip", ClientIPFromContext(ctx)),
			slog.Int("attempts", st.FailureCount),
			slog.Time("locked_until", st.LockedUntil),
		)
		e.emitAudit(ctx, auditEventAccountLocked, false, ident.ID, login, st.FailureCount, ErrAccountLocked, func() map[string]string {
			return map[string]string{"locked_until": st.LockedUntil.UTC().Format(time.RFC3339)}
		})
	}
	return st, outcome, nil
}

func (e *Engine) loginFailed(ctx context.Context, userID, login string, attempts int, err error) {
	e.metricInc(MetricLoginFailure)
	e.logger.InfoContext(ctx, "login rejected",
		slog.String("identifier", login),
		slog.String("ip", ClientIPFromContext(ctx)),
		slog.Int("attempts", attempts),
		slog.String("reason", string(auditErrorCode(err))),
	)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, login, attempts, err, nil)
}

// maybeRehash replaces a legacy or under-cost hash after a verified login.
// Failure is logged; the login still succeeds.
func (e *Engine) maybeRehash(ctx context.Context, ident *identity.Identity, secret string, now time.Time) {
	if !e.config.Password.UpgradeOnLogin || !e.hasher.NeedsUpgrade(ident.SecretHash) {
		return
	}
	hash, err := e.hasher.Hash(secret)
	if err != nil {
		e.logger.WarnContext(ctx, "rehash failed", slog.String("user_id", ident.ID), slog.Any("error", err))
		return
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.store.UpdateSecret(sctx, ident.ID, hash, now); err != nil {
		e.logger.WarnContext(ctx, "rehash store failed", slog.String("user_id", ident.ID), slog.Any("error", err))
		return
	}
	ident.SecretHash = hash
	e.metricInc(MetricPasswordRehash)
	e.emitAudit(ctx, auditEventPasswordRehash, true, ident.ID, "", 0, nil, nil)
}

// refundLogin returns a successful login's slot to the caller's budget so
// only failures count toward the login window.
func (e *Engine) refundLogin(ctx context.Context) {
	rctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.limiter.Undo(rctx, rate.ClassLogin, ClientIPFromContext(ctx)); err != nil {
		e.logger.WarnContext(ctx, "rate refund failed", slog.Any("error", err))
	}
}

func (e *Engine) findByLogin(ctx context.Context, login string) (*identity.Identity, error) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.FindByLogin(sctx, login)
}

func (e *Engine) findByID(ctx context.Context, id string) (*identity.Identity, error) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.FindByID(sctx, id)
}
