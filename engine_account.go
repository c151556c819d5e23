package authcore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/lockout"
)

// ChangePassword replaces the secret of an authenticated identity after
// checking the current one. A wrong current secret counts toward lockout
// exactly like a failed login. On success every refresh token is revoked
// and a fresh session is returned in their place.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next string, remember bool) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if current == "" {
		return nil, invalid("currentPassword", "Current password is required")
	}
	if err := e.checkPassword("newPassword", next); err != nil {
		return nil, err
	}
	if current == next {
		return nil, invalid("newPassword", "New password must differ from the current one")
	}

	ident, err := e.findByID(ctx, userID)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, e.backendFailure(ctx, "find identity", err)
	}
	if !ident.CanAuthenticate() {
		return nil, ErrAccountSuspended
	}
	now := e.now()
	if ident.IsLocked(now) {
		return nil, ErrAccountLocked
	}
	if !e.hasher.Verify(current, ident.SecretHash) {
		e.metricInc(MetricPasswordChangeFailure)
		st, outcome, err := e.countFailure(ctx, ident, ident.Email, now)
		if err != nil {
			return nil, err
		}
		reason := ErrInvalidCredentials
		if outcome != lockout.OutcomeCounted {
			reason = ErrAccountLocked
		}
		e.emitAudit(ctx, auditEventPasswordChange, false, ident.ID, "", st.FailureCount, reason, nil)
		return nil, reason
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return nil, e.backendFailure(ctx, "hash password", err)
	}
	sctx, cancel := e.storeContext(ctx)
	err = e.store.UpdateSecret(sctx, ident.ID, hash, now)
	cancel()
	if err != nil {
		return nil, e.backendFailure(ctx, "update secret", err)
	}
	ident.SecretHash = hash

	e.revokeAll(ctx, ident.ID, "password_change")
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, ident.ID, "", 0, nil, nil)

	return e.issueSession(ctx, ident, remember)
}

// SetStatus moves an identity to status. Suspension and deactivation revoke
// every refresh token; outstanding access tokens run to expiry.
func (e *Engine) SetStatus(ctx context.Context, userID string, status identity.Status) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !status.Valid() {
		return invalid("status", "Unknown status")
	}

	sctx, cancel := e.storeContext(ctx)
	err := e.store.SetStatus(sctx, userID, status, e.now())
	cancel()
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, identity.ErrDuplicate):
		return ErrDuplicateIdentity
	case err != nil:
		return e.backendFailure(ctx, "set status", err)
	}

	if status == identity.StatusSuspended || status == identity.StatusDeactivated {
		e.revokeAll(ctx, userID, "status_"+string(status))
	}
	e.metricInc(MetricAccountStatusChange)
	e.logger.InfoContext(ctx, "identity status changed",
		slog.String("user_id", userID),
		slog.String("status", string(status)),
	)
	e.emitAudit(ctx, auditEventAccountStatusChange, true, userID, "", 0, nil, func() map[string]string {
		return map[string]string{"status": string(status)}
	})
	return nil
}

// Unlock clears the lockout state of userID.
func (e *Engine) Unlock(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	sctx, cancel := e.storeContext(ctx)
	err := e.store.ClearLockout(sctx, userID, e.now())
	cancel()
	if errors.Is(err, identity.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return e.backendFailure(ctx, "clear lockout", err)
	}

	e.metricInc(MetricAccountUnlock)
	e.emitAudit(ctx, auditEventAccountUnlock, true, userID, "", 0, nil, nil)
	return nil
}
