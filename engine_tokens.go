package authcore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/railconnect/authcore/identity"
)

// Validate verifies an access token and returns the identity snapshot it
// carries. It checks signature, expiry, issuer, audience and the access
// denylist; it never reads the credential store.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if accessToken == "" {
		return nil, ErrTokenInvalid
	}
	claims, err := e.jwt.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	sctx, cancel := e.storeContext(ctx)
	denied, err := e.denylist.Denied(sctx, claims.ID)
	cancel()
	if err != nil {
		return nil, e.backendFailure(ctx, "access denylist", err)
	}
	if denied {
		return nil, ErrTokenInvalid
	}

	return &AuthResult{
		UserID:    claims.UID,
		Email:     claims.Email,
		Role:      identity.Role(claims.Role),
		Verified:  claims.Verified,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh exchanges a refresh token for a new access token.
//
// With rotation on, the presented token is consumed and replaced by one
// with the same absolute expiry; presenting a consumed token revokes every
// refresh token of the identity. Every failure is ErrTokenInvalid.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if refreshToken == "" {
		return nil, ErrTokenInvalid
	}
	claims, err := e.jwt.ParseRefresh(refreshToken)
	if err != nil {
		e.refreshFailed(ctx, "", ErrTokenInvalid, "parse")
		return nil, ErrTokenInvalid
	}

	sctx, cancel := e.storeContext(ctx)
	var live bool
	if e.config.Refresh.Rotate {
		live, err = e.registry.Consume(sctx, claims.UID, claims.ID)
	} else {
		live, err = e.registry.Active(sctx, claims.UID, claims.ID)
	}
	cancel()
	if err != nil {
		return nil, e.backendFailure(ctx, "refresh registry", err)
	}
	if !live {
		if e.config.Refresh.Rotate {
			e.refreshReused(ctx, claims.UID, claims.ID)
		} else {
			e.refreshFailed(ctx, claims.UID, ErrTokenInvalid, "revoked")
		}
		return nil, ErrTokenInvalid
	}

	ident, err := e.findByID(ctx, claims.UID)
	if errors.Is(err, identity.ErrNotFound) {
		e.refreshFailed(ctx, claims.UID, ErrTokenInvalid, "identity_missing")
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, e.backendFailure(ctx, "find identity", err)
	}
	if !ident.CanAuthenticate() {
		e.refreshFailed(ctx, ident.ID, ErrAccountSuspended, "status")
		return nil, ErrTokenInvalid
	}

	access, accessClaims, err := e.jwt.CreateAccess(subjectOf(ident))
	if err != nil {
		return nil, e.backendFailure(ctx, "sign access token", err)
	}
	out := &RefreshResult{
		AccessToken:     access,
		AccessExpiresAt: accessClaims.ExpiresAt.Time,
	}

	if e.config.Refresh.Rotate {
		next, nextClaims, err := e.jwt.CreateRefresh(ident.ID, claims.Remember, claims.ExpiresAt.Time)
		if err != nil {
			return nil, e.backendFailure(ctx, "sign refresh token", err)
		}
		sctx, cancel := e.storeContext(ctx)
		err = e.registry.Save(sctx, ident.ID, nextClaims.ID, nextClaims.ExpiresAt.Sub(e.now()))
		cancel()
		if err != nil {
			return nil, e.backendFailure(ctx, "register refresh token", err)
		}
		out.RefreshToken = next
		out.RefreshExpiresAt = nextClaims.ExpiresAt.Time
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, ident.ID, "", 0, nil, nil)
	return out, nil
}

func (e *Engine) refreshFailed(ctx context.Context, uid string, err error, reason string) {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, uid, "", 0, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
}

func (e *Engine) refreshReused(ctx context.Context, uid, jti string) {
	e.metricInc(MetricRefreshFailure)
	e.metricInc(MetricRefreshReuseDetected)
	e.logger.WarnContext(ctx, "refresh token reuse",
		slog.String("user_id", uid),
		slog.String("ip", ClientIPFromContext(ctx)),
	)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, uid, "", 0, ErrTokenInvalid, func() map[string]string {
		return map[string]string{"jti": jti}
	})
	e.revokeAll(ctx, uid, "refresh_reuse")
}

// Logout revokes the refresh token and denylists the access token until it
// expires. Either token may be empty or already invalid; only backend
// failures are returned.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	var errs []error
	uid := ""

	if refreshToken != "" {
		if claims, err := e.jwt.ParseRefresh(refreshToken); err == nil {
			uid = claims.UID
			sctx, cancel := e.storeContext(ctx)
			if err := e.registry.Revoke(sctx, claims.UID, claims.ID); err != nil {
				errs = append(errs, err)
			}
			cancel()
		}
	}

	if accessToken != "" {
		if claims, err := e.jwt.ParseAccess(accessToken); err == nil {
			uid = claims.UID
			if ttl := claims.ExpiresAt.Sub(e.now()); ttl > 0 {
				sctx, cancel := e.storeContext(ctx)
				if err := e.denylist.Deny(sctx, claims.ID, ttl); err != nil {
					errs = append(errs, err)
				}
				cancel()
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return e.backendFailure(ctx, "logout", err)
	}
	e.metricInc(MetricLogout)
	if uid != "" {
		e.emitAudit(ctx, auditEventLogout, true, uid, "", 0, nil, nil)
	}
	return nil
}

// Me returns the public view of the identity an access token names.
func (e *Engine) Me(ctx context.Context, userID string) (identity.View, error) {
	if e == nil {
		return identity.View{}, ErrEngineNotReady
	}
	ident, err := e.findByID(ctx, userID)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.View{}, ErrTokenInvalid
	}
	if err != nil {
		return identity.View{}, e.backendFailure(ctx, "find identity", err)
	}
	if ident.Status == identity.StatusDeactivated {
		return identity.View{}, ErrTokenInvalid
	}
	return ident.ToView(), nil
}
