package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/internal"
	"github.com/railconnect/authcore/internal/rate"
)

// RequestPasswordReset issues a reset token for the identity named by
// identifier and hands it to the Notifier. The result is the same whether
// or not the identifier exists.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.hit(ctx, rate.ClassForgot, identifier); err != nil {
		return err
	}
	login, err := e.normalizeIdentifier(identifier)
	if err != nil {
		return err
	}
	e.metricInc(MetricPasswordResetRequest)

	ident, err := e.findByLogin(ctx, login)
	if errors.Is(err, identity.ErrNotFound) {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", login, 0, ErrNotFound, nil)
		return nil
	}
	if err != nil {
		return e.backendFailure(ctx, "find identity", err)
	}
	if !ident.CanAuthenticate() {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, ident.ID, login, 0, ErrAccountSuspended, nil)
		return nil
	}

	channel := identity.ChannelPhone
	if strings.Contains(login, "@") {
		channel = identity.ChannelEmail
	}
	if err := e.issueToken(ctx, ident, identity.KindReset, channel); err != nil {
		// Surfacing the failure would tell the caller the identifier exists.
		e.logger.ErrorContext(ctx, "reset token not issued",
			slog.String("user_id", ident.ID),
			slog.Any("error", err),
		)
		e.emitAudit(ctx, auditEventNotificationFailed, false, ident.ID, login, 0, ErrInternal, nil)
		return nil
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, ident.ID, login, 0, nil, nil)
	return nil
}

// ResetPassword consumes a reset token and replaces the secret in the same
// store update. Every refresh token of the identity is revoked afterwards.
// Lockout state is left as it is.
func (e *Engine) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := internal.ValidOpaqueToken(rawToken); err != nil {
		e.resetFailed(ctx)
		return ErrResetTokenInvalid
	}
	if err := e.checkPassword("password", newPassword); err != nil {
		return err
	}
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return e.backendFailure(ctx, "hash password", err)
	}

	sctx, cancel := e.storeContext(ctx)
	ident, err := e.store.ConsumeToken(sctx, identity.KindReset, internal.HashToken(rawToken), e.now(),
		identity.Effect{NewSecretHash: hash})
	cancel()
	if errors.Is(err, identity.ErrNotFound) {
		e.resetFailed(ctx)
		return ErrResetTokenInvalid
	}
	if err != nil {
		return e.backendFailure(ctx, "consume reset token", err)
	}

	e.revokeAll(ctx, ident.ID, "password_reset")
	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, ident.ID, "", 0, nil, nil)
	return nil
}

func (e *Engine) resetFailed(ctx context.Context) {
	e.metricInc(MetricPasswordResetFailure)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", 0, ErrResetTokenInvalid, nil)
}

// issueToken generates a one-time token of kind, stores its hash in place of
// any outstanding one and passes the raw value to the Notifier.
func (e *Engine) issueToken(ctx context.Context, ident *identity.Identity, kind identity.TokenKind, channel identity.Channel) error {
	raw, err := internal.NewOpaqueToken()
	if err != nil {
		return err
	}

	var (
		ttl      time.Duration
		delivery DeliveryKind
		tok      identity.Token
	)
	switch kind {
	case identity.KindVerification:
		ttl, delivery = e.config.Tokens.VerificationTTL, DeliveryVerification
		raw = verificationPrefix(channel) + raw
		tok.Channel = channel
	case identity.KindReset:
		ttl, delivery = e.config.Tokens.ResetTTL, DeliveryPasswordReset
	default:
		return errors.New("unknown token kind")
	}

	now := e.now()
	tok.Hash = internal.HashToken(raw)
	tok.ExpiresAt = now.Add(ttl)

	sctx, cancel := e.storeContext(ctx)
	err = e.store.SetToken(sctx, ident.ID, kind, tok, now)
	cancel()
	if err != nil {
		return err
	}

	nctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.notifier.Deliver(nctx, Delivery{
		Kind:       delivery,
		Channel:    channel,
		IdentityID: ident.ID,
		Email:      ident.Email,
		Phone:      ident.Phone,
		Token:      raw,
		ExpiresAt:  tok.ExpiresAt,
	})
}
