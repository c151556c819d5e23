package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/internal"
	"github.com/railconnect/authcore/internal/rate"
)

// Verification tokens carry their channel as a prefix. The prefix is part
// of the hashed value, so it cannot be swapped without invalidating the
// token.
const (
	emailVerificationPrefix = "ve_"
	phoneVerificationPrefix = "vp_"
)

func verificationPrefix(c identity.Channel) string {
	if c == identity.ChannelPhone {
		return phoneVerificationPrefix
	}
	return emailVerificationPrefix
}

func parseVerificationToken(raw string) (identity.Channel, bool) {
	var channel identity.Channel
	switch {
	case strings.HasPrefix(raw, emailVerificationPrefix):
		channel = identity.ChannelEmail
	case strings.HasPrefix(raw, phoneVerificationPrefix):
		channel = identity.ChannelPhone
	default:
		return "", false
	}
	if internal.ValidOpaqueToken(raw[len(emailVerificationPrefix):]) != nil {
		return "", false
	}
	return channel, true
}

// RequestVerification issues a verification token for channel to the
// identity userID. A channel that is already verified is a no-op. The new
// token supersedes any outstanding one for either channel.
func (e *Engine) RequestVerification(ctx context.Context, userID string, channel identity.Channel) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.hit(ctx, rate.ClassVerify, userID); err != nil {
		return err
	}
	if !channel.Valid() {
		return invalid("channel", "Channel must be email or phone")
	}

	ident, err := e.findByID(ctx, userID)
	if errors.Is(err, identity.ErrNotFound) {
		return ErrTokenInvalid
	}
	if err != nil {
		return e.backendFailure(ctx, "find identity", err)
	}
	if !ident.CanAuthenticate() {
		return ErrAccountSuspended
	}
	if (channel == identity.ChannelEmail && ident.EmailVerified) ||
		(channel == identity.ChannelPhone && ident.PhoneVerified) {
		return nil
	}

	return e.issueVerification(ctx, ident, channel)
}

func (e *Engine) issueVerification(ctx context.Context, ident *identity.Identity, channel identity.Channel) error {
	if err := e.issueToken(ctx, ident, identity.KindVerification, channel); err != nil {
		e.emitAudit(ctx, auditEventNotificationFailed, false, ident.ID, "", 0, ErrInternal, func() map[string]string {
			return map[string]string{"channel": string(channel)}
		})
		return e.backendFailure(ctx, "issue verification token", err)
	}
	e.metricInc(MetricVerificationRequest)
	e.emitAudit(ctx, auditEventVerificationRequest, true, ident.ID, "", 0, nil, func() map[string]string {
		return map[string]string{"channel": string(channel)}
	})
	return nil
}

// ConfirmVerification consumes a verification token, marks its channel
// verified and activates a pending identity, all in one store update.
func (e *Engine) ConfirmVerification(ctx context.Context, rawToken string) (identity.View, error) {
	if e == nil {
		return identity.View{}, ErrEngineNotReady
	}
	channel, ok := parseVerificationToken(rawToken)
	if !ok {
		e.verificationFailed(ctx)
		return identity.View{}, ErrVerificationTokenInvalid
	}

	sctx, cancel := e.storeContext(ctx)
	ident, err := e.store.ConsumeToken(sctx, identity.KindVerification, internal.HashToken(rawToken), e.now(),
		identity.Effect{Verify: channel})
	cancel()
	if errors.Is(err, identity.ErrNotFound) {
		e.verificationFailed(ctx)
		return identity.View{}, ErrVerificationTokenInvalid
	}
	if err != nil {
		return identity.View{}, e.backendFailure(ctx, "consume verification token", err)
	}

	e.metricInc(MetricVerificationSuccess)
	e.emitAudit(ctx, auditEventVerificationConfirm, true, ident.ID, "", 0, nil, func() map[string]string {
		return map[string]string{"channel": string(channel)}
	})
	return ident.ToView(), nil
}

func (e *Engine) verificationFailed(ctx context.Context) {
	e.metricInc(MetricVerificationFailure)
	e.emitAudit(ctx, auditEventVerificationConfirm, false, "", "", 0, ErrVerificationTokenInvalid, nil)
}
