package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/internal/rate"
)

const maxNameLength = 100

// Register creates a pending identity, hands an email verification token to
// the Notifier, and signs the new identity in.
//
// A collision on email or phone returns ErrDuplicateIdentity without naming
// the field.
func (e *Engine) Register(ctx context.Context, req Registration) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if err := e.hit(ctx, rate.ClassRegister, req.Email); err != nil {
		return nil, err
	}

	ident, err := e.newIdentity(req)
	if err != nil {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", req.Email, 0, err, nil)
		return nil, err
	}

	sctx, cancel := e.storeContext(ctx)
	err = e.store.Create(sctx, ident)
	cancel()
	if errors.Is(err, identity.ErrDuplicate) {
		e.metricInc(MetricRegisterDuplicate)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", ident.Email, 0, ErrDuplicateIdentity, nil)
		return nil, ErrDuplicateIdentity
	}
	if err != nil {
		return nil, e.backendFailure(ctx, "create identity", err)
	}

	if err := e.issueVerification(ctx, ident, identity.ChannelEmail); err != nil {
		// The identity exists; the caller can ask for another token.
		e.logger.WarnContext(ctx, "verification token not delivered",
			slog.String("user_id", ident.ID),
			slog.Any("error", err),
		)
	}

	sess, err := e.issueSession(ctx, ident, req.RememberMe)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, ident.ID, ident.Email, 0, nil, nil)
	e.logger.InfoContext(ctx, "identity registered", slog.String("user_id", ident.ID))
	return sess, nil
}

func (e *Engine) newIdentity(req Registration) (*identity.Identity, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("name", "Name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, invalid("name", "Name is too long")
	}

	email, err := identity.NormalizeEmail(req.Email)
	if err != nil {
		return nil, invalid("email", "Please provide a valid email")
	}
	phone, err := identity.NormalizePhone(req.Phone, e.config.Identity.DefaultRegion)
	if err != nil {
		return nil, invalid("phone", "Please provide a valid phone number")
	}
	if err := e.checkPassword("password", req.Password); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, internalError("hash password", err)
	}

	now := e.now().UTC()
	return &identity.Identity{
		ID:         uuid.NewString(),
		Name:       name,
		Email:      email,
		Phone:      phone,
		SecretHash: hash,
		Role:       e.config.Identity.DefaultRole,
		Status:     identity.StatusPendingVerification,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
