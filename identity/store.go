package identity

import (
	"context"
	"errors"
	"time"

	"github.com/railconnect/authcore/lockout"
)

var (
	// ErrNotFound is returned when no identity matches a lookup or a
	// conditional update matched nothing.
	ErrNotFound = errors.New("identity not found")
	// ErrDuplicate is returned when email or phone collides with a
	// non-deactivated identity.
	ErrDuplicate = errors.New("identity already exists")
	// ErrUnavailable wraps backend failures (network, timeout, driver).
	ErrUnavailable = errors.New("identity store unavailable")
)

// Store is the Credential Store contract.
//
// Implementations must be safe for concurrent use. RecordFailure,
// RecordSuccess and ConsumeToken must each be one atomic conditional
// update: no caller-visible read-then-write window may exist.
type Store interface {
	// Create persists a new identity. Email and phone must already be normalized.
	Create(ctx context.Context, ident *Identity) error
	// FindByID returns the identity with id, including deactivated ones.
	FindByID(ctx context.Context, id string) (*Identity, error)
	// FindByLogin returns the non-deactivated identity whose email or phone
	// equals login (already normalized).
	FindByLogin(ctx context.Context, login string) (*Identity, error)

	// RecordFailure applies policy.Fail at now and returns the resulting state.
	RecordFailure(ctx context.Context, id string, now time.Time, policy lockout.Policy) (lockout.State, error)
	// RecordSuccess applies policy.Succeed at now and stamps LastLogin when the
	// identity is not locked. It returns the state after the call; a state that
	// is still locked at now means nothing was written.
	RecordSuccess(ctx context.Context, id string, now time.Time, login LastLogin) (lockout.State, error)
	// ClearLockout resets the lockout state (operator unlock).
	ClearLockout(ctx context.Context, id string, now time.Time) error

	// UpdateSecret replaces the secret hash.
	UpdateSecret(ctx context.Context, id, secretHash string, now time.Time) error
	// SetStatus changes the lifecycle status.
	SetStatus(ctx context.Context, id string, status Status, now time.Time) error

	// SetToken stores tok in the slot for kind, superseding any outstanding token.
	SetToken(ctx context.Context, id string, kind TokenKind, tok Token, now time.Time) error
	// ConsumeToken finds the non-deactivated identity whose kind slot holds
	// hash with an expiry after now, applies effect, clears the slot, and
	// returns the updated identity. ErrNotFound covers unknown, expired and
	// already-consumed tokens.
	ConsumeToken(ctx context.Context, kind TokenKind, hash string, now time.Time, effect Effect) (*Identity, error)
}
