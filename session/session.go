package session

import (
	"context"
	"errors"
	"time"
)

// ErrRedisUnavailable wraps Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Registry records live refresh-token IDs.
type Registry interface {
	// Save registers jti for uid until ttl elapses.
	Save(ctx context.Context, uid, jti string, ttl time.Duration) error
	// Consume removes jti and reports whether it was live and owned by uid.
	Consume(ctx context.Context, uid, jti string) (bool, error)
	// Active reports whether jti is live and owned by uid without consuming it.
	Active(ctx context.Context, uid, jti string) (bool, error)
	// Revoke removes jti. Revoking an unknown jti is not an error.
	Revoke(ctx context.Context, uid, jti string) error
	// RevokeAll removes every jti of uid and returns how many were tracked.
	RevokeAll(ctx context.Context, uid string) (int, error)
}

// Denylist records access-token IDs revoked before their expiry.
type Denylist interface {
	Deny(ctx context.Context, jti string, ttl time.Duration) error
	Denied(ctx context.Context, jti string) (bool, error)
}
