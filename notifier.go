package authcore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/railconnect/authcore/identity"
	"github.com/redis/go-redis/v9"
)

// DeliveryKind says which flow produced a Delivery.
type DeliveryKind string

const (
	DeliveryVerification  DeliveryKind = "verification"
	DeliveryPasswordReset DeliveryKind = "password_reset"
)

// DefaultOutboxStream is the Redis stream RedisStreamNotifier appends to.
const DefaultOutboxStream = "auth:outbox"

// Delivery is a one-time token on its way to the identity's inbox or
// phone. Token is the raw value and exists nowhere else after issuance.
type Delivery struct {
	Kind       DeliveryKind
	Channel    identity.Channel
	IdentityID string
	Email      string
	Phone      string
	Token      string
	ExpiresAt  time.Time
}

// Notifier hands issued tokens to the external delivery system. Deliver is
// called once per token, synchronously, after the hash is persisted.
type Notifier interface {
	Deliver(ctx context.Context, d Delivery) error
}

// NopNotifier drops every delivery.
type NopNotifier struct{}

func (NopNotifier) Deliver(context.Context, Delivery) error { return nil }

// LogNotifier logs delivery metadata. It never logs the token.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

func (n *LogNotifier) Deliver(ctx context.Context, d Delivery) error {
	n.logger.InfoContext(ctx, "token issued",
		slog.String("kind", string(d.Kind)),
		slog.String("channel", string(d.Channel)),
		slog.String("identity_id", d.IdentityID),
		slog.Time("expires_at", d.ExpiresAt),
	)
	return nil
}

// RedisStreamNotifier appends deliveries to a Redis stream consumed by the
// mail and SMS workers.
type RedisStreamNotifier struct {
	redis  redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisStreamNotifier returns a notifier writing to stream, trimmed to
// roughly maxLen entries when maxLen > 0.
func NewRedisStreamNotifier(client redis.UniversalClient, stream string, maxLen int64) *RedisStreamNotifier {
	if stream == "" {
		stream = DefaultOutboxStream
	}
	return &RedisStreamNotifier{redis: client, stream: stream, maxLen: maxLen}
}

func (n *RedisStreamNotifier) Deliver(ctx context.Context, d Delivery) error {
	args := &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]any{
			"kind":        string(d.Kind),
			"channel":     string(d.Channel),
			"identity_id": d.IdentityID,
			"email":       d.Email,
			"phone":       d.Phone,
			"token":       d.Token,
			"expires_at":  d.ExpiresAt.UTC().Format(time.RFC3339),
		},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}
	if err := n.redis.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("outbox append: %w", err)
	}
	return nil
}
