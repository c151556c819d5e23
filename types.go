package authcore

import (
	"io"
	"log/slog"
	"time"

	"github.com/railconnect/authcore/identity"
	internalaudit "github.com/railconnect/authcore/internal/audit"
)

// Registration is the input to [Engine.Register].
type Registration struct {
	Name       string
	Email      string
	Phone      string
	Password   string
	RememberMe bool
}

// Credentials is the input to [Engine.Login]. Identifier is an email
// address or a phone number.
type Credentials struct {
	Identifier string
	Password   string
	RememberMe bool
}

// Session is the token pair issued by Register, Login and Refresh. The
// refresh token belongs in a cookie and never in a response body.
type Session struct {
	Identity         identity.View
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// AuthResult is returned by [Engine.Validate]. It is derived from the
// access token alone.
type AuthResult struct {
	UserID    string
	Email     string
	Role      identity.Role
	Verified  bool
	TokenID   string
	ExpiresAt time.Time
}

// RefreshResult is returned by [Engine.Refresh]. RefreshToken is empty
// when rotation is disabled.
type RefreshResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// AuditEvent is the structured payload emitted for security events.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink writes events through a *slog.Logger.
type SlogSink = internalaudit.SlogSink

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink returns a sink logging each event at info level.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
