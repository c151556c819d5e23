package identity

import (
	"time"

	"github.com/railconnect/authcore/lockout"
)

// Role is the coarse authorization class carried in access tokens.
type Role string

const (
	RolePassenger Role = "passenger"
	RoleStaff     Role = "staff"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePassenger, RoleStaff, RoleAdmin, RoleModerator:
		return true
	default:
		return false
	}
}

// Status is the account lifecycle state.
type Status string

const (
	StatusPendingVerification Status = "pending_verification"
	StatusActive              Status = "active"
	StatusSuspended           Status = "suspended"
	StatusDeactivated         Status = "deactivated"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingVerification, StatusActive, StatusSuspended, StatusDeactivated:
		return true
	default:
		return false
	}
}

// Channel is the out-of-band destination a verification token proves.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPhone Channel = "phone"
)

// Valid reports whether c is email or phone.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelPhone
}

// TokenKind selects which one-time token slot an operation targets.
type TokenKind uint8

const (
	KindVerification TokenKind = iota + 1
	KindReset
)

func (k TokenKind) String() string {
	switch k {
	case KindVerification:
		return "verification"
	case KindReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Token is a stored one-time token. Only the hash is ever persisted.
type Token struct {
	Hash      string
	ExpiresAt time.Time
	// Channel is set for verification tokens only.
	Channel Channel
}

// LastLogin records the most recent successful authentication.
type LastLogin struct {
	At        time.Time
	IP        string
	UserAgent string
}

// Identity is one account.
type Identity struct {
	ID            string
	Name          string
	Email         string
	Phone         string
	SecretHash    string
	Role          Role
	Status        Status
	EmailVerified bool
	PhoneVerified bool
	Lockout       lockout.State
	LastLogin     *LastLogin

	VerificationToken *Token
	ResetToken        *Token

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLocked reports whether the identity refuses logins at now.
func (i *Identity) IsLocked(now time.Time) bool {
	return i.Lockout.Locked(now)
}

// Verified is true only when both email and phone are verified.
func (i *Identity) Verified() bool {
	return i.EmailVerified && i.PhoneVerified
}

// IsProfileComplete reports whether the identity carries every profile field
// the platform requires before booking.
func (i *Identity) IsProfileComplete() bool {
	return i.Name != "" && i.Email != "" && i.Phone != "" && i.Verified()
}

// CanAuthenticate reports whether the status admits logins and refreshes.
func (i *Identity) CanAuthenticate() bool {
	return i.Status == StatusActive || i.Status == StatusPendingVerification
}

// Clone returns a deep copy so stores never hand out aliases of their state.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	if i.LastLogin != nil {
		ll := *i.LastLogin
		out.LastLogin = &ll
	}
	if i.VerificationToken != nil {
		tok := *i.VerificationToken
		out.VerificationToken = &tok
	}
	if i.ResetToken != nil {
		tok := *i.ResetToken
		out.ResetToken = &tok
	}
	return &out
}

// TokenSlot returns the token stored for kind, or nil.
func (i *Identity) TokenSlot(kind TokenKind) *Token {
	switch kind {
	case KindVerification:
		return i.VerificationToken
	case KindReset:
		return i.ResetToken
	default:
		return nil
	}
}

// Effect is the mutation applied atomically with a token consumption.
type Effect struct {
	// NewSecretHash replaces SecretHash when non-empty.
	NewSecretHash string
	// Verify marks the given channel verified when non-empty. A pending
	// identity becomes active.
	Verify Channel
}

// Apply mutates i with e at now and clears the consumed token slot.
// Stores without conditional-update primitives use it under their own lock.
func (e Effect) Apply(i *Identity, kind TokenKind, now time.Time) {
	if e.NewSecretHash != "" {
		i.SecretHash = e.NewSecretHash
	}
	switch e.Verify {
	case ChannelEmail:
		i.EmailVerified = true
	case ChannelPhone:
		i.PhoneVerified = true
	}
	if e.Verify != "" && i.Status == StatusPendingVerification {
		i.Status = StatusActive
	}
	switch kind {
	case KindVerification:
		i.VerificationToken = nil
	case KindReset:
		i.ResetToken = nil
	}
	i.UpdatedAt = now
}
