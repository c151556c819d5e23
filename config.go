package authcore

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/railconnect/authcore/identity"
	"github.com/railconnect/authcore/internal/rate"
	"github.com/railconnect/authcore/lockout"
	"github.com/railconnect/authcore/password"
)

// Config is the complete engine configuration. Build it once at startup;
// the Engine keeps a private copy.
type Config struct {
	JWT       JWTConfig
	Refresh   RefreshConfig
	Password  PasswordConfig
	Lockout   lockout.Policy
	RateLimit RateLimitConfig
	Tokens    TokenConfig
	Store     StoreConfig
	Session   SessionConfig
	Identity  IdentityConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Cookie    CookieConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access tokens.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig configures refresh tokens. Secret signs them with
// HMAC-SHA256 and must differ from an hs256 access key.
type RefreshConfig struct {
	Secret      []byte
	TTL         time.Duration
	RememberTTL time.Duration
	// Rotate replaces the presented refresh token on every exchange and
	// treats a second presentation as reuse.
	Rotate bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id cost (Memory in KiB) and the length
// policy applied to new secrets.
type PasswordConfig struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MinLength        int
	MaxPasswordBytes int
	UpgradeOnLogin   bool
}

func (c PasswordConfig) hasherConfig() password.Config {
	return password.Config{
		Memory:           c.Memory,
		Time:             c.Time,
		Parallelism:      c.Parallelism,
		SaltLength:       c.SaltLength,
		KeyLength:        c.KeyLength,
		MaxPasswordBytes: c.MaxPasswordBytes,
	}
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateRule allows Limit requests per client IP per Window.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds the per-endpoint budgets.
type RateLimitConfig struct {
	Login          RateRule
	Register       RateRule
	ForgotPassword RateRule
	Verification   RateRule
}

func (c RateLimitConfig) limiterConfig() rate.Config {
	return rate.Config{Rules: map[rate.Class]rate.Rule{
		rate.ClassLogin:    rate.Rule(c.Login),
		rate.ClassRegister: rate.Rule(c.Register),
		rate.ClassForgot:   rate.Rule(c.ForgotPassword),
		rate.ClassVerify:   rate.Rule(c.Verification),
	}}
}

/*
====================================
TOKEN / STORE / SESSION CONFIG
====================================
*/

// TokenConfig sets one-time token lifetimes.
type TokenConfig struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

// StoreConfig bounds every credential store call.
type StoreConfig struct {
	OperationTimeout time.Duration
}

// SessionConfig configures the refresh registry and access denylist.
type SessionConfig struct {
	RedisPrefix string
}

// IdentityConfig holds registration defaults.
type IdentityConfig struct {
	DefaultRegion string
	DefaultRole   identity.Role
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig shapes the refresh cookie the HTTP layer sets.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the stock configuration. Signing keys and the
// refresh secret are left empty and must be supplied.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	rl := rate.DefaultConfig().Rules
	return Config{
		JWT: JWTConfig{
			AccessTTL:     time.Hour,
			SigningMethod: "hs256",
			Issuer:        "authcore",
			Audience:      "railconnect",
		},
		Refresh: RefreshConfig{
			TTL:         7 * 24 * time.Hour,
			RememberTTL: 30 * 24 * time.Hour,
			Rotate:      true,
		},
		Password: PasswordConfig{
			Memory:           pw.Memory,
			Time:             pw.Time,
			Parallelism:      pw.Parallelism,
			SaltLength:       pw.SaltLength,
			KeyLength:        pw.KeyLength,
			MinLength:        8,
			MaxPasswordBytes: password.DefaultMaxPasswordBytes,
			UpgradeOnLogin:   true,
		},
		Lockout: lockout.DefaultPolicy(),
		RateLimit: RateLimitConfig{
			Login:          RateRule(rl[rate.ClassLogin]),
			Register:       RateRule(rl[rate.ClassRegister]),
			ForgotPassword: RateRule(rl[rate.ClassForgot]),
			Verification:   RateRule(rl[rate.ClassVerify]),
		},
		Tokens: TokenConfig{
			VerificationTTL: 24 * time.Hour,
			ResetTTL:        10 * time.Minute,
		},
		Store: StoreConfig{
			OperationTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "auth",
		},
		Identity: IdentityConfig{
			DefaultRegion: identity.DefaultRegion,
			DefaultRole:   identity.RolePassenger,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Cookie: CookieConfig{
			Name:     "refreshToken",
			Path:     "/auth",
			Secure:   true,
			SameSite: http.SameSiteStrictMode,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Refresh.Secret = cloneBytes(cfg.Refresh.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error. Build calls it.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Refresh
	if len(c.Refresh.Secret) < 32 {
		return errors.New("Refresh Secret must be at least 32 bytes")
	}
	if c.JWT.SigningMethod == "hs256" && bytes.Equal(c.Refresh.Secret, c.JWT.PrivateKey) {
		return errors.New("Refresh Secret must differ from the access signing key")
	}
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.RememberTTL < c.Refresh.TTL {
		return errors.New("Refresh RememberTTL must be >= TTL")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxPasswordBytes < 0 {
		return errors.New("Password MaxPasswordBytes must be >= 0")
	}
	if c.Password.MaxPasswordBytes > 0 && c.Password.MaxPasswordBytes < c.Password.MinLength {
		return errors.New("Password MaxPasswordBytes must be >= MinLength")
	}

	// Lockout
	if err := c.Lockout.Validate(); err != nil {
		return err
	}

	// Rate limits
	if err := c.RateLimit.limiterConfig().Validate(); err != nil {
		return err
	}

	// Tokens
	if c.Tokens.VerificationTTL <= 0 {
		return errors.New("Tokens VerificationTTL must be > 0")
	}
	if c.Tokens.ResetTTL <= 0 {
		return errors.New("Tokens ResetTTL must be > 0")
	}

	// Store
	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}

	// Identity
	if !c.Identity.DefaultRole.Valid() {
		return errors.New("Identity DefaultRole is invalid")
	}
	if c.Identity.DefaultRegion == "" {
		return errors.New("Identity DefaultRegion is required")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Cookie
	if c.Cookie.Name == "" {
		return errors.New("Cookie Name is required")
	}
	if c.Cookie.SameSite == http.SameSiteNoneMode && !c.Cookie.Secure {
		return errors.New("Cookie SameSite=None requires Secure")
	}

	return nil
}
