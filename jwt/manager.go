package jwt

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs access tokens with EdDSA over Ed25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs access tokens with HMAC-SHA256.
	MethodHS256 SigningMethod = "hs256"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"

	minRefreshSecret = 32
)

// Config configures a Manager.
//
// Refresh tokens are always HMAC-SHA256 under RefreshSecret, which must
// differ from an HS256 access key.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	RefreshSecret []byte
	RefreshTTL    time.Duration
	RememberTTL   time.Duration

	// Now overrides the wall clock for issuance and validation.
	Now func() time.Time
}

// Manager issues and verifies access and refresh tokens. It is immutable
// after construction and safe for concurrent use.
type Manager struct {
	config Config
}

// Subject is the identity snapshot embedded in an access token.
type Subject struct {
	UID      string
	Email    string
	Role     string
	Verified bool
}

// AccessClaims is the access-token payload. The jti travels in
// RegisteredClaims.ID.
type AccessClaims struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Verified bool   `json:"verified"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the refresh-token payload.
type RefreshClaims struct {
	UID      string `json:"uid"`
	Remember bool   `json:"rem,omitempty"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	if len(cfg.RefreshSecret) > 0 || cfg.RefreshTTL > 0 {
		if len(cfg.RefreshSecret) < minRefreshSecret {
			return nil, fmt.Errorf("refresh secret must be at least %d bytes", minRefreshSecret)
		}
		if cfg.SigningMethod == MethodHS256 && bytes.Equal(cfg.RefreshSecret, cfg.PrivateKey) {
			return nil, errors.New("refresh secret must differ from access signing key")
		}
		if cfg.RefreshTTL <= 0 {
			return nil, errors.New("invalid refresh TTL configuration")
		}
		if cfg.RememberTTL < cfg.RefreshTTL {
			return nil, errors.New("remember TTL must be >= refresh TTL")
		}
	}

	return &Manager{config: cfg}, nil
}

// CreateAccess signs an access token for sub with a fresh jti and returns
// the token with the claims it carries.
func (j *Manager) CreateAccess(sub Subject) (string, *AccessClaims, error) {
	now := j.config.Now()
	claims := &AccessClaims{
		UID:      sub.UID,
		Email:    sub.Email,
		Role:     sub.Role,
		Verified: sub.Verified,
		Type:     typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", nil, err
	}

	signed, err := token.SignedString(signKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ParseAccess verifies signature, algorithm, expiry, issuer, audience and
// token type, and returns the claims.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	parser := jwt.NewParser(j.parserOptions(j.getMethod().Alg())...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}

		if len(j.config.VerifyKeys) > 0 {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			key, ok := j.config.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return j.keyBytesToVerifyKey(key)
		}

		if j.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			if kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}

		return j.getVerifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Type != typeAccess || claims.UID == "" || claims.ID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if err := j.checkFutureIAT(claims.IssuedAt); err != nil {
		return nil, err
	}

	return claims, nil
}

// CreateRefresh signs a refresh token for uid. A zero expiresAt starts a new
// lifetime (RememberTTL when remember is set, RefreshTTL otherwise); a
// non-zero expiresAt is kept so rotation never extends the original session.
func (j *Manager) CreateRefresh(uid string, remember bool, expiresAt time.Time) (string, *RefreshClaims, error) {
	if len(j.config.RefreshSecret) == 0 {
		return "", nil, errors.New("refresh tokens not configured")
	}
	now := j.config.Now()
	if expiresAt.IsZero() {
		ttl := j.config.RefreshTTL
		if remember {
			ttl = j.config.RememberTTL
		}
		expiresAt = now.Add(ttl)
	}

	claims := &RefreshClaims{
		UID:      uid,
		Remember: remember,
		Type:     typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.config.RefreshSecret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ParseRefresh verifies a refresh token and returns its claims.
func (j *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	if len(j.config.RefreshSecret) == 0 {
		return nil, errors.New("refresh tokens not configured")
	}
	parser := jwt.NewParser(j.parserOptions(jwt.SigningMethodHS256.Alg())...)
	token, err := parser.ParseWithClaims(tokenStr, &RefreshClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return j.config.RefreshSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Type != typeRefresh || claims.UID == "" || claims.ID == "" || claims.ExpiresAt == nil {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if err := j.checkFutureIAT(claims.IssuedAt); err != nil {
		return nil, err
	}
	return claims, nil
}

func (j *Manager) parserOptions(alg string) []jwt.ParserOption {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.RequireIAT {
		options = append(options, jwt.WithIssuedAt())
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}
	return options
}

func (j *Manager) checkFutureIAT(iat *jwt.NumericDate) error {
	if iat != nil && j.config.MaxFutureIAT > 0 {
		maxAllowed := j.config.Now().Add(j.config.MaxFutureIAT)
		if iat.Time.After(maxAllowed) {
			return errors.New("token iat too far in the future")
		}
	}
	return nil
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
