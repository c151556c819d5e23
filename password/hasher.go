package password

// Hasher is the facade the engine uses. New hashes are always Argon2id;
// verification dispatches on the stored hash's prefix so migrated bcrypt
// records keep working until they are upgraded.
type Hasher struct {
	argon  *Argon2
	legacy Bcrypt
}

// NewHasher returns a Hasher hashing with cfg.
func NewHasher(cfg Config) (*Hasher, error) {
	a, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: a}, nil
}

// Hash returns the Argon2id PHC string for secret.
func (h *Hasher) Hash(secret string) (string, error) {
	return h.argon.Hash(secret)
}

// Verify reports whether secret matches encodedHash. Malformed or
// unsupported hashes verify as false.
func (h *Hasher) Verify(secret, encodedHash string) bool {
	var (
		ok  bool
		err error
	)
	if IsBcrypt(encodedHash) {
		ok, err = h.legacy.Verify(secret, encodedHash)
	} else {
		ok, err = h.argon.Verify(secret, encodedHash)
	}
	return err == nil && ok
}

// NeedsUpgrade reports whether encodedHash should be replaced on the next
// successful login: legacy bcrypt, or Argon2id with weaker parameters.
func (h *Hasher) NeedsUpgrade(encodedHash string) bool {
	if IsBcrypt(encodedHash) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encodedHash)
	return err == nil && upgrade
}
