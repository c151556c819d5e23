package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// IsBcrypt reports whether encodedHash looks like a bcrypt modular-crypt string.
func IsBcrypt(encodedHash string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(encodedHash, p) {
			return true
		}
	}
	return false
}

// Bcrypt verifies legacy bcrypt hashes. New credentials are never hashed
// with it.
type Bcrypt struct{}

// Verify reports whether password matches the bcrypt hash. A mismatch is
// (false, nil); a malformed hash is an error.
func (Bcrypt) Verify(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}
