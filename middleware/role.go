package middleware

import (
	"errors"
	"net/http"
	"slices"

	"github.com/railconnect/authcore"
	"github.com/railconnect/authcore/identity"
)

// ErrForbidden is passed to the ErrorHandler when the caller's role is not
// allowed.
var ErrForbidden = errors.New("forbidden")

// RequireRole admits requests whose [authcore.AuthResult] carries one of
// roles. It must run inside [Guard].
func RequireRole(onError ErrorHandler, roles ...identity.Role) func(http.Handler) http.Handler {
	if onError == nil {
		onError = writeError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				onError(w, r, authcore.ErrTokenInvalid)
				return
			}
			if !slices.Contains(roles, res.Role) {
				onError(w, r, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
