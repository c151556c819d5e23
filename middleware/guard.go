package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/railconnect/authcore"
)

// Validator verifies access tokens. *authcore.Engine implements it.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*authcore.AuthResult, error)
}

// ErrorHandler writes the response for a rejected request.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by [Guard].
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authcore.AuthResult)
	return res, ok
}

// WithAuthResult stores res in ctx.
func WithAuthResult(ctx context.Context, res *authcore.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// Guard rejects requests without a valid "Authorization: Bearer" access
// token. onError may be nil.
func Guard(v Validator, onError ErrorHandler) func(http.Handler) http.Handler {
	if onError == nil {
		onError = writeError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				onError(w, r, authcore.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				onError(w, r, authcore.ErrTokenInvalid)
				return
			}

			res, err := v.Validate(r.Context(), token)
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthResult(r.Context(), res)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, _ *http.Request, err error) {
	status, msg := http.StatusUnauthorized, "Invalid or expired token"
	switch {
	case errors.Is(err, ErrForbidden):
		status, msg = http.StatusForbidden, "Forbidden"
	case errors.Is(err, authcore.ErrTokenInvalid):
	default:
		status, msg = http.StatusInternalServerError, "Internal server error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}
