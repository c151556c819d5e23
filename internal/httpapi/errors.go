package httpapi

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/railconnect/authcore"
	"github.com/railconnect/authcore/middleware"
)

const (
	msgDuplicate          = "An account with these details already exists"
	msgInvalidCredentials = "Invalid credentials"
	msgLocked             = "Account temporarily locked"
	msgSuspended          = "Account suspended"
	msgRateLimited        = "Too many requests"
	msgTokenInvalid       = "Invalid or expired token"
	msgResetInvalid       = "Password reset link is invalid or has expired"
	msgVerifyInvalid      = "Verification link is invalid or has expired"
	msgForbidden          = "Forbidden"
	msgBadJSON            = "Invalid JSON payload"
	msgInternal           = "Internal server error"
)

// statusFor maps an engine error to its HTTP status and public message.
func statusFor(err error) (int, string) {
	var verr *authcore.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.Is(err, authcore.ErrValidation):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, authcore.ErrDuplicateIdentity):
		return http.StatusBadRequest, msgDuplicate
	case errors.Is(err, authcore.ErrInvalidCredentials):
		return http.StatusUnauthorized, msgInvalidCredentials
	case errors.Is(err, authcore.ErrAccountLocked):
		return http.StatusLocked, msgLocked
	case errors.Is(err, authcore.ErrAccountSuspended):
		return http.StatusForbidden, msgSuspended
	case errors.Is(err, authcore.ErrRateLimited):
		return http.StatusTooManyRequests, msgRateLimited
	case errors.Is(err, authcore.ErrTokenInvalid):
		return http.StatusUnauthorized, msgTokenInvalid
	case errors.Is(err, authcore.ErrResetTokenInvalid):
		return http.StatusBadRequest, msgResetInvalid
	case errors.Is(err, authcore.ErrVerificationTokenInvalid):
		return http.StatusBadRequest, msgVerifyInvalid
	case errors.Is(err, middleware.ErrForbidden):
		return http.StatusForbidden, msgForbidden
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// writeError renders err. It satisfies middleware.ErrorHandler.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)

	var rl *authcore.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
	}
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	fail(w, status, msg)
}
