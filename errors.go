package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateIdentity is returned when email or phone is already taken.
	ErrDuplicateIdentity = errors.New("identity already exists")
	// ErrInvalidCredentials covers both an unknown identifier and a wrong secret.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout is in force.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountSuspended is returned for suspended and deactivated identities.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrRateLimited is wrapped by *RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrTokenInvalid covers every access and refresh token failure.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrResetTokenInvalid covers unknown, expired and consumed reset tokens.
	ErrResetTokenInvalid = errors.New("invalid or expired reset token")
	// ErrVerificationTokenInvalid covers unknown, expired and consumed
	// verification tokens.
	ErrVerificationTokenInvalid = errors.New("invalid or expired verification token")
	// ErrNotFound is returned by operator calls naming an unknown identity.
	ErrNotFound = errors.New("identity not found")
	// ErrInternal wraps backend failures. Callers fail closed on it.
	ErrInternal = errors.New("internal error")
	// ErrEngineNotReady is returned by a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// RateLimitError carries the wait before the window reopens.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

func internalError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}
