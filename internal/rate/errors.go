package rate

import "errors"

var (
	// ErrRateLimited is returned by Hit once a class budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnavailable wraps backend failures. Callers fail closed on it.
	ErrUnavailable = errors.New("rate limiter unavailable")
)
