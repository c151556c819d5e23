package lockout

import (
	"errors"
	"time"
)

const (
	// DefaultThreshold is the number of consecutive failures that locks an identity.
	DefaultThreshold = 5
	// DefaultDuration is how long a lock lasts.
	DefaultDuration = 2 * time.Hour
)

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("invalid lockout policy")

// Policy holds the lockout tuning parameters.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultPolicy returns the production policy: 5 failures, 2 hour lock.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultThreshold, Duration: DefaultDuration}
}

// Validate rejects policies that could never lock or would lock forever.
func (p Policy) Validate() error {
	if p.Threshold < 1 {
		return ErrInvalidPolicy
	}
	if p.Duration <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// State is the persisted lockout record of one identity.
type State struct {
	FailureCount int
	// LockedUntil is zero when no lock was ever set or it was cleared.
	LockedUntil time.Time
	// CountResetAt is the last instant FailureCount went back to zero.
	CountResetAt time.Time
}

// Locked reports whether s refuses logins at now.
func (s State) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// Expired reports whether s carries a lock whose window has passed.
func (s State) Expired(now time.Time) bool {
	return !s.LockedUntil.IsZero() && !now.Before(s.LockedUntil)
}

// Outcome classifies the result of a failed attempt.
type Outcome uint8

const (
	// OutcomeCounted means the failure was recorded and the identity is still unlocked.
	OutcomeCounted Outcome = iota
	// OutcomeLocked means this failure crossed the threshold.
	OutcomeLocked
	// OutcomeRejected means the identity was already locked; nothing was counted.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCounted:
		return "counted"
	case OutcomeLocked:
		return "locked"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Fail applies one verified-wrong secret to s.
func (p Policy) Fail(s State, now time.Time) State {
	if s.Locked(now) {
		return s
	}
	if s.Expired(now) {
		s = State{CountResetAt: now}
	}

	s.FailureCount++
	if s.FailureCount >= p.Threshold {
		s.LockedUntil = now.Add(p.Duration)
	} else {
		s.LockedUntil = time.Time{}
	}
	return s
}

// Succeed applies a successful verification to s. A live lock takes
// precedence over a correct secret: the state is returned unchanged with
// ok=false.
func (p Policy) Succeed(s State, now time.Time) (next State, ok bool) {
	if s.Locked(now) {
		return s, false
	}
	next = State{CountResetAt: s.CountResetAt}
	if s.FailureCount > 0 || !s.LockedUntil.IsZero() {
		next.CountResetAt = now
	}
	return next, true
}

// StorePrecision is the coarsest timestamp resolution a backend may round
// LockedUntil down to. Mongo keeps milliseconds, Postgres microseconds.
const StorePrecision = time.Millisecond

// Outcome classifies the state returned by a store after Fail was applied at now.
// A lock ending at now+Duration, give or take the store truncating it to
// StorePrecision, was set by this attempt.
func (p Policy) Outcome(after State, now time.Time) Outcome {
	if !after.Locked(now) {
		return OutcomeCounted
	}
	set := now.Add(p.Duration)
	if !after.LockedUntil.After(set) && !after.LockedUntil.Before(set.Truncate(StorePrecision)) {
		return OutcomeLocked
	}
	return OutcomeRejected
}

// LockUntil returns the lock expiry a failure at now would set.
func (p Policy) LockUntil(now time.Time) time.Time {
	return now.Add(p.Duration)
}
