// Package lockout implements the per-identity brute-force lockout state machine.
//
// # States
//
//   - Unlocked(n): n consecutive verified-wrong secrets since the last reset.
//   - Locked(until): login is refused until the wall clock reaches until.
//
// Expiry is implicit: once now >= until the identity behaves as Unlocked(0)
// on its next attempt. No background job ever clears a lock.
//
// # Architecture boundaries
//
// This package holds the pure transitions only. Credential stores apply them
// as a single conditional update (SQL CASE expression, document pipeline
// update, or a mutex-guarded swap) so concurrent attempts for the same
// identity cannot under-count or double-lock.
//
// # What this package must NOT do
//
//   - Perform I/O or read the clock (callers pass now).
//   - Import authcore, identity, or any store package.
package lockout
