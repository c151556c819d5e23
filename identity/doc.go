// Package identity defines the account record managed by the security core,
// its identifier normalization rules, and the [Store] contract every
// credential backend implements.
//
// # Computed properties
//
// IsLocked, Verified, IsProfileComplete and CanAuthenticate are pure
// functions over the plain fields. They are never persisted.
//
// # Architecture boundaries
//
// Backends (store/memory, store/postgres, store/mongo) implement [Store].
// Mutations that must be atomic (lockout accounting, token consumption) are
// single Store methods, never read-then-write sequences in callers.
//
// # What this package must NOT do
//
//   - Hash secrets or generate tokens (password and authcore own that).
//   - Expose SecretHash or token hashes through [View].
package identity
