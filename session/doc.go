// Package session tracks the server-side state behind stateless tokens:
// the registry of live refresh-token IDs per identity, and the denylist of
// access-token IDs revoked before expiry.
//
// # Refresh registry
//
// Every issued refresh token's jti is recorded with the token's remaining
// lifetime. Rotation consumes the presented jti atomically, so of two
// concurrent refreshes with the same token exactly one wins. A jti that is
// absent when presented means the token was already used or revoked.
//
// The Redis backend tags every registry key with the identity ID ({uid}), so
// it runs unchanged against Redis Cluster.
//
// # Architecture boundaries
//
// This package owns the [Registry] and [Denylist] contracts with Redis and
// in-process implementations. It does NOT parse JWTs or decide what reuse
// means; those responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or identity (no upward imports).
//   - Store raw tokens. Only jti values and identity IDs are kept.
package session
