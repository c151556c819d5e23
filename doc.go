// Package authcore is the identity and session security core of the
// ticketing platform: credential verification, access and refresh token
// issuance, brute-force lockout, per-IP rate limiting, and the one-time
// password-reset and verification token flows.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config]
// and the value types its operations return. Persistence sits behind
// identity.Store (store/memory, store/postgres, store/mongo); rate counters
// and the refresh registry live in internal/rate and session, process-local
// by default and in Redis when [Builder.WithRedis] is used.
//
// # What this package must NOT do
//
//   - Read and then write lockout or token state in two steps. Those
//     mutations are single identity.Store calls.
//   - Return errors that reveal whether an identifier exists or why a
//     token was rejected.
//   - Log secrets, raw tokens or hashes.
//
// # Performance contract
//
// Validate is the hot path. It verifies the access token locally and makes
// one denylist lookup; it never reads the credential store.
package authcore
