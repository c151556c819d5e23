// Package middleware adapts authcore to net/http.
//
// # Handlers
//
//   - [ClientInfo] records the client IP and User-Agent in the request
//     context. Forwarding headers are honored only from trusted proxies.
//   - [Guard] requires a valid bearer access token and stores the
//     [authcore.AuthResult] in the request context.
//   - [RequireRole] restricts a route to a set of roles.
//   - [CORS] and [Logger] are the outer wrappers used by internal/server.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine.Validate).
//   - Read the credential store.
package middleware
