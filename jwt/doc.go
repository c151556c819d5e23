// Package jwt issues and verifies the two bearer credentials: short-lived
// access tokens signed with the configured method (HS256 or Ed25519), and
// refresh tokens signed with a separate HMAC secret. Verification is
// stateless; revocation is layered on by the session package.
package jwt
