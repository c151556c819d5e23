// Package httpapi serves the /auth routes on top of authcore.Engine.
//
// Every response uses one envelope: {"success": true, "data": ..., "message": ...}
// on success and {"success": false, "error": "..."} on failure. Error
// messages come from a fixed table; internal detail is only logged.
//
// The refresh token never appears in a response body. It travels in an
// HttpOnly cookie scoped to /auth.
package httpapi
