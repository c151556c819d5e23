// Package rate implements fixed-window request budgets per client IP and
// endpoint class.
//
// # Window semantics
//
// Each (class, IP) pair owns one counter. The first hit opens the window
// and sets its expiry; every hit increments; a hit whose count exceeds
// the class limit is denied with the remaining window as RetryAfter.
// Undo refunds one hit, which is how successful logins stay outside the
// login budget. Key format:
//
//	rl:<class>:<ip>
//
// # Backends
//
// MemoryBackend keeps counters in process. Budgets are then per instance:
// N instances behind a load balancer allow N times the configured budget.
// Deployments running more than one instance configure RedisBackend
// (INCR plus first-hit PEXPIRE, executed as one script), which shares
// counters across instances.
//
// # What this package must NOT do
//
//   - Look at identities or credentials. Keys are client IPs only.
//   - Fail open. Backend errors surface as ErrUnavailable and callers deny.
package rate
