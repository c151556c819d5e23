package internaldefs

import (
	"strconv"

	"github.com/railconnect/authcore"
)

// BucketCount is the number of latency histogram buckets, +Inf included.
const BucketCount = len(authcore.LatencyBucketBounds) + 1

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Failures that locked an account."},
	{ID: authcore.MetricLoginRejectedLocked, Name: "authcore_login_rejected_locked_total", Help: "Logins rejected while an account was locked."},
	{ID: authcore.MetricLoginSuspended, Name: "authcore_login_suspended_total", Help: "Logins rejected for suspended or deactivated accounts."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Requests denied by the per-IP rate limiter."},
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Identities created."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refreshes."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refreshes."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logouts."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetSuccess, Name: "authcore_password_reset_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordResetFailure, Name: "authcore_password_reset_failure_total", Help: "Rejected password reset tokens."},
	{ID: authcore.MetricVerificationRequest, Name: "authcore_verification_request_total", Help: "Verification tokens issued."},
	{ID: authcore.MetricVerificationSuccess, Name: "authcore_verification_success_total", Help: "Channels verified."},
	{ID: authcore.MetricVerificationFailure, Name: "authcore_verification_failure_total", Help: "Rejected verification tokens."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Password changes."},
	{ID: authcore.MetricPasswordChangeFailure, Name: "authcore_password_change_failure_total", Help: "Password changes rejected for a wrong current password."},
	{ID: authcore.MetricPasswordRehash, Name: "authcore_password_rehash_total", Help: "Stored hashes upgraded on login."},
	{ID: authcore.MetricAccountStatusChange, Name: "authcore_account_status_change_total", Help: "Operator status changes."},
	{ID: authcore.MetricAccountUnlock, Name: "authcore_account_unlock_total", Help: "Operator unlocks."},
	{ID: authcore.MetricBackendFailure, Name: "authcore_backend_failure_total", Help: "Store, Redis and limiter failures."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Login latency."},
}

// HistogramBounds are the le labels in seconds, ending in +Inf.
var HistogramBounds = bucketLabels()

func bucketLabels() []string {
	out := make([]string, 0, BucketCount)
	for _, d := range authcore.LatencyBucketBounds {
		out = append(out, strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
	}
	return append(out, "+Inf")
}

// NormalizeBuckets copies raw into a fixed-size array, zero-padding.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
