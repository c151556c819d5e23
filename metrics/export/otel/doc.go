// Package otel publishes authcore engine metrics through an OpenTelemetry
// meter.
//
// Related counters share one Int64ObservableCounter and are told apart by
// an attribute: authcore.login.events carries event=success, failure,
// lock_set, rejected_locked or suspended; the refresh, reset, verification
// and password-change families carry result or stage. The login latency
// histogram is a cumulative gauge labelled le. A single callback reads
// MetricsSnapshot per collection. The caller owns the MeterProvider.
package otel
