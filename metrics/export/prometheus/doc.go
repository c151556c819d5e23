// Package prometheus renders authcore engine metrics in the Prometheus
// text exposition format.
//
// [New] takes any [Source], usually the *authcore.Engine, and [Exporter.Handler]
// serves the output. Counters are named authcore_*_total and the one
// histogram is authcore_login_latency_seconds. Nothing is registered
// globally; callers mount the handler themselves.
package prometheus
