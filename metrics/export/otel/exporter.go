package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/railconnect/authcore"
	"github.com/railconnect/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is read once per collection cycle. *authcore.Engine implements it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// member is one engine counter reported under a family attribute value.
type member struct {
	value string
	id    authcore.MetricID
}

// family groups related engine counters into one instrument. An empty key
// means a single unlabelled series.
type family struct {
	name    string
	unit    string
	help    string
	key     string
	members []member
}

// families is every counter instrument the exporter registers.
var families = []family{
	{name: "authcore.login.events", unit: "{attempt}", help: "Login attempts by event.", key: "event", members: []member{
		{"success", authcore.MetricLoginSuccess},
		{"failure", authcore.MetricLoginFailure},
		{"lock_set", authcore.MetricLoginLocked},
		{"rejected_locked", authcore.MetricLoginRejectedLocked},
		{"suspended", authcore.MetricLoginSuspended},
	}},
	{name: "authcore.registration.events", unit: "{request}", help: "Registrations by result.", key: "result", members: []member{
		{"created", authcore.MetricRegisterSuccess},
		{"duplicate", authcore.MetricRegisterDuplicate},
	}},
	{name: "authcore.refresh.events", unit: "{request}", help: "Refresh token exchanges by result.", key: "result", members: []member{
		{"success", authcore.MetricRefreshSuccess},
		{"rejected", authcore.MetricRefreshFailure},
		{"reuse_detected", authcore.MetricRefreshReuseDetected},
	}},
	{name: "authcore.password_reset.events", unit: "{request}", help: "Password reset flow by stage.", key: "stage", members: []member{
		{"requested", authcore.MetricPasswordResetRequest},
		{"completed", authcore.MetricPasswordResetSuccess},
		{"rejected", authcore.MetricPasswordResetFailure},
	}},
	{name: "authcore.verification.events", unit: "{request}", help: "Verification flow by stage.", key: "stage", members: []member{
		{"requested", authcore.MetricVerificationRequest},
		{"verified", authcore.MetricVerificationSuccess},
		{"rejected", authcore.MetricVerificationFailure},
	}},
	{name: "authcore.password_change.events", unit: "{request}", help: "Password changes by result.", key: "result", members: []member{
		{"completed", authcore.MetricPasswordChangeSuccess},
		{"rejected", authcore.MetricPasswordChangeFailure},
	}},
	{name: "authcore.account.operations", unit: "{operation}", help: "Operator and maintenance writes to identities.", key: "operation", members: []member{
		{"status_change", authcore.MetricAccountStatusChange},
		{"unlock", authcore.MetricAccountUnlock},
		{"rehash", authcore.MetricPasswordRehash},
	}},
	{name: "authcore.session.logouts", unit: "{request}", help: "Logouts.", members: []member{
		{"", authcore.MetricLogout},
	}},
	{name: "authcore.rate_limit.denials", unit: "{request}", help: "Requests denied by the per-IP limiter.", members: []member{
		{"", authcore.MetricRateLimitHit},
	}},
	{name: "authcore.backend.failures", unit: "{error}", help: "Store, Redis and limiter failures.", members: []member{
		{"", authcore.MetricBackendFailure},
	}},
}

type series struct {
	id  authcore.MetricID
	opt metric.ObserveOption
}

type observed struct {
	instrument metric.Int64ObservableCounter
	series     []series
}

// Exporter publishes engine metrics as observable instruments.
type Exporter struct {
	source       Source
	registration metric.Registration

	families     []observed
	auditDropped metric.Int64ObservableCounter
	latency      metric.Int64ObservableGauge
	latencyCount metric.Int64ObservableGauge
	buckets      [internaldefs.BucketCount]metric.ObserveOption
}

// New registers the counter families, the audit drop counter and the login
// latency buckets against meter. Close unregisters them.
func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source, families: make([]observed, 0, len(families))}
	observables := make([]metric.Observable, 0, len(families)+3)

	for _, f := range families {
		ins, err := meter.Int64ObservableCounter(f.name, metric.WithUnit(f.unit), metric.WithDescription(f.help))
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", f.name, err)
		}
		o := observed{instrument: ins}
		for _, m := range f.members {
			var attrs attribute.Set
			if f.key != "" {
				attrs = attribute.NewSet(attribute.String(f.key, m.value))
			}
			o.series = append(o.series, series{id: m.id, opt: metric.WithAttributeSet(attrs)})
		}
		e.families = append(e.families, o)
		observables = append(observables, ins)
	}

	var err error
	if e.auditDropped, err = meter.Int64ObservableCounter("authcore.audit.dropped",
		metric.WithUnit("{event}"),
		metric.WithDescription("Audit events dropped on a full dispatcher queue."),
	); err != nil {
		return nil, fmt.Errorf("create authcore.audit.dropped: %w", err)
	}
	if e.latency, err = meter.Int64ObservableGauge("authcore.login.latency.buckets",
		metric.WithUnit("{attempt}"),
		metric.WithDescription("Cumulative login latency histogram; le is the upper bound in seconds."),
	); err != nil {
		return nil, fmt.Errorf("create authcore.login.latency.buckets: %w", err)
	}
	if e.latencyCount, err = meter.Int64ObservableGauge("authcore.login.latency.count",
		metric.WithUnit("{attempt}"),
		metric.WithDescription("Logins timed by the latency histogram."),
	); err != nil {
		return nil, fmt.Errorf("create authcore.login.latency.count: %w", err)
	}
	for i, le := range internaldefs.HistogramBounds {
		e.buckets[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
	}
	observables = append(observables, e.auditDropped, e.latency, e.latencyCount)

	if e.registration, err = meter.RegisterCallback(e.observe, observables...); err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, f := range e.families {
		for _, s := range f.series {
			o.ObserveInt64(f.instrument, int64(snap.Counters[s.id]), s.opt)
		}
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))

	cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[authcore.MetricLoginLatency]))
	for i, v := range cumulative {
		o.ObserveInt64(e.latency, int64(v), e.buckets[i])
	}
	o.ObserveInt64(e.latencyCount, int64(cumulative[len(cumulative)-1]))
	return nil
}

// Close unregisters the callback. It is safe on a nil Exporter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
