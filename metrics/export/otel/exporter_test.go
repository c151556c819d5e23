package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/railconnect/authcore"
	"github.com/railconnect/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authcore.MetricsSnapshot{
		Counters:   make(map[authcore.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authcore.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// collect keys each data point as name or name{k=v}.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]int64)
	key := func(name string, attrs attribute.Set) string {
		if attrs.Len() == 0 {
			return name
		}
		return name + "{" + attrs.Encoded(attribute.DefaultEncoder()) + "}"
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[key(m.Name, dp.Attributes)] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[key(m.Name, dp.Attributes)] = dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterFamiliesCarryAttributes(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:         3,
				authcore.MetricLoginFailure:         6,
				authcore.MetricLoginLocked:          1,
				authcore.MetricLoginRejectedLocked:  2,
				authcore.MetricRefreshReuseDetected: 1,
				authcore.MetricAccountUnlock:        1,
				authcore.MetricLogout:               4,
			},
		},
		dropped: 7,
	}

	exp, err := New(provider.Meter("authcore-test"), src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	want := map[string]int64{
		"authcore.login.events{event=success}":           3,
		"authcore.login.events{event=failure}":           6,
		"authcore.login.events{event=lock_set}":          1,
		"authcore.login.events{event=rejected_locked}":   2,
		"authcore.login.events{event=suspended}":         0,
		"authcore.refresh.events{result=reuse_detected}": 1,
		"authcore.account.operations{operation=unlock}":  1,
		"authcore.session.logouts":                       4,
		"authcore.audit.dropped":                         7,
	}
	for name, v := range want {
		if n, ok := got[name]; !ok || n != v {
			t.Fatalf("%s = %d (present %v), want %d", name, n, ok, v)
		}
	}
}

func TestExporterCoversEveryCounterOnce(t *testing.T) {
	seen := make(map[authcore.MetricID]int)
	for _, f := range families {
		for _, m := range f.members {
			seen[m.id]++
			if (f.key == "") != (m.value == "") {
				t.Fatalf("%s: attribute value %q does not match key %q", f.name, m.value, f.key)
			}
		}
	}
	for _, def := range internaldefs.CounterDefs {
		if seen[def.ID] != 1 {
			t.Fatalf("%s exported %d times", def.Name, seen[def.ID])
		}
	}
	if len(seen) != len(internaldefs.CounterDefs) {
		t.Fatalf("families export %d counters, defs list %d", len(seen), len(internaldefs.CounterDefs))
	}
}

func TestExporterLatencyBuckets(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{snapshot: authcore.MetricsSnapshot{
		Histograms: map[authcore.MetricID][]uint64{
			authcore.MetricLoginLatency: {1, 1, 1, 1, 1, 1, 1, 1},
		},
	}}

	exp, err := New(provider.Meter("authcore-test"), src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	want := map[string]int64{
		"authcore.login.latency.buckets{le=0.005}": 1,
		"authcore.login.latency.buckets{le=0.1}":   5,
		"authcore.login.latency.buckets{le=+Inf}":  8,
		"authcore.login.latency.count":             8,
	}
	for name, v := range want {
		if got[name] != v {
			t.Fatalf("%s = %d, want %d", name, got[name], v)
		}
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()

	if _, err := New(provider.Meter("authcore-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := New(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterClose(t *testing.T) {
	reader, provider := newReader()
	exp, err := New(provider.Meter("authcore-test"), &fakeSource{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := collect(t, reader)["authcore.session.logouts"]; got != 0 {
		t.Fatalf("expected 0 logouts, got %d", got)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	var nilExporter *Exporter
	if err := nilExporter.Close(); err != nil {
		t.Fatalf("nil Close failed: %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{snapshot: authcore.MetricsSnapshot{
		Counters: map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
	}}

	exp, err := New(provider.Meter("authcore-test"), src)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authcore.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
