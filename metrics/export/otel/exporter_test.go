package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/waanverse/waanauth"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot waanauth.MetricsSnapshot
	audit    uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() waanauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := waanauth.MetricsSnapshot{
		Counters:   make(map[waanauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[waanauth.MetricID][]uint64, len(f.snapshot.Histograms)),
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
	return f.audit
}

func (f *fakeSource) DispatchStats() (uint64, uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped, 0
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findSum(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				return 0, false
			}
			return sum.DataPoints[0].Value, true
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: waanauth.MetricsSnapshot{
			Counters: map[waanauth.MetricID]uint64{
				waanauth.MetricLoginSuccess: 3,
			},
			Histograms: map[waanauth.MetricID][]uint64{
				waanauth.MetricAuthenticateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		audit:   1,
		dropped: 4,
	}

	exp, err := NewExporter(provider.Meter("waanauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if v, ok := findSum(rm, "waanauth_login_success_total"); !ok || v != 3 {
		t.Fatalf("expected login success 3, got %d (found=%v)", v, ok)
	}
	if v, ok := findSum(rm, "waanauth_dispatch_dropped_total"); !ok || v != 4 {
		t.Fatalf("expected dispatch dropped 4, got %d (found=%v)", v, ok)
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader()
	if _, err := NewExporter(provider.Meter("waanauth-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: waanauth.MetricsSnapshot{
			Counters: map[waanauth.MetricID]uint64{
				waanauth.MetricLoginSuccess: 1,
			},
		},
	}

	exp, err := NewExporter(provider.Meter("waanauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer func() {
		_ = exp.Close()
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[waanauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
