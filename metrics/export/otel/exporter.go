package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/waanverse/waanauth"
	"github.com/waanverse/waanauth/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

var _ MetricsSource = (*waanauth.Engine)(nil)

// MetricsSource is the read side of an engine. *waanauth.Engine satisfies it.
type MetricsSource interface {
	MetricsSnapshot() waanauth.MetricsSnapshot
	AuditDropped() uint64
	DispatchStats() (dropped, failed uint64)
}

// pipeline counters live outside the metric snapshot.
var pipelineDefs = []struct {
	name, help string
	read       func(MetricsSource) uint64
}{
	{"waanauth_audit_dropped_total", "Audit events dropped because the sink buffer was full.",
		func(s MetricsSource) uint64 { return s.AuditDropped() }},
	{"waanauth_dispatch_dropped_total", "Outbound messages dropped because the queue was full.",
		func(s MetricsSource) uint64 { d, _ := s.DispatchStats(); return d }},
	{"waanauth_dispatch_failed_total", "Outbound messages the sender failed to deliver.",
		func(s MetricsSource) uint64 { _, f := s.DispatchStats(); return f }},
}

type histogramGauges struct {
	id      waanauth.MetricID
	buckets []metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter publishes engine counters as asynchronous OpenTelemetry
// instruments. Histograms are flattened into one gauge per bucket.
type Exporter struct {
	source       MetricsSource
	registration metric.Registration

	counters   map[waanauth.MetricID]metric.Int64ObservableCounter
	pipeline   []metric.Int64ObservableCounter
	histograms []histogramGauges
	all        []metric.Observable
}

func NewExporter(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   source,
		counters: make(map[waanauth.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	if err := e.instrument(meter); err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(e.observe, e.all...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) counter(meter metric.Meter, name, help string) (metric.Int64ObservableCounter, error) {
	c, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", name, err)
	}
	e.all = append(e.all, c)
	return c, nil
}

func (e *Exporter) gauge(meter metric.Meter, name, help string) (metric.Int64ObservableGauge, error) {
	g, err := meter.Int64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", name, err)
	}
	e.all = append(e.all, g)
	return g, nil
}

func (e *Exporter) instrument(meter metric.Meter) error {
	for _, def := range internaldefs.CounterDefs {
		c, err := e.counter(meter, def.Name, def.Help)
		if err != nil {
			return err
		}
		e.counters[def.ID] = c
	}
	for _, def := range pipelineDefs {
		c, err := e.counter(meter, def.name, def.help)
		if err != nil {
			return err
		}
		e.pipeline = append(e.pipeline, c)
	}
	for _, def := range internaldefs.HistogramDefs {
		h := histogramGauges{id: def.ID}
		for _, suffix := range internaldefs.HistogramBoundSuffix {
			g, err := e.gauge(meter, def.Name+"_bucket_le_"+suffix, "Cumulative histogram bucket count.")
			if err != nil {
				return err
			}
			h.buckets = append(h.buckets, g)
		}
		count, err := e.gauge(meter, def.Name+"_count", "Histogram total sample count.")
		if err != nil {
			return err
		}
		h.count = count
		e.histograms = append(e.histograms, h)
	}
	return nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, c := range e.counters {
		o.ObserveInt64(c, int64(snap.Counters[id]))
	}
	for i, def := range pipelineDefs {
		o.ObserveInt64(e.pipeline[i], int64(def.read(e.source)))
	}
	for _, h := range e.histograms {
		cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[h.id]))
		for i, g := range h.buckets {
			o.ObserveInt64(g, int64(cum[i]))
		}
		o.ObserveInt64(h.count, int64(cum[len(cum)-1]))
	}
	return nil
}

// Close unregisters the callback. The meter keeps the instruments.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
