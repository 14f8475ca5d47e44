package prometheus

import (
	"github.com/waanverse/waanauth"
	"github.com/waanverse/waanauth/metrics/export/internaldefs"

	prom "github.com/prometheus/client_golang/prometheus"
)

// MetricsSource is the read side of an engine. *waanauth.Engine satisfies it.
type MetricsSource interface {
	MetricsSnapshot() waanauth.MetricsSnapshot
	AuditDropped() uint64
	DispatchStats() (dropped, failed uint64)
}

// Collector exposes engine counters to a Prometheus registry. Values are read
// from a fresh snapshot on every scrape.
type Collector struct {
	source     MetricsSource
	counters   []counterDesc
	histograms []histogramDesc

	auditDropped    *prom.Desc
	dispatchDropped *prom.Desc
	dispatchFailed  *prom.Desc
}

type counterDesc struct {
	id   waanauth.MetricID
	desc *prom.Desc
}

type histogramDesc struct {
	id   waanauth.MetricID
	desc *prom.Desc
}

var (
	_ prom.Collector = (*Collector)(nil)
	_ MetricsSource  = (*waanauth.Engine)(nil)
)

func NewCollector(source MetricsSource) *Collector {
	c := &Collector{
		source:     source,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		auditDropped: prom.NewDesc("waanauth_audit_dropped_total",
			"Audit events dropped because the sink buffer was full.", nil, nil),
		dispatchDropped: prom.NewDesc("waanauth_dispatch_dropped_total",
			"Outbound messages dropped because the queue was full.", nil, nil),
		dispatchFailed: prom.NewDesc("waanauth_dispatch_failed_total",
			"Outbound messages the sender failed to deliver.", nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, counterDesc{id: def.ID, desc: prom.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, histogramDesc{id: def.ID, desc: prom.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, h := range c.histograms {
		ch <- h.desc
	}
	ch <- c.auditDropped
	ch <- c.dispatchDropped
	ch <- c.dispatchFailed
}

func (c *Collector) Collect(ch chan<- prom.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()
	for _, d := range c.counters {
		ch <- prom.MustNewConstMetric(d.desc, prom.CounterValue, float64(snapshot.Counters[d.id]))
	}

	for _, h := range c.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBounds))
		for i, le := range internaldefs.HistogramBounds {
			buckets[le] = cumulative[i]
		}
		// Snapshots carry no sum.
		ch <- prom.MustNewConstHistogram(h.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	dropped, failed := c.source.DispatchStats()
	ch <- prom.MustNewConstMetric(c.auditDropped, prom.CounterValue, float64(c.source.AuditDropped()))
	ch <- prom.MustNewConstMetric(c.dispatchDropped, prom.CounterValue, float64(dropped))
	ch <- prom.MustNewConstMetric(c.dispatchFailed, prom.CounterValue, float64(failed))
}
