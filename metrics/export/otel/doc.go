// Package otel publishes waanauth counters through OpenTelemetry.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and
// one Int64ObservableGauge per latency bucket. A single callback reads
// [waanauth.Engine.MetricsSnapshot] on each collection cycle. Callers own the
// MeterProvider.
package otel
