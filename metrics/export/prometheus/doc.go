// Package prometheus exposes waanauth counters as a client_golang
// [Collector]. Register it on the registry that serves /metrics:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(exportprom.NewCollector(engine))
//
// Counter names are waanauth_*_total; the latency histogram is
// waanauth_authenticate_latency_seconds.
package prometheus
