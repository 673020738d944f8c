// Package metrics exposes bootstrap progress as Prometheus metrics.
//
// A Registry owns its own prometheus.Registry so tests and multiple engines in
// one process never collide on the global default registerer.
//
// # Basic Usage
//
//	m := metrics.New()
//	m.SetPhase(metrics.PhaseLoading)
//	m.RecordJob(err)
//	m.RecordLoad(written, elapsed, size)
//
//	http.Handle("/metrics", promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{}))
package metrics
