// Package prometheus exposes goSession engine counters and latency
// histograms as a prometheus.Collector.
//
// [NewCollector] reads [goSession.Engine.MetricsSnapshot] on every scrape.
// Register it on any registry, or serve it standalone with [Handler].
//
// # What this package must NOT do
//
//   - Register on the global default registry.
//   - Mutate engine state.
package prometheus
