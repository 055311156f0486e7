// Package metrics accumulates per-run counters and renders them in the
// Prometheus text exposition format, either over HTTP or as a textfile for
// node_exporter's textfile collector.
package metrics
