// Package metrics exposes the Prometheus counters, gauges and histograms
// the storage core's components are required to maintain:
//
//   - the table lock manager's held/acquired/wait-time counters
//   - per-table engine operation durations (§4.D)
//   - snapshot creation/expiry counts (§4.F)
//   - active PG-wire sessions per workspace and terminal-status counts (§4.J)
//   - HTTP/S3 control-plane request counts and latencies (§4.K)
//
// Handler returns the scrape endpoint; mounting it behind a path, and
// deciding whether to expose it at all, is left to the calling process —
// Prometheus exporter wiring itself stays out of this package's scope.
package metrics
