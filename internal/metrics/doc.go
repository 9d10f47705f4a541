// Package metrics aggregates balancer-wide request statistics.
//
// The Aggregator counts every attempt sent to a worker, keeps a ring of the
// most recent successful latencies (1000 by default) and derives:
//   - uptime and requests per second
//   - success rate as a percentage
//   - average, min, max and P50/P95/P99 latency over the window
//
// Snapshot also embeds the status of every worker and the effective
// balancer configuration. The same counters are exported through a private
// Prometheus registry together with per-worker gauges read at scrape time.
package metrics
