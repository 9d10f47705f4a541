// Package strategy selects the worker that serves the next request.
//
//   - weighted: random draw proportional to worker weight (default)
//   - random: uniform among available workers
//   - least-load: lowest load percentage, ties by pool order
//
// Every strategy ignores workers that are unhealthy or at capacity. The
// Selector adds admission on top: it increments the chosen worker's
// in-flight counter and, when configured, consults per-worker circuit
// breakers.
package strategy
