// Package circuitbreaker keeps a consecutive-failure breaker per worker.
//
// States:
//
//   - closed: requests pass
//   - open: the worker is skipped until the reset timeout passes
//   - half-open: one trial request decides between closed and open
//
// The registry is opt-in. With a threshold of zero every call is a no-op and
// Allow always returns true, so selection falls back to health and capacity
// alone.
package circuitbreaker
