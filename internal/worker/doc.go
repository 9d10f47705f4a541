// Package worker models a single inference backend: its static identity,
// in-flight and cumulative request counters, health state, and a bounded
// window of recent response times from which selection weights are derived.
package worker
