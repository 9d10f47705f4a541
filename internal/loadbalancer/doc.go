// Package loadbalancer is the composition root of the balancer. It owns the
// worker pool and the shared HTTP transport, runs the health monitor
// between Start and Stop, and serves single and batch requests through the
// executor.
package loadbalancer
