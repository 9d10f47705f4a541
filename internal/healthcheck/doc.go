// Package healthcheck runs the periodic liveness probes against workers.
// Each round probes all workers in parallel with an independent timeout and
// updates each worker's health flag on its own; one slow or failing worker
// never holds back or fails the others.
package healthcheck
