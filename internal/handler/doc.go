// Package handler implements the JSON API in front of the load balancer:
// single and batch generation, worker status and liveness, plus the
// request logging middleware.
package handler
