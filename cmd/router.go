package main

import (
	"net/http"

	"github.com/angeloszaimis/llm-balancer/internal/handler"
	"github.com/angeloszaimis/llm-balancer/internal/loadbalancer"
)

func setupRouter(api *handler.API, lb *loadbalancer.LoadBalancer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/generate", api.Generate)
	mux.HandleFunc("POST /v1/batch", api.Batch)
	mux.HandleFunc("GET /status", api.Status)
	mux.HandleFunc("GET /health", api.Health)
	mux.HandleFunc("GET /stats", lb.Aggregator().Handler(lb.Workers))
	mux.Handle("GET /metrics", lb.Aggregator().PrometheusHandler())

	return mux
}
