package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

const namespace = "llm_balancer"

type promCollectors struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	workers  *workerCollector
}

func newPromCollectors() *promCollectors {
	p := &promCollectors{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Attempts sent to workers, by outcome.",
			},
			[]string{"worker", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Latency of successful attempts.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"worker"},
		),
		workers: &workerCollector{},
	}

	p.registry.MustRegister(
		p.requests,
		p.latency,
		p.workers,
		collectors.NewGoCollector(),
	)

	return p
}

// Watch exports live per-worker gauges for the given pool.
func (a *Aggregator) Watch(workers []*worker.Worker) {
	a.prom.workers.set(workers)
}

// Registry exposes the private registry, mainly for tests.
func (a *Aggregator) Registry() *prometheus.Registry {
	return a.prom.registry
}

// PrometheusHandler serves the registry in the Prometheus text format.
func (a *Aggregator) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(a.prom.registry, promhttp.HandlerOpts{})
}

var (
	healthyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "worker", "healthy"),
		"1 if the last health probe succeeded.",
		[]string{"worker", "type"}, nil,
	)
	inFlightDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "worker", "in_flight_requests"),
		"Requests currently dispatched to the worker.",
		[]string{"worker", "type"}, nil,
	)
	capacityDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "worker", "capacity"),
		"Configured concurrent request limit.",
		[]string{"worker", "type"}, nil,
	)
	successRateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "worker", "success_rate"),
		"Share of requests to the worker that succeeded.",
		[]string{"worker", "type"}, nil,
	)
)

// workerCollector reads worker state at scrape time.
type workerCollector struct {
	mutex   sync.RWMutex
	workers []*worker.Worker
}

func (c *workerCollector) set(workers []*worker.Worker) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.workers = workers
}

func (c *workerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- healthyDesc
	ch <- inFlightDesc
	ch <- capacityDesc
	ch <- successRateDesc
}

func (c *workerCollector) Collect(ch chan<- prometheus.Metric) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, w := range c.workers {
		labels := []string{w.ID(), string(w.Kind())}

		healthy := 0.0
		if w.IsHealthy() {
			healthy = 1
		}

		ch <- prometheus.MustNewConstMetric(healthyDesc, prometheus.GaugeValue, healthy, labels...)
		ch <- prometheus.MustNewConstMetric(inFlightDesc, prometheus.GaugeValue, float64(w.CurrentRequests()), labels...)
		ch <- prometheus.MustNewConstMetric(capacityDesc, prometheus.GaugeValue, float64(w.Capacity()), labels...)
		ch <- prometheus.MustNewConstMetric(successRateDesc, prometheus.GaugeValue, w.SuccessRate(), labels...)
	}
}
