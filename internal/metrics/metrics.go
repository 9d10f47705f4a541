package metrics

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

const DefaultWindowSize = 1000

// BalancerConfig is the effective configuration reported with each snapshot.
type BalancerConfig struct {
	HealthCheckInterval float64 `json:"health_check_interval"`
	RequestTimeout      float64 `json:"request_timeout"`
	MaxRetries          int     `json:"max_retries"`
	MaxConcurrentBatch  int     `json:"max_concurrent_batch"`
	Strategy            string  `json:"strategy"`
	AdmissionMode       string  `json:"admission_mode"`
}

// Aggregator keeps balancer-wide request counters and a window of recent
// latencies. Every attempt against a worker counts as one request.
type Aggregator struct {
	total      atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64

	mutex     sync.Mutex
	latencies []time.Duration
	next      int
	filled    int

	enabled   bool
	config    BalancerConfig
	startTime time.Time
	now       func() time.Time

	prom *promCollectors
}

type Option func(*Aggregator)

func WithWindowSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.latencies = make([]time.Duration, n)
		}
	}
}

// WithEnabled toggles latency and success tracking. Totals and failures
// are always counted.
func WithEnabled(enabled bool) Option {
	return func(a *Aggregator) {
		a.enabled = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

func New(cfg BalancerConfig, opts ...Option) *Aggregator {
	a := &Aggregator{
		latencies: make([]time.Duration, DefaultWindowSize),
		enabled:   true,
		config:    cfg,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	a.startTime = a.now()
	a.prom = newPromCollectors()

	return a
}

func (a *Aggregator) RecordSuccess(workerID string, latency time.Duration) {
	a.total.Add(1)
	a.prom.requests.WithLabelValues(workerID, "success").Inc()

	if !a.enabled {
		return
	}

	a.successful.Add(1)
	a.prom.latency.WithLabelValues(workerID).Observe(latency.Seconds())

	a.mutex.Lock()
	a.latencies[a.next] = latency
	a.next = (a.next + 1) % len(a.latencies)
	if a.filled < len(a.latencies) {
		a.filled++
	}
	a.mutex.Unlock()
}

func (a *Aggregator) RecordFailure(workerID string) {
	a.total.Add(1)
	a.failed.Add(1)
	a.prom.requests.WithLabelValues(workerID, "failure").Inc()
}

type RequestStats struct {
	Total              int64   `json:"total"`
	Successful         int64   `json:"successful"`
	Failed             int64   `json:"failed"`
	SuccessRatePercent float64 `json:"success_rate_percent"`
	RequestsPerSecond  float64 `json:"requests_per_second"`
}

// Performance holds latency statistics in seconds over the sample window.
type Performance struct {
	AverageResponseTime float64 `json:"average_response_time"`
	MinResponseTime     float64 `json:"min_response_time"`
	MaxResponseTime     float64 `json:"max_response_time"`
	P50ResponseTime     float64 `json:"p50_response_time"`
	P95ResponseTime     float64 `json:"p95_response_time"`
	P99ResponseTime     float64 `json:"p99_response_time"`
	Samples             int     `json:"samples"`
}

type Snapshot struct {
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Requests      RequestStats             `json:"requests"`
	Performance   Performance              `json:"performance"`
	Workers       map[string]worker.Status `json:"workers"`
	Config        BalancerConfig           `json:"load_balancer_config"`
}

// Snapshot computes the current statistics. All figures are zero before
// the first request.
func (a *Aggregator) Snapshot(workers []*worker.Worker) Snapshot {
	uptime := a.now().Sub(a.startTime).Seconds()
	total := a.total.Load()
	successful := a.successful.Load()

	snap := Snapshot{
		UptimeSeconds: uptime,
		Requests: RequestStats{
			Total:      total,
			Successful: successful,
			Failed:     a.failed.Load(),
		},
		Workers: make(map[string]worker.Status, len(workers)),
		Config:  a.config,
	}

	if uptime > 0 {
		snap.Requests.RequestsPerSecond = float64(total) / uptime
	}
	if total > 0 {
		snap.Requests.SuccessRatePercent = float64(successful) / float64(total) * 100
	}

	a.mutex.Lock()
	sorted := slices.Clone(a.latencies[:a.filled])
	a.mutex.Unlock()

	if len(sorted) > 0 {
		slices.Sort(sorted)
		snap.Performance = Performance{
			AverageResponseTime: average(sorted).Seconds(),
			MinResponseTime:     sorted[0].Seconds(),
			MaxResponseTime:     sorted[len(sorted)-1].Seconds(),
			P50ResponseTime:     percentile(sorted, 0.50).Seconds(),
			P95ResponseTime:     percentile(sorted, 0.95).Seconds(),
			P99ResponseTime:     percentile(sorted, 0.99).Seconds(),
			Samples:             len(sorted),
		}
	}

	for _, w := range workers {
		snap.Workers[w.ID()] = w.Status()
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
