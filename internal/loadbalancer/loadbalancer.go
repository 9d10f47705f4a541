package loadbalancer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/angeloszaimis/llm-balancer/internal/adapter"
	"github.com/angeloszaimis/llm-balancer/internal/batch"
	"github.com/angeloszaimis/llm-balancer/internal/circuitbreaker"
	"github.com/angeloszaimis/llm-balancer/internal/executor"
	"github.com/angeloszaimis/llm-balancer/internal/healthcheck"
	"github.com/angeloszaimis/llm-balancer/internal/metrics"
	"github.com/angeloszaimis/llm-balancer/internal/strategy"
	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

var (
	ErrNotRunning     = errors.New("load balancer is not running")
	ErrAlreadyRunning = errors.New("load balancer is already running")
	ErrNoWorkers      = errors.New("no workers configured")
)

// Config holds the runtime tunables of a LoadBalancer.
type Config struct {
	// HealthCheckInterval of zero disables the health monitor.
	HealthCheckInterval time.Duration
	RequestTimeout      time.Duration
	MaxRetries          int
	MaxConcurrentBatch  int
	ConnectionPoolSize  int
	DNSCacheTTL         time.Duration
	EnableMetrics       bool
	MetricsWindowSize   int

	Strategy  strategy.Type
	Admission strategy.Mode

	// BreakerThreshold of zero disables circuit breaking.
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 30 * time.Second,
		RequestTimeout:      executor.DefaultRequestTimeout,
		MaxRetries:          executor.DefaultMaxRetries,
		MaxConcurrentBatch:  batch.DefaultMaxConcurrent,
		ConnectionPoolSize:  100,
		DNSCacheTTL:         300 * time.Second,
		EnableMetrics:       true,
		MetricsWindowSize:   metrics.DefaultWindowSize,
		Strategy:            strategy.TypeWeighted,
		Admission:           strategy.ModeAdvisory,
		BreakerResetTimeout: 30 * time.Second,
	}
}

// LoadBalancer owns the worker pool and wires selection, execution, batch
// dispatch, health monitoring and metrics together.
type LoadBalancer struct {
	cfg      Config
	workers  []*worker.Worker
	logger   *slog.Logger
	selector *strategy.Selector
	breakers *circuitbreaker.Registry
	metrics  *metrics.Aggregator

	rng          *rand.Rand
	backoffBase  time.Duration
	probeTimeout time.Duration

	mutex      sync.RWMutex
	running    bool
	transport  *http.Transport
	executor   *executor.Executor
	dispatcher *batch.Dispatcher
	stopHealth context.CancelFunc
	healthDone chan struct{}
}

type Option func(*LoadBalancer)

func WithLogger(l *slog.Logger) Option {
	return func(lb *LoadBalancer) {
		if l != nil {
			lb.logger = l
		}
	}
}

// WithRand seeds the selection strategy.
func WithRand(rng *rand.Rand) Option {
	return func(lb *LoadBalancer) {
		lb.rng = rng
	}
}

// WithBackoffBase scales the executor's retry waits.
func WithBackoffBase(d time.Duration) Option {
	return func(lb *LoadBalancer) {
		lb.backoffBase = d
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(lb *LoadBalancer) {
		lb.probeTimeout = d
	}
}

func New(workers []*worker.Worker, cfg Config, opts ...Option) (*LoadBalancer, error) {
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}

	lb := &LoadBalancer{
		cfg:          cfg,
		workers:      workers,
		logger:       slog.New(slog.DiscardHandler),
		backoffBase:  executor.DefaultBackoffBase,
		probeTimeout: healthcheck.DefaultProbeTimeout,
	}

	for _, opt := range opts {
		opt(lb)
	}

	strat, err := strategy.New(cfg.Strategy, lb.rng)
	if err != nil {
		return nil, err
	}

	mode := cfg.Admission
	if mode == "" {
		mode = strategy.ModeAdvisory
	}

	lb.breakers = circuitbreaker.NewRegistry(cfg.BreakerThreshold, cfg.BreakerResetTimeout)
	lb.selector = strategy.NewSelector(strat,
		strategy.WithMode(mode),
		strategy.WithBreakers(lb.breakers),
	)

	lb.metrics = metrics.New(metrics.BalancerConfig{
		HealthCheckInterval: cfg.HealthCheckInterval.Seconds(),
		RequestTimeout:      cfg.RequestTimeout.Seconds(),
		MaxRetries:          cfg.MaxRetries,
		MaxConcurrentBatch:  cfg.MaxConcurrentBatch,
		Strategy:            string(cfg.Strategy),
		AdmissionMode:       string(mode),
	},
		metrics.WithEnabled(cfg.EnableMetrics),
		metrics.WithWindowSize(cfg.MetricsWindowSize),
	)
	lb.metrics.Watch(workers)

	return lb, nil
}

// Start opens the connection pool and, when a health check interval is
// set, launches the health monitor. The monitor stops when ctx is
// cancelled or Stop is called.
func (lb *LoadBalancer) Start(ctx context.Context) error {
	lb.mutex.Lock()
	defer lb.mutex.Unlock()

	if lb.running {
		return ErrAlreadyRunning
	}

	lb.transport = newTransport(lb.cfg.ConnectionPoolSize, lb.cfg.DNSCacheTTL)
	client := &http.Client{Transport: lb.transport}

	lb.executor = executor.New(lb.workers, lb.selector, client,
		executor.WithMaxRetries(lb.cfg.MaxRetries),
		executor.WithRequestTimeout(lb.cfg.RequestTimeout),
		executor.WithBackoffBase(lb.backoffBase),
		executor.WithBreakers(lb.breakers),
		executor.WithRecorder(lb.metrics),
		executor.WithLogger(lb.logger),
	)
	lb.dispatcher = batch.New(lb.executor, lb.cfg.MaxConcurrentBatch, lb.logger)

	if lb.cfg.HealthCheckInterval > 0 {
		monitor := healthcheck.New(lb.workers, client, lb.cfg.HealthCheckInterval, lb.logger,
			healthcheck.WithProbeTimeout(lb.probeTimeout))

		healthCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			monitor.Run(healthCtx)
		}()

		lb.stopHealth = cancel
		lb.healthDone = done
	}

	lb.running = true
	lb.logger.Info("Load balancer started",
		slog.Int("workers", len(lb.workers)),
		slog.String("strategy", string(lb.cfg.Strategy)),
		slog.String("admission", string(lb.selector.Mode())))

	return nil
}

// Stop rejects new requests, waits for the health monitor to exit and
// closes idle connections. Requests already in flight run to completion.
// Stopping a stopped balancer is a no-op.
func (lb *LoadBalancer) Stop() {
	lb.mutex.Lock()
	if !lb.running {
		lb.mutex.Unlock()
		return
	}

	lb.running = false
	cancel, done, transport := lb.stopHealth, lb.healthDone, lb.transport
	lb.stopHealth, lb.healthDone = nil, nil
	lb.mutex.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	transport.CloseIdleConnections()

	lb.logger.Info("Load balancer stopped")
}

func (lb *LoadBalancer) IsRunning() bool {
	lb.mutex.RLock()
	defer lb.mutex.RUnlock()
	return lb.running
}

// ProcessRequest runs one prompt through the pool with retries.
func (lb *LoadBalancer) ProcessRequest(ctx context.Context, prompt string, opts adapter.Options) (json.RawMessage, error) {
	exec, err := lb.currentExecutor()
	if err != nil {
		return nil, err
	}

	return exec.Execute(ctx, prompt, opts)
}

// ProcessBatch runs prompts concurrently, at most maxConcurrent at a time
// (the configured default when maxConcurrent <= 0), and returns one result
// per prompt in input order.
func (lb *LoadBalancer) ProcessBatch(ctx context.Context, prompts []string, maxConcurrent int, opts adapter.Options) ([]batch.Result, error) {
	lb.mutex.RLock()
	running, dispatcher := lb.running, lb.dispatcher
	lb.mutex.RUnlock()

	if !running {
		return nil, ErrNotRunning
	}

	return dispatcher.ExecuteBatch(ctx, prompts, maxConcurrent, opts), nil
}

func (lb *LoadBalancer) currentExecutor() (*executor.Executor, error) {
	lb.mutex.RLock()
	defer lb.mutex.RUnlock()

	if !lb.running {
		return nil, ErrNotRunning
	}
	return lb.executor, nil
}

// Metrics returns the current statistics snapshot.
func (lb *LoadBalancer) Metrics() metrics.Snapshot {
	return lb.metrics.Snapshot(lb.workers)
}

// Aggregator exposes the metrics aggregator for HTTP export.
func (lb *LoadBalancer) Aggregator() *metrics.Aggregator {
	return lb.metrics
}

// WorkerStatus returns the status of every worker in pool order.
func (lb *LoadBalancer) WorkerStatus() []worker.Status {
	out := make([]worker.Status, len(lb.workers))
	for i, w := range lb.workers {
		out[i] = w.Status()
	}
	return out
}

func (lb *LoadBalancer) Workers() []*worker.Worker {
	return lb.workers
}

// BreakerStates reports circuit breaker states by worker ID. It is empty
// while circuit breaking is disabled.
func (lb *LoadBalancer) BreakerStates() map[string]string {
	states := lb.breakers.States()
	out := make(map[string]string, len(states))
	for id, s := range states {
		out[id] = s.String()
	}
	return out
}
