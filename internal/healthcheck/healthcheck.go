package healthcheck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/llm-balancer/internal/adapter"
	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

const (
	DefaultProbeTimeout     = 5 * time.Second
	DefaultRecoveryInterval = 5 * time.Second
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Monitor probes every worker on a fixed interval and flips its health flag.
type Monitor struct {
	workers          []*worker.Worker
	client           Doer
	interval         time.Duration
	probeTimeout     time.Duration
	recoveryInterval time.Duration
	logger           *slog.Logger
}

type Option func(*Monitor)

func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		m.probeTimeout = d
	}
}

// WithRecoveryInterval sets the pause after a tick that failed unexpectedly.
func WithRecoveryInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.recoveryInterval = d
	}
}

func New(workers []*worker.Worker, client Doer, interval time.Duration, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	m := &Monitor{
		workers:          workers,
		client:           client,
		interval:         interval,
		probeTimeout:     DefaultProbeTimeout,
		recoveryInterval: DefaultRecoveryInterval,
		logger:           logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Run probes all workers immediately and then once per interval until ctx
// is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Health monitor started",
		slog.Int("workers", len(m.workers)),
		slog.Duration("interval", m.interval))

	for {
		wait := m.interval
		if err := m.CheckAll(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("Health check round failed", slog.Any("error", err))
			wait = m.recoveryInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("Health monitor stopped")
			return
		case <-timer.C:
		}
	}
}

// CheckAll probes every worker concurrently and waits for all probes. A
// failed probe only affects its own worker; the returned error reports
// unexpected failures such as a panicking probe.
func (m *Monitor) CheckAll(ctx context.Context) error {
	var g errgroup.Group

	for _, w := range m.workers {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("probe %s panicked: %v", w.ID(), r)
				}
			}()

			m.probe(ctx, w)
			return nil
		})
	}

	return g.Wait()
}

func (m *Monitor) probe(ctx context.Context, w *worker.Worker) {
	start := time.Now()
	err := m.Check(ctx, w)

	// shutting down, not a worker failure
	if ctx.Err() != nil {
		return
	}

	healthy := err == nil
	if healthy {
		w.UpdateResponseTime(time.Since(start))
	}

	changed := w.SetHealth(healthy, time.Now())

	switch {
	case !healthy:
		m.logger.Warn("Health check failed",
			slog.String("worker", w.ID()),
			slog.Any("error", err))
	case changed:
		m.logger.Info("Worker is back up",
			slog.String("worker", w.ID()))
	}
}

// Check sends one liveness probe to the worker. Any answer other than HTTP
// 200 within the probe timeout is an error.
func (m *Monitor) Check(ctx context.Context, w *worker.Worker) error {
	a, err := adapter.For(w.Kind())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	req, err := a.HealthRequest(ctx, w)
	if err != nil {
		return fmt.Errorf("worker %s: %w", w.ID(), err)
	}

	res, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("worker %s: %w", w.ID(), err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("worker %s: health probe returned %d", w.ID(), res.StatusCode)
	}

	return nil
}
