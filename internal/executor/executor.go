package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/llm-balancer/internal/adapter"
	"github.com/angeloszaimis/llm-balancer/internal/circuitbreaker"
	"github.com/angeloszaimis/llm-balancer/internal/strategy"
	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

const (
	DefaultMaxRetries     = 3
	DefaultRequestTimeout = 300 * time.Second
	DefaultBackoffBase    = 500 * time.Millisecond

	// maxErrorBody caps how much of a failed response is kept in a BackendError.
	maxErrorBody = 4 << 10
)

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Recorder receives the outcome of every attempt.
type Recorder interface {
	RecordSuccess(workerID string, latency time.Duration)
	RecordFailure(workerID string)
}

// Executor runs one logical request against the pool with retries.
type Executor struct {
	workers        []*worker.Worker
	selector       *strategy.Selector
	client         Doer
	maxRetries     int
	requestTimeout time.Duration
	backoffBase    time.Duration
	breakers       *circuitbreaker.Registry
	recorder       Recorder
	logger         *slog.Logger
}

type Option func(*Executor)

func WithMaxRetries(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithRequestTimeout bounds each attempt, not the request as a whole.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.requestTimeout = d
		}
	}
}

// WithBackoffBase scales both backoff schedules. The default is 500ms.
func WithBackoffBase(d time.Duration) Option {
	return func(e *Executor) {
		e.backoffBase = d
	}
}

func WithBreakers(r *circuitbreaker.Registry) Option {
	return func(e *Executor) {
		e.breakers = r
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		e.recorder = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(workers []*worker.Worker, selector *strategy.Selector, client Doer, opts ...Option) *Executor {
	e := &Executor{
		workers:        workers,
		selector:       selector,
		client:         client,
		maxRetries:     DefaultMaxRetries,
		requestTimeout: DefaultRequestTimeout,
		backoffBase:    DefaultBackoffBase,
		logger:         slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute sends the prompt to a selected worker, retrying up to maxRetries
// times. When no worker is available it waits base*(attempt+1) before
// selecting again; after a failed attempt it waits base*2^attempt. The body
// of the first HTTP 200 answer is returned as is.
func (e *Executor) Execute(ctx context.Context, prompt string, opts adapter.Options) (json.RawMessage, error) {
	log := e.logger.With(slog.String("request_id", uuid.NewString()))
	attempts := e.maxRetries + 1

	var last error
	for attempt := range attempts {
		w, err := e.selector.Acquire(e.workers)
		if err != nil {
			if attempt == attempts-1 {
				last = err
				break
			}

			log.Debug("No worker available, waiting",
				slog.Int("attempt", attempt+1))
			if err := e.sleep(ctx, e.backoffBase*time.Duration(attempt+1)); err != nil {
				return nil, err
			}
			continue
		}

		log.Debug("Sending request",
			slog.String("worker", w.ID()),
			slog.Int("attempt", attempt+1))

		body, err := e.attempt(ctx, w, prompt, opts)
		if err == nil {
			return body, nil
		}

		last = err
		log.Warn("Request attempt failed",
			slog.String("worker", w.ID()),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt == attempts-1 {
			break
		}

		if err := e.sleep(ctx, e.backoffBase<<attempt); err != nil {
			return nil, err
		}
	}

	return nil, &RetryError{Attempts: attempts, Last: last}
}

// attempt performs one dispatch to w. The in-flight slot taken by Acquire
// is released on every path.
func (e *Executor) attempt(ctx context.Context, w *worker.Worker, prompt string, opts adapter.Options) (json.RawMessage, error) {
	defer w.DecrementInFlight()

	body, latency, err := e.send(ctx, w, prompt, opts)
	if err != nil {
		w.RecordFailure()
		e.breakers.RecordFailure(w.ID())
		if e.recorder != nil {
			e.recorder.RecordFailure(w.ID())
		}
		return nil, err
	}

	w.UpdateResponseTime(latency)
	w.RecordSuccess()
	e.breakers.RecordSuccess(w.ID())
	if e.recorder != nil {
		e.recorder.RecordSuccess(w.ID(), latency)
	}

	return body, nil
}

func (e *Executor) send(ctx context.Context, w *worker.Worker, prompt string, opts adapter.Options) (json.RawMessage, time.Duration, error) {
	a, err := adapter.For(w.Kind())
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	req, err := a.InferenceRequest(ctx, w, prompt, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("worker %s: %w", w.ID(), err)
	}

	start := time.Now()
	res, err := e.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("worker %s: %w", w.ID(), err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, 0, &BackendError{WorkerID: w.ID(), StatusCode: res.StatusCode, Body: string(text)}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("worker %s: read response: %w", w.ID(), err)
	}
	latency := time.Since(start)

	if !json.Valid(body) {
		return nil, 0, fmt.Errorf("worker %s: response is not valid JSON", w.ID())
	}

	return body, latency, nil
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
