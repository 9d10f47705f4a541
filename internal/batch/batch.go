package batch

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/angeloszaimis/llm-balancer/internal/adapter"
)

const DefaultMaxConcurrent = 50

// Runner executes a single prompt.
type Runner interface {
	Execute(ctx context.Context, prompt string, opts adapter.Options) (json.RawMessage, error)
}

// Result is the outcome of one prompt of a batch.
type Result struct {
	Index   int             `json:"index"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type Dispatcher struct {
	runner        Runner
	maxConcurrent int
	logger        *slog.Logger
}

// New returns a Dispatcher. defaultMaxConcurrent applies when a batch is
// submitted without its own limit.
func New(runner Runner, defaultMaxConcurrent int, logger *slog.Logger) *Dispatcher {
	if defaultMaxConcurrent <= 0 {
		defaultMaxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Dispatcher{
		runner:        runner,
		maxConcurrent: defaultMaxConcurrent,
		logger:        logger,
	}
}

// ExecuteBatch runs every prompt with at most maxConcurrent in flight and
// returns one Result per prompt in input order. A failing prompt never
// affects the others.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, prompts []string, maxConcurrent int, opts adapter.Options) []Result {
	if maxConcurrent <= 0 {
		maxConcurrent = d.maxConcurrent
	}

	start := time.Now()
	gate := semaphore.NewWeighted(int64(maxConcurrent))
	results := make([]Result, len(prompts))

	var wg sync.WaitGroup
	for i, prompt := range prompts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.run(ctx, gate, i, prompt, opts)
		}()
	}
	wg.Wait()

	slices.SortFunc(results, func(a, b Result) int {
		return a.Index - b.Index
	})

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}

	d.logger.Info("Batch finished",
		slog.Int("prompts", len(prompts)),
		slog.Int("failed", failed),
		slog.Int("max_concurrent", maxConcurrent),
		slog.Duration("elapsed", time.Since(start)))

	return results
}

func (d *Dispatcher) run(ctx context.Context, gate *semaphore.Weighted, index int, prompt string, opts adapter.Options) Result {
	if err := gate.Acquire(ctx, 1); err != nil {
		return Result{Index: index, Error: err.Error()}
	}
	defer gate.Release(1)

	body, err := d.runner.Execute(ctx, prompt, opts)
	if err != nil {
		return Result{Index: index, Error: err.Error()}
	}

	return Result{Index: index, Success: true, Result: body}
}
