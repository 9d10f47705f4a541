package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

// Adapter translates generic generation options into the native request
// shape of one backend protocol.
type Adapter interface {
	// Endpoint returns the inference URL of the worker.
	Endpoint(w *worker.Worker) string
	// HealthRequest builds the liveness probe for the worker.
	HealthRequest(ctx context.Context, w *worker.Worker) (*http.Request, error)
	// InferenceRequest builds the generation request for the worker.
	InferenceRequest(ctx context.Context, w *worker.Worker, prompt string, opts Options) (*http.Request, error)
}

var adapters = map[worker.Kind]Adapter{
	worker.KindOllama:   ollamaAdapter{},
	worker.KindLMStudio: lmStudioAdapter{},
	worker.KindExo:      exoAdapter{},
}

// For returns the adapter for a worker kind.
func For(kind worker.Kind) (Adapter, error) {
	a, ok := adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", worker.ErrUnknownKind, kind)
	}
	return a, nil
}

// FrequencyPenalty maps an Ollama-style repeat penalty (1.0 neutral) onto
// the OpenAI frequency_penalty range [0, 2].
func FrequencyPenalty(repeatPenalty float64) float64 {
	return min(2.0, max(0.0, repeatPenalty-1.0))
}

func getRequest(ctx context.Context, url string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
}

func postJSON(ctx context.Context, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return req, nil
}
