package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/angeloszaimis/llm-balancer/internal/adapter"
	"github.com/angeloszaimis/llm-balancer/internal/batch"
	"github.com/angeloszaimis/llm-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/llm-balancer/internal/prompt"
	"github.com/angeloszaimis/llm-balancer/internal/strategy"
	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

const maxBodyBytes = 32 << 20

// Balancer is the part of the load balancer the API needs.
type Balancer interface {
	ProcessRequest(ctx context.Context, prompt string, opts adapter.Options) (json.RawMessage, error)
	ProcessBatch(ctx context.Context, prompts []string, maxConcurrent int, opts adapter.Options) ([]batch.Result, error)
	WorkerStatus() []worker.Status
	BreakerStates() map[string]string
}

// API serves generation and status requests.
type API struct {
	logger    *slog.Logger
	balancer  Balancer
	templates *prompt.Engine
	defaults  adapter.Options
}

func NewAPI(logger *slog.Logger, balancer Balancer, templates *prompt.Engine, defaults adapter.Options) *API {
	if templates == nil {
		templates = prompt.NewEngine()
	}

	return &API{
		logger:    logger,
		balancer:  balancer,
		templates: templates,
		defaults:  defaults,
	}
}

type generateRequest struct {
	Prompt  string          `json:"prompt"`
	Options json.RawMessage `json:"options,omitempty"`
}

func (r generateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Prompt, validation.Required),
	)
}

type batchRequest struct {
	Prompts       []string         `json:"prompts,omitempty"`
	Template      string           `json:"template,omitempty"`
	Inputs        []map[string]any `json:"inputs,omitempty"`
	MaxConcurrent int              `json:"max_concurrent,omitempty"`
	Options       json.RawMessage  `json:"options,omitempty"`
}

func (r batchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Prompts,
			validation.When(r.Template == "", validation.Required),
			validation.When(r.Template != "", validation.Empty.Error("must be empty when a template is given")),
		),
		validation.Field(&r.Inputs,
			validation.When(r.Template != "", validation.Required),
		),
		validation.Field(&r.MaxConcurrent, validation.Min(0)),
	)
}

type batchResponse struct {
	Results   []batch.Result `json:"results"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

type statusResponse struct {
	Workers  []worker.Status   `json:"workers"`
	Breakers map[string]string `json:"circuit_breakers,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// Generate handles POST /v1/generate and returns the backend body as is.
func (a *API) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !a.decode(w, r, &req) {
		return
	}

	opts, err := a.options(req.Options)
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	body, err := a.balancer.ProcessRequest(r.Context(), req.Prompt, opts)
	if err != nil {
		a.logger.Warn("Generation failed",
			slog.String("request_id", RequestID(r.Context())),
			slog.Any("error", err))
		a.writeError(w, r, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// Batch handles POST /v1/batch with either explicit prompts or a template
// rendered once per input.
func (a *API) Batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !a.decode(w, r, &req) {
		return
	}

	opts, err := a.options(req.Options)
	if err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	prompts := req.Prompts
	if req.Template != "" {
		prompts, err = a.templates.RenderAll(req.Template, req.Inputs)
		if err != nil {
			a.writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}

	results, err := a.balancer.ProcessBatch(r.Context(), prompts, req.MaxConcurrent, opts)
	if err != nil {
		a.writeError(w, r, statusFor(err), err)
		return
	}

	resp := batchResponse{Results: results}
	for _, res := range results {
		if res.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Status handles GET /status.
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Workers:  a.balancer.WorkerStatus(),
		Breakers: a.balancer.BreakerStates(),
	})
}

// Health handles GET /health. It reports 503 when no worker is healthy.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	healthy := 0
	for _, s := range a.balancer.WorkerStatus() {
		if s.Healthy {
			healthy++
		}
	}

	status := http.StatusOK
	if healthy == 0 {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]int{"healthy_workers": healthy})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst validation.Validatable) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return false
	}

	if err := dst.Validate(); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return false
	}

	return true
}

// options decodes per-request options over the configured defaults, so
// omitted fields keep their default and explicit zeros are honoured.
func (a *API) options(raw json.RawMessage) (adapter.Options, error) {
	opts := a.defaults
	opts.Stop = slices.Clone(a.defaults.Stop)
	if len(raw) == 0 {
		return opts, nil
	}

	if err := json.Unmarshal(raw, &opts); err != nil {
		return adapter.Options{}, err
	}

	return opts, validation.ValidateStruct(&opts,
		validation.Field(&opts.MaxTokens, validation.Required, validation.Min(1)),
		validation.Field(&opts.Temperature, validation.Min(0.0)),
		validation.Field(&opts.TopP, validation.Min(0.0), validation.Max(1.0)),
	)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		RequestID: RequestID(r.Context()),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, loadbalancer.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, strategy.ErrNoAvailableWorkers):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
