// Mockworker is a fake inference backend for exercising the load balancer
// without real models. It speaks the Ollama, LM Studio or Exo protocol and
// can be made slow or flaky.
//
// Usage:
//
//	go run ./scripts/mockworker -port 11434 -type ollama
//	go run ./scripts/mockworker -port 1234 -type lm_studio -latency 200ms -fail-rate 0.2
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/llm-balancer/internal/worker"
	"github.com/angeloszaimis/llm-balancer/pkg/logger"
)

type mockWorker struct {
	kind     worker.Kind
	model    string
	latency  time.Duration
	jitter   time.Duration
	failRate float64
	down     atomic.Bool
	log      *slog.Logger
}

func main() {
	port := flag.Int("port", 11434, "port to listen on")
	kind := flag.String("type", "ollama", "protocol to speak: ollama, lm_studio or exo")
	model := flag.String("model", "mock-model", "model name to report")
	latency := flag.Duration("latency", 50*time.Millisecond, "base generation latency")
	jitter := flag.Duration("jitter", 0, "random extra latency up to this value")
	failRate := flag.Float64("fail-rate", 0, "fraction of generations answered with HTTP 500")
	flag.Parse()

	k, err := worker.ParseKind(*kind)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	m := &mockWorker{
		kind:     k,
		model:    *model,
		latency:  *latency,
		jitter:   *jitter,
		failRate: *failRate,
		log:      logger.New("info", false, "dev"),
	}

	addr := fmt.Sprintf(":%d", *port)
	m.log.Info("starting mock worker", slog.String("addr", addr), slog.String("type", string(k)))
	if err := http.ListenAndServe(addr, m.routes()); err != nil {
		m.log.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func (m *mockWorker) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// POST /admin/down and /admin/up toggle the health probe so failover
	// can be observed by hand.
	mux.HandleFunc("POST /admin/down", func(w http.ResponseWriter, r *http.Request) { m.down.Store(true) })
	mux.HandleFunc("POST /admin/up", func(w http.ResponseWriter, r *http.Request) { m.down.Store(false) })

	switch m.kind {
	case worker.KindOllama:
		mux.HandleFunc("GET /api/tags", m.probe(map[string]any{"models": []map[string]string{{"name": m.model}}}))
		mux.HandleFunc("POST /api/generate", m.generate(func(id, prompt string) any {
			return map[string]any{"model": m.model, "response": reply(prompt), "done": true}
		}))
	case worker.KindLMStudio:
		mux.HandleFunc("GET /v1/models", m.probe(modelList(m.model)))
		mux.HandleFunc("POST /v1/completions", m.generate(func(id, prompt string) any {
			return map[string]any{
				"id":      id,
				"object":  "text_completion",
				"model":   m.model,
				"choices": []map[string]any{{"index": 0, "text": reply(prompt), "finish_reason": "stop"}},
			}
		}))
	case worker.KindExo:
		mux.HandleFunc("GET /v1/models", m.probe(modelList(m.model)))
		mux.HandleFunc("POST /v1/chat/completions", m.generate(func(id, prompt string) any {
			return map[string]any{
				"id":     id,
				"object": "chat.completion",
				"model":  m.model,
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": reply(prompt)},
					"finish_reason": "stop",
				}},
			}
		}))
	}

	return mux
}

func (m *mockWorker) probe(body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.down.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, body)
	}
}

func (m *mockWorker) generate(build func(id, prompt string) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt   string `json:"prompt"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		prompt := req.Prompt
		if n := len(req.Messages); n > 0 {
			prompt = req.Messages[n-1].Content
		}

		id := uuid.NewString()
		delay := m.latency
		if m.jitter > 0 {
			delay += rand.N(m.jitter)
		}

		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}

		if m.down.Load() || rand.Float64() < m.failRate {
			m.log.Warn("failing generation", slog.String("id", id))
			http.Error(w, "simulated failure", http.StatusInternalServerError)
			return
		}

		m.log.Info("generated", slog.String("id", id), slog.Duration("latency", delay), slog.Int("prompt_len", len(prompt)))
		writeJSON(w, build(id, prompt))
	}
}

func modelList(model string) map[string]any {
	return map[string]any{"object": "list", "data": []map[string]string{{"id": model, "object": "model"}}}
}

func reply(prompt string) string {
	return fmt.Sprintf("mock reply to %d characters", len([]rune(prompt)))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
