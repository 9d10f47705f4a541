package adapter

import (
	"context"
	"net/http"

	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

type ollamaAdapter struct{}

type ollamaOptions struct {
	Temperature   float64  `json:"temperature"`
	NumPredict    int      `json:"num_predict"`
	TopP          float64  `json:"top_p"`
	TopK          int      `json:"top_k"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Stop          []string `json:"stop,omitempty"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

func (ollamaAdapter) Endpoint(w *worker.Worker) string {
	return w.BaseURL() + "/api/generate"
}

func (ollamaAdapter) HealthRequest(ctx context.Context, w *worker.Worker) (*http.Request, error) {
	return getRequest(ctx, w.BaseURL()+"/api/tags")
}

func (a ollamaAdapter) InferenceRequest(ctx context.Context, w *worker.Worker, prompt string, opts Options) (*http.Request, error) {
	return postJSON(ctx, a.Endpoint(w), ollamaRequest{
		Model:  w.Model(),
		Prompt: prompt,
		Options: ollamaOptions{
			Temperature:   opts.Temperature,
			NumPredict:    opts.MaxTokens,
			TopP:          opts.TopP,
			TopK:          opts.TopK,
			RepeatPenalty: opts.RepeatPenalty,
			Stop:          opts.Stop,
		},
	})
}

type lmStudioAdapter struct{}

type completionRequest struct {
	Model            string   `json:"model"`
	Prompt           string   `json:"prompt"`
	MaxTokens        int      `json:"max_tokens"`
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	Stop             []string `json:"stop"`
	Stream           bool     `json:"stream"`
}

func (lmStudioAdapter) Endpoint(w *worker.Worker) string {
	return w.BaseURL() + "/v1/completions"
}

func (lmStudioAdapter) HealthRequest(ctx context.Context, w *worker.Worker) (*http.Request, error) {
	return getRequest(ctx, w.BaseURL()+"/v1/models")
}

func (a lmStudioAdapter) InferenceRequest(ctx context.Context, w *worker.Worker, prompt string, opts Options) (*http.Request, error) {
	return postJSON(ctx, a.Endpoint(w), completionRequest{
		Model:            w.Model(),
		Prompt:           prompt,
		MaxTokens:        opts.MaxTokens,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		FrequencyPenalty: FrequencyPenalty(opts.RepeatPenalty),
		Stop:             opts.Stop,
	})
}

type exoAdapter struct{}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	PresencePenalty  float64       `json:"presence_penalty"`
	Stop             []string      `json:"stop"`
	Stream           bool          `json:"stream"`
}

func (exoAdapter) Endpoint(w *worker.Worker) string {
	return w.BaseURL() + "/v1/chat/completions"
}

func (exoAdapter) HealthRequest(ctx context.Context, w *worker.Worker) (*http.Request, error) {
	return getRequest(ctx, w.BaseURL()+"/v1/models")
}

func (a exoAdapter) InferenceRequest(ctx context.Context, w *worker.Worker, prompt string, opts Options) (*http.Request, error) {
	messages := make([]chatMessage, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	return postJSON(ctx, a.Endpoint(w), chatRequest{
		Model:            w.Model(),
		Messages:         messages,
		MaxTokens:        opts.MaxTokens,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		FrequencyPenalty: opts.FrequencyPenalty,
		PresencePenalty:  opts.PresencePenalty,
		Stop:             opts.Stop,
	})
}
