package adapter

// Options are the backend-neutral generation parameters of one request.
type Options struct {
	Temperature   float64  `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int      `json:"max_tokens" mapstructure:"max_tokens"`
	TopP          float64  `json:"top_p" mapstructure:"top_p"`
	TopK          int      `json:"top_k" mapstructure:"top_k"`
	RepeatPenalty float64  `json:"repeat_penalty" mapstructure:"repeat_penalty"`
	Stop          []string `json:"stop,omitempty" mapstructure:"stop"`
	// SystemPrompt and the explicit penalties are only sent to chat-style
	// backends. Completion backends derive frequency_penalty from
	// RepeatPenalty instead.
	SystemPrompt     string  `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty" mapstructure:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty,omitempty" mapstructure:"presence_penalty"`
}

// DefaultOptions returns the stock generation parameters.
func DefaultOptions() Options {
	return Options{
		Temperature:   0.7,
		MaxTokens:     512,
		TopP:          0.9,
		TopK:          40,
		RepeatPenalty: 1.1,
	}
}
