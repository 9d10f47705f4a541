// Package adapter builds the native HTTP requests for each supported
// inference backend:
//
//   - ollama:    GET /api/tags, POST /api/generate (prompt + options)
//   - lm_studio: GET /v1/models, POST /v1/completions (OpenAI completion)
//   - exo:       GET /v1/models, POST /v1/chat/completions (OpenAI chat)
//
// A probe or inference call succeeds on HTTP 200. Response bodies are not
// normalised across backends.
package adapter
