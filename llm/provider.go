// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for LLM providers.
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific error classification

package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// Provider defines the abstract interface for LLM providers.
// Implementations hide provider-specific details while exposing
// a consistent interface for chat completions.
type Provider interface {
	// Name returns the provider tag (for logging and keyword lookup).
	Name() string

	// Model returns the provider-side model identifier.
	Model() string

	// Generate sends a canonical request and returns the canonical response.
	// When req.Tools is non-empty the provider exposes them through native
	// function calling and reports requested calls in Response.ToolCalls.
	// Failures are returned as *ProviderError.
	Generate(ctx context.Context, req Request) (Response, error)
}

// generationParams picks the request's generation parameters, falling back
// to the adapter defaults for unset values.
func generationParams(req Request, maxTokens int, temperature float32) (int, float32) {
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if req.Temperature >= 0 {
		temperature = float32(req.Temperature)
	}
	return maxTokens, temperature
}

// normalizeArguments turns provider-supplied tool arguments into valid JSON.
// Empty arguments become an empty object; non-JSON text is kept as a JSON string.
func normalizeArguments(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}
