// Package llm provides interfaces and implementations for Large Language Model clients.
package llm

import "context"

// GenerateOptions configures the LLM generation request.
type GenerateOptions struct {
	// Model specifies the LLM model to use (e.g., "gpt-4o-mini", "llama3.2").
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness in generation (0.0 = deterministic).
	Temperature float32

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int

	// JSONMode asks the model to emit a single JSON object. Providers that
	// support a native JSON response format use it; others get a prompt-level
	// instruction only.
	JSONMode bool
}

// Usage reports token consumption for a single generation, used for cost
// accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// LLM defines the interface for Large Language Model clients.
type LLM interface {
	// Generate sends a prompt to the LLM and returns the complete response
	// together with token usage. It blocks until the full response is
	// received or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, Usage, error)
}
