// Package llm talks to chat-completion providers (OpenAI-compatible
// endpoints and Anthropic) on behalf of the LLM query planner.
package llm

import (
	"context"
)

// GenerateResponseResult is a completion plus token usage.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMClient generates chat completions. Use this interface for dependency
// injection so planners can be tested with MockLLMClient.
type LLMClient interface {
	// GenerateResponse sends one system message and one user prompt.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
	_ LLMClient = (*ResilientClient)(nil)
)
