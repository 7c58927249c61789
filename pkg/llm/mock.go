package llm

import (
	"context"
	"sync"
)

// MockLLMClient is a configurable LLMClient for tests. Responses are served
// in order; once exhausted the last one repeats. GenerateResponseFunc, when
// set, takes precedence.
type MockLLMClient struct {
	GenerateResponseFunc func(ctx context.Context, prompt, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	Responses []string

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	mu          sync.Mutex
	calls       int
	LastPrompt  string
	LastSystem  string
	LastContext context.Context
}

// NewMockLLMClient returns a mock that answers with responses in order.
func NewMockLLMClient(responses ...string) *MockLLMClient {
	return &MockLLMClient{Model: "mock-model", Responses: responses}
}

// GenerateResponse implements LLMClient.
func (m *MockLLMClient) GenerateResponse(ctx context.Context, prompt, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	m.mu.Lock()
	m.calls++
	m.LastPrompt = prompt
	m.LastSystem = systemMessage
	m.LastContext = ctx
	n := m.calls
	m.mu.Unlock()

	if m.GenerateResponseFunc != nil {
		return m.GenerateResponseFunc(ctx, prompt, systemMessage, temperature)
	}
	if len(m.Responses) == 0 {
		return &GenerateResponseResult{}, nil
	}
	i := n - 1
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	return &GenerateResponseResult{Content: m.Responses[i]}, nil
}

// Calls returns how many times GenerateResponse ran.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// GetModel implements LLMClient.
func (m *MockLLMClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// GetEndpoint implements LLMClient.
func (m *MockLLMClient) GetEndpoint() string {
	return "http://mock-endpoint"
}

var _ LLMClient = (*MockLLMClient)(nil)
