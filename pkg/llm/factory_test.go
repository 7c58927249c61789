package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/config"
)

func TestNewClientFromConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantErr string
	}{
		{
			name: "openai",
			cfg:  config.LLMConfig{Provider: "openai", Endpoint: "http://localhost:8080/v1", Model: "gpt-4o", MaxRetries: 2},
		},
		{
			name: "anthropic",
			cfg:  config.LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4-5", APIKey: "test-key"},
		},
		{
			name:    "anthropic without key",
			cfg:     config.LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"},
			wantErr: "api key is required",
		},
		{
			name:    "openai without model",
			cfg:     config.LLMConfig{Provider: "openai", Endpoint: "http://localhost:8080/v1"},
			wantErr: "model is required",
		},
		{
			name:    "unknown provider",
			cfg:     config.LLMConfig{Provider: "cohere", Model: "command"},
			wantErr: "unsupported llm provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClientFromConfig(&tt.cfg, zap.NewNop())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Model, client.GetModel())
			assert.Equal(t, CircuitClosed, client.Breaker().State())
		})
	}
}
