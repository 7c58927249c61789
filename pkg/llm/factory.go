package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/config"
	"github.com/ekaya-inc/ekaya-grounding/pkg/retry"
)

// NewClientFromConfig builds the configured provider client wrapped with
// retries and a circuit breaker.
func NewClientFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (*ResilientClient, error) {
	clientCfg := &Config{
		Endpoint:  cfg.Endpoint,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
	}

	var inner LLMClient
	switch cfg.Provider {
	case "openai":
		clientCfg.JSONMode = true
		c, err := NewClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		inner = c
	case "anthropic":
		c, err := NewAnthropicClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		inner = c
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}

	logger.Info("LLM client configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("max_retries", cfg.MaxRetries))

	return NewResilientClient(inner, retry.WithMaxRetries(cfg.MaxRetries), nil, logger), nil
}
