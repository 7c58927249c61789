package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/retry"
)

// ResilientClient retries transient provider errors and trips a circuit
// breaker when the provider keeps failing.
type ResilientClient struct {
	inner   LLMClient
	retry   *retry.Config
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewResilientClient wraps inner. A nil retry config uses retry defaults.
func NewResilientClient(inner LLMClient, retryCfg *retry.Config, breaker *CircuitBreaker, logger *zap.Logger) *ResilientClient {
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}
	return &ResilientClient{
		inner:   inner,
		retry:   retryCfg,
		breaker: breaker,
		logger:  logger.Named("llm"),
	}
}

// GenerateResponse implements LLMClient. Only errors that exhaust retries
// count against the breaker; permanent errors such as bad credentials
// count too, since every later call would fail the same way.
func (r *ResilientClient) GenerateResponse(ctx context.Context, prompt, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	if err := r.breaker.Allow(); err != nil {
		r.logger.Warn("LLM call rejected", zap.Error(err))
		return nil, err
	}

	var result *GenerateResponseResult
	err := retry.DoIfRetryable(ctx, r.retry, func() error {
		var err error
		result, err = r.inner.GenerateResponse(ctx, prompt, systemMessage, temperature)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			r.breaker.RecordFailure()
		}
		return nil, err
	}

	r.breaker.RecordSuccess()
	return result, nil
}

// GetModel returns the wrapped client's model.
func (r *ResilientClient) GetModel() string {
	return r.inner.GetModel()
}

// GetEndpoint returns the wrapped client's endpoint.
func (r *ResilientClient) GetEndpoint() string {
	return r.inner.GetEndpoint()
}

// Breaker exposes the breaker for health reporting.
func (r *ResilientClient) Breaker() *CircuitBreaker {
	return r.breaker
}
