package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-grounding/pkg/retry"
)

func fastRetry(n int) *retry.Config {
	return &retry.Config{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestResilientClient_RetriesTransientErrors(t *testing.T) {
	calls := 0
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*GenerateResponseResult, error) {
		calls++
		if calls < 3 {
			return nil, NewError(ErrorTypeRateLimit, "rate limited", true, nil)
		}
		return &GenerateResponseResult{Content: "{}"}, nil
	}

	c := NewResilientClient(mock, fastRetry(3), nil, zap.NewNop())
	res, err := c.GenerateResponse(context.Background(), "q", "s", 0)

	require.NoError(t, err)
	assert.Equal(t, "{}", res.Content)
	assert.Equal(t, 3, calls)
	assert.Equal(t, CircuitClosed, c.Breaker().State())
}

func TestResilientClient_PermanentErrorNotRetried(t *testing.T) {
	authErr := NewError(ErrorTypeAuth, "authentication failed", false, nil)
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*GenerateResponseResult, error) {
		return nil, authErr
	}

	c := NewResilientClient(mock, fastRetry(3), nil, zap.NewNop())
	_, err := c.GenerateResponse(context.Background(), "q", "s", 0)

	assert.Same(t, authErr, err)
	assert.Equal(t, 1, mock.Calls())
	assert.Equal(t, 1, c.Breaker().ConsecutiveFailures())
}

func TestResilientClient_OpenBreakerFailsFast(t *testing.T) {
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*GenerateResponseResult, error) {
		return nil, NewError(ErrorTypeEndpoint, "server error", true, nil)
	}
	breaker := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Hour})
	c := NewResilientClient(mock, fastRetry(0), breaker, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := c.GenerateResponse(context.Background(), "q", "s", 0)
		require.Error(t, err)
	}
	callsBefore := mock.Calls()

	_, err := c.GenerateResponse(context.Background(), "q", "s", 0)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, callsBefore, mock.Calls(), "open breaker must not reach the provider")
}

func TestResilientClient_CanceledContextDoesNotTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (*GenerateResponseResult, error) {
		cancel()
		return nil, ctx.Err()
	}

	c := NewResilientClient(mock, fastRetry(2), nil, zap.NewNop())
	_, err := c.GenerateResponse(ctx, "q", "s", 0)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Breaker().ConsecutiveFailures())
}

func TestResilientClient_DelegatesMetadata(t *testing.T) {
	mock := NewMockLLMClient()
	mock.Model = "claude-sonnet"
	c := NewResilientClient(mock, nil, nil, zap.NewNop())
	assert.Equal(t, "claude-sonnet", c.GetModel())
	assert.Equal(t, "http://mock-endpoint", c.GetEndpoint())
}
