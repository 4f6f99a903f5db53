package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/internal/core"
	"github.com/finsight-ai/finsight/internal/logging"
)

// fakeClient scripts per-call outcomes and records call order.
type fakeClient struct {
	mu      sync.Mutex
	outcome func(call int, model string) (string, error)
	calls   []string
}

func (f *fakeClient) ChatCompletion(_ context.Context, model string, _ []Message) (string, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, model)
	f.mu.Unlock()
	return f.outcome(call, model)
}

func (f *fakeClient) callModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func fastConfig(fallbacks ...string) CallerConfig {
	return CallerConfig{
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
		CallTimeout:    time.Second,
		FallbackModels: fallbacks,
	}
}

func fastLimiter() *RateLimiter {
	return &RateLimiter{interval: time.Microsecond}
}

func TestCallerSuccessFirstAttempt(t *testing.T) {
	client := &fakeClient{outcome: func(int, string) (string, error) {
		return "analysis text", nil
	}}
	caller := NewCaller(client, fastLimiter(), fastConfig("fallback-a"), logging.NewNop())

	result, err := caller.Call(context.Background(), "primary", "sys", "user", nil)
	require.NoError(t, err)
	assert.Equal(t, "analysis text", result.Content)
	assert.Equal(t, "primary", result.Stats.Model)
	assert.Equal(t, []string{"primary"}, client.callModels())
}

func TestCallerRetriesTransientThenSucceeds(t *testing.T) {
	client := &fakeClient{outcome: func(call int, _ string) (string, error) {
		if call < 2 {
			return "", core.ErrProvider("", "upstream 503")
		}
		return "ok", nil
	}}
	caller := NewCaller(client, fastLimiter(), fastConfig(), logging.NewNop())

	var retries []int
	var delays []time.Duration
	obs := &Observer{OnRetry: func(_ string, attempt, _ int, delay time.Duration, _ error) {
		retries = append(retries, attempt)
		delays = append(delays, delay)
	}}

	result, err := caller.Call(context.Background(), "primary", "sys", "user", obs)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Content)
	assert.Equal(t, []string{"primary", "primary", "primary"}, client.callModels())
	assert.Equal(t, []int{1, 2}, retries)

	// Linear backoff: each delay strictly grows.
	require.Len(t, delays, 2)
	assert.Greater(t, delays[1], delays[0])
}

func TestCallerFallsBackAfterRetriesExhausted(t *testing.T) {
	client := &fakeClient{outcome: func(_ int, model string) (string, error) {
		if model == "primary" {
			return "", core.ErrProvider("", "down")
		}
		return "from fallback", nil
	}}
	caller := NewCaller(client, fastLimiter(), fastConfig("fallback-a"), logging.NewNop())

	var fallbacks [][2]string
	obs := &Observer{OnFallback: func(from, to string) {
		fallbacks = append(fallbacks, [2]string{from, to})
	}}

	result, err := caller.Call(context.Background(), "primary", "sys", "user", obs)
	require.NoError(t, err)
	assert.Equal(t, "from fallback", result.Content)
	assert.Equal(t, "fallback-a", result.Stats.Model)

	// Primary exhausted its attempts (1 + MaxRetries) before fallback.
	assert.Equal(t, []string{"primary", "primary", "primary", "fallback-a"}, client.callModels())
	assert.Equal(t, [][2]string{{"primary", "fallback-a"}}, fallbacks)
}

func TestCallerChainExhausted(t *testing.T) {
	client := &fakeClient{outcome: func(int, string) (string, error) {
		return "", core.ErrProvider("", "everything is down")
	}}
	caller := NewCaller(client, fastLimiter(), fastConfig("fallback-a", "fallback-b"), logging.NewNop())

	_, err := caller.Call(context.Background(), "primary", "sys", "user", nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatProvider))
	assert.Contains(t, err.Error(), "all 3 models exhausted")
	// Every model got its full attempt budget.
	assert.Len(t, client.callModels(), 9)
}

func TestCallerAuthErrorIsTerminal(t *testing.T) {
	client := &fakeClient{outcome: func(int, string) (string, error) {
		return "", core.ErrAuth("invalid key")
	}}
	caller := NewCaller(client, fastLimiter(), fastConfig("fallback-a"), logging.NewNop())

	retried := false
	obs := &Observer{
		OnRetry:    func(string, int, int, time.Duration, error) { retried = true },
		OnFallback: func(string, string) { retried = true },
	}

	_, err := caller.Call(context.Background(), "primary", "sys", "user", obs)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatAuth))
	// No retry, no fallback: exactly one provider call.
	assert.Equal(t, []string{"primary"}, client.callModels())
	assert.False(t, retried)
}

func TestCallerContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{outcome: func(int, string) (string, error) {
		cancel()
		return "", core.ErrProvider("", "fail after cancel")
	}}
	caller := NewCaller(client, fastLimiter(), fastConfig("fallback-a"), logging.NewNop())

	_, err := caller.Call(ctx, "primary", "sys", "user", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"primary"}, client.callModels())
}

func TestBuildChainSkipsDuplicates(t *testing.T) {
	caller := NewCaller(nil, fastLimiter(), fastConfig("model-a", "model-a", "model-b", ""), logging.NewNop())

	chain := caller.buildChain("model-a")
	assert.Equal(t, []string{"model-a", "model-b"}, chain)

	chain = caller.buildChain("primary")
	assert.Equal(t, []string{"primary", "model-a", "model-b"}, chain)
}
