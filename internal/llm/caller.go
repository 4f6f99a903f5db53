package llm

import (
	"context"
	"time"

	"github.com/finsight-ai/finsight/internal/core"
	"github.com/finsight-ai/finsight/internal/logging"
)

// ChatClient issues a single chat-completion request.
type ChatClient interface {
	ChatCompletion(ctx context.Context, model string, messages []Message) (string, error)
}

// CallerConfig configures the retry/fallback behavior of a Caller.
type CallerConfig struct {
	MaxRetries     int           // retries per model after the first attempt
	RetryDelay     time.Duration // linear backoff base: delay * attempt
	CallTimeout    time.Duration // deadline for one provider request
	FallbackModels []string      // ordered alternates after retries exhaust
}

// DefaultCallerConfig returns the default caller configuration.
func DefaultCallerConfig() CallerConfig {
	return CallerConfig{
		MaxRetries:  3,
		RetryDelay:  2 * time.Second,
		CallTimeout: 3 * time.Minute,
		FallbackModels: []string{
			"deepseek/deepseek-chat:free",
			"qwen/qwen-2.5-72b-instruct:free",
			"meta-llama/llama-3.3-70b-instruct:free",
		},
	}
}

// Observer receives notifications at retry and fallback transitions so
// the session can surface them as progress events. Fields may be nil.
type Observer struct {
	OnRetry    func(model string, attempt, maxAttempts int, delay time.Duration, err error)
	OnFallback func(fromModel, toModel string)
}

// CallResult is the outcome of a successful logical call.
type CallResult struct {
	Content string
	Stats   core.CallStats
}

// Caller drives one logical chat completion through the resilience
// state machine: rate-limit, attempt, linear-backoff retries, then the
// fallback chain. Auth failures are terminal with no retry and no
// fallback.
type Caller struct {
	client  ChatClient
	limiter *RateLimiter
	cfg     CallerConfig
	logger  *logging.Logger
}

// NewCaller creates a Caller sharing the given process-wide limiter.
func NewCaller(client ChatClient, limiter *RateLimiter, cfg CallerConfig, logger *logging.Logger) *Caller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Caller{client: client, limiter: limiter, cfg: cfg, logger: logger}
}

// FallbackModels returns a copy of the configured fallback chain.
func (c *Caller) FallbackModels() []string {
	out := make([]string, len(c.cfg.FallbackModels))
	copy(out, c.cfg.FallbackModels)
	return out
}

// Call runs the retry/fallback loop for one logical completion.
// The loop is an explicit iteration over (model, attempt) rather than
// recursion so the machine stays bounded and testable.
func (c *Caller) Call(ctx context.Context, model, systemPrompt, userPrompt string, obs *Observer) (*CallResult, error) {
	if obs == nil {
		obs = &Observer{}
	}
	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	chain := c.buildChain(model)
	var lastErr error

	for idx, m := range chain {
		if idx > 0 {
			c.logger.Warn("falling back to alternate model",
				"from", chain[idx-1], "to", m, "error", lastErr)
			if obs.OnFallback != nil {
				obs.OnFallback(chain[idx-1], m)
			}
		}

		// Retry counter resets for every model in the chain.
		for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
			if err := c.limiter.Acquire(ctx); err != nil {
				return nil, err
			}

			callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
			start := time.Now()
			content, err := c.client.ChatCompletion(callCtx, m, messages)
			cancel()

			if err == nil {
				return &CallResult{
					Content: content,
					Stats:   core.NewCallStats(content, m, elapsedSeconds(start)),
				}, nil
			}
			lastErr = err

			if core.IsCategory(err, core.ErrCatAuth) {
				c.logger.Error("provider authentication failed", "model", m, "error", err)
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			if attempt == c.cfg.MaxRetries {
				break
			}

			delay := c.cfg.RetryDelay * time.Duration(attempt+1)
			c.logger.Warn("provider call failed, retrying",
				"model", m, "attempt", attempt+1, "max_attempts", c.cfg.MaxRetries,
				"delay", delay, "error", err)
			if obs.OnRetry != nil {
				obs.OnRetry(m, attempt+1, c.cfg.MaxRetries, delay, err)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return nil, core.ErrProviderExhausted(len(chain), lastErr)
}

// buildChain prepends the requested model to the fallback list,
// dropping entries that would repeat the model just tried.
func (c *Caller) buildChain(model string) []string {
	chain := []string{model}
	for _, fb := range c.cfg.FallbackModels {
		if fb == "" || fb == chain[len(chain)-1] {
			continue
		}
		chain = append(chain, fb)
	}
	return chain
}
