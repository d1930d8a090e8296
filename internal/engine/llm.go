package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/llm"
	"github.com/sony/gobreaker"
)

// Completer sends one prompt to a language model and returns its text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMCompleter adapts the go-kit OpenAI-compatible client to Completer.
type LLMCompleter struct {
	client      *llm.Client
	temperature float64
	maxTokens   int
}

// NewLLMCompleter builds the chat client from the engine configuration.
func NewLLMCompleter(c Config) *LLMCompleter {
	client := llm.NewClient(c.LLMAPIBase, c.LLMAPIKey, c.LLMModel,
		llm.WithFallbackKeys(c.LLMAPIKeyFallbacks),
		llm.WithMaxTokens(c.LLMMaxTokens),
		llm.WithTemperature(c.LLMTemperature),
		llm.WithHTTPClient(&http.Client{Timeout: c.LLMTimeout + 5*time.Second}),
	)
	return &LLMCompleter{client: client, temperature: c.LLMTemperature, maxTokens: c.LLMMaxTokens}
}

// Complete sends prompt as a single user message.
func (c *LLMCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return c.client.Complete(ctx, "", prompt,
		llm.WithChatTemperature(c.temperature),
		llm.WithChatMaxTokens(c.maxTokens),
	)
}

// BuildPrompt fills the grounding template. contexts are chunk texts in rank
// order; they are joined with a blank line.
func BuildPrompt(contexts []string, question string) string {
	return fmt.Sprintf(videoChatPrompt, strings.Join(contexts, "\n\n"), question)
}

// GeneratorConfig tunes timeouts, retries and the circuit breaker around a Completer.
type GeneratorConfig struct {
	Timeout         time.Duration // per attempt; 0 = no extra deadline
	Retry           RetryConfig
	BreakerFailures uint32        // consecutive failures that open the breaker
	BreakerCooldown time.Duration // how long the breaker stays open
}

// DefaultGeneratorConfig returns settings for a hosted model behind a flaky network.
func DefaultGeneratorConfig(timeout time.Duration) GeneratorConfig {
	return GeneratorConfig{
		Timeout:         timeout,
		Retry:           DefaultRetryConfig,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// Generator produces answers from prompts. Safe for concurrent use.
type Generator struct {
	llm     Completer
	timeout time.Duration
	retry   RetryConfig
	cb      *gobreaker.CircuitBreaker
}

// NewGenerator wraps c with per-attempt timeouts, retries and a circuit breaker.
func NewGenerator(c Completer, gc GeneratorConfig) *Generator {
	failures := gc.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm",
		Timeout: gc.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm: circuit breaker state change",
				slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return &Generator{llm: c, timeout: gc.Timeout, retry: gc.Retry, cb: cb}
}

// Generate returns the model's answer for prompt.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	answer, err := RetryDo(ctx, g.retry, func() (string, error) {
		out, err := g.cb.Execute(func() (any, error) {
			return g.complete(ctx, prompt)
		})
		if err != nil {
			return "", err
		}
		return out.(string), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("llm unavailable: %w", err)
		}
		return "", fmt.Errorf("llm: %w", err)
	}
	return answer, nil
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	metrics.LLMCalls.Add(1)

	attemptCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.llm.Complete(attemptCtx, prompt)
	if err != nil {
		metrics.LLMErrors.Add(1)
		if ctx.Err() == nil && attemptCtx.Err() != nil {
			return "", Retryable(fmt.Errorf("attempt timed out after %s: %w", g.timeout, err))
		}
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		metrics.LLMErrors.Add(1)
		return "", ErrEmptyCompletion
	}
	return out, nil
}
