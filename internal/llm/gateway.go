package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docqa/internal/config"
)

// RetryPolicy bounds retries of transient failures. Attempt n (from 1) waits
// BaseDelay*2^(n-1), capped at MaxDelay. Timeout applies to each attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Timeout    time.Duration
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	return d
}

type gateway struct {
	providers        map[string]Provider
	defaultProvider  string
	defaultModel     string
	fallbackProvider string
	retry            RetryPolicy
}

func NewGateway(cfg config.LLMConfig) Gateway {
	var providers []Provider
	if cfg.OpenAIKey != "" {
		providers = append(providers, NewOpenAIProvider(cfg.OpenAIKey))
	}
	if cfg.AnthropicKey != "" {
		providers = append(providers, NewAnthropicProvider(cfg.AnthropicKey))
	}
	if cfg.OllamaURL != "" {
		providers = append(providers, NewOllamaProvider(cfg.OllamaURL))
	}

	return newGateway(cfg.DefaultProvider, cfg.DefaultModel, cfg.FallbackProvider, RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
		Timeout:    cfg.RequestTimeout,
	}, providers...)
}

func newGateway(defaultProvider, defaultModel, fallback string, retry RetryPolicy, providers ...Provider) *gateway {
	g := &gateway{
		providers:        make(map[string]Provider, len(providers)),
		defaultProvider:  defaultProvider,
		defaultModel:     defaultModel,
		fallbackProvider: fallback,
		retry:            retry,
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	return g
}

func (g *gateway) DefaultModel() string { return g.defaultModel }

func (g *gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, ErrNotConfigured)
	}
	return p, nil
}

func (g *gateway) resolve(req ChatRequest) (string, ChatRequest) {
	name := req.Provider
	if name == "" {
		name = g.defaultProvider
	}
	if req.Model == "" {
		req.Model = g.defaultModel
	}
	return name, req
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName, req := g.resolve(req)

	resp, err := g.chatWithRetry(ctx, providerName, req)
	if err != nil && g.useFallback(ctx, providerName) {
		slog.Warn("primary provider failed, trying fallback",
			"primary", providerName,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		req.Model = ""
		return g.chatWithRetry(ctx, g.fallbackProvider, req)
	}
	return resp, err
}

func (g *gateway) useFallback(ctx context.Context, primary string) bool {
	return ctx.Err() == nil && g.fallbackProvider != "" && g.fallbackProvider != primary
}

func (g *gateway) chatWithRetry(ctx context.Context, providerName string, req ChatRequest) (*ChatResponse, error) {
	p, err := g.Provider(providerName)
	if err != nil {
		return nil, Classify(err)
	}
	return withRetry(ctx, g.retry, providerName, "chat", func(ctx context.Context) (*ChatResponse, error) {
		return p.ChatCompletion(ctx, req)
	})
}

// ChatStream retries opening the stream; failures after the first chunk are
// reported on the channel and are not retried. The retry Timeout bounds the
// open and each wait for the next chunk.
func (g *gateway) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	providerName, req := g.resolve(req)

	open := func(name string, req ChatRequest) (<-chan StreamChunk, error) {
		p, err := g.Provider(name)
		if err != nil {
			return nil, Classify(err)
		}
		policy := g.retry
		idle := policy.Timeout
		// the attempt context would end the stream as soon as it opens
		policy.Timeout = 0
		return withRetry(ctx, policy, name, "stream", func(ctx context.Context) (<-chan StreamChunk, error) {
			return openBounded(ctx, idle, func(ctx context.Context) (<-chan StreamChunk, error) {
				return p.ChatCompletionStream(ctx, req)
			})
		})
	}

	ch, err := open(providerName, req)
	if err != nil && g.useFallback(ctx, providerName) {
		slog.Warn("primary provider stream failed, trying fallback",
			"primary", providerName,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		req.Model = ""
		return open(g.fallbackProvider, req)
	}
	return ch, err
}

func (g *gateway) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}

	p, err := g.Provider(providerName)
	if err != nil {
		return nil, Classify(err)
	}
	policy := g.retry
	policy.Timeout = 0
	return withRetry(ctx, policy, providerName, "embed", func(ctx context.Context) (*EmbeddingResponse, error) {
		return p.GenerateEmbedding(ctx, req)
	})
}

func withRetry[T any](ctx context.Context, policy RetryPolicy, providerName, op string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := policy.backoff(attempt)
			slog.Debug("retrying LLM call", "provider", providerName, "op", op, "attempt", attempt, "backoff", wait)
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("%s via %s: %w", op, providerName, ctx.Err())
			case <-time.After(wait):
			}
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		}
		resp, err := call(attemptCtx)
		cancel()
		if err == nil {
			return resp, nil
		}

		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s via %s: %w", op, providerName, err)
		}
		lastErr = Classify(err)
		if !errors.Is(lastErr, ErrTransient) {
			return zero, fmt.Errorf("%s via %s: %w", op, providerName, lastErr)
		}
	}
	return zero, fmt.Errorf("%s via %s: all retries exhausted: %w", op, providerName, lastErr)
}
