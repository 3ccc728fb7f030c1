package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	name   string
	errs   []error
	calls  atomic.Int32
	reply  string
	stream []string
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) next() error {
	n := int(p.calls.Add(1)) - 1
	if n < len(p.errs) {
		return p.errs[n]
	}
	return nil
}

func (p *scriptedProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	return &ChatResponse{Provider: p.name, Model: req.Model, Content: p.reply}, nil
}

func (p *scriptedProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for _, tok := range p.stream {
			if !sendChunk(ctx, ch, StreamChunk{Content: tok}) {
				return
			}
		}
		sendChunk(ctx, ch, StreamChunk{Done: true})
	}()
	return ch, nil
}

func (p *scriptedProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(req.Input))
	for i := range out {
		out[i] = []float32{float32(i)}
	}
	return &EmbeddingResponse{Provider: p.name, Embeddings: out}, nil
}

func anthropicError(code int) error {
	return &anthropic.Error{
		StatusCode: code,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: code},
	}
}

var fastRetry = RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Timeout: time.Second}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "openai rate limit", err: &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}, want: ErrTransient},
		{name: "openai unauthorized", err: &openai.APIError{HTTPStatusCode: http.StatusUnauthorized}, want: ErrFatal},
		{name: "openai request 503", err: &openai.RequestError{HTTPStatusCode: http.StatusServiceUnavailable}, want: ErrTransient},
		{name: "anthropic overloaded", err: anthropicError(529), want: ErrTransient},
		{name: "anthropic bad request", err: anthropicError(http.StatusBadRequest), want: ErrFatal},
		{name: "ollama not found", err: &StatusError{Provider: "ollama", StatusCode: http.StatusNotFound}, want: ErrFatal},
		{name: "ollama 500", err: &StatusError{Provider: "ollama", StatusCode: 500}, want: ErrTransient},
		{name: "timeout", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: ErrTransient},
		{name: "not configured", err: ErrNotConfigured, want: ErrFatal},
		{name: "unknown", err: errors.New("boom"), want: ErrFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.True(t, errors.Is(got, tt.want), "got %v", got)
			assert.True(t, errors.Is(got, tt.err) || errors.Is(got, ErrNotConfigured))
		})
	}

	assert.Nil(t, Classify(nil))
	assert.Equal(t, context.Canceled, Classify(context.Canceled))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
	assert.Equal(t, 2*time.Second, p.backoff(1))
	assert.Equal(t, 4*time.Second, p.backoff(2))
	assert.Equal(t, 8*time.Second, p.backoff(3))
	assert.Equal(t, 10*time.Second, p.backoff(4))
	assert.Equal(t, time.Duration(0), RetryPolicy{}.backoff(1))
}

func TestGateway_RetriesTransientFailures(t *testing.T) {
	p := &scriptedProvider{
		name:  "openai",
		reply: "ok",
		errs: []error{
			&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests},
			&openai.APIError{HTTPStatusCode: http.StatusBadGateway},
		},
	}
	g := newGateway("openai", "gpt-4o-mini", "", fastRetry, p)

	resp, err := g.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestGateway_DoesNotRetryFatal(t *testing.T) {
	p := &scriptedProvider{
		name: "openai",
		errs: []error{&openai.APIError{HTTPStatusCode: http.StatusUnauthorized}},
	}
	g := newGateway("openai", "", "", fastRetry, p)

	_, err := g.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFatal))
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestGateway_ExhaustsRetries(t *testing.T) {
	transient := &openai.APIError{HTTPStatusCode: http.StatusInternalServerError}
	p := &scriptedProvider{name: "openai", errs: []error{transient, transient, transient, transient, transient}}
	g := newGateway("openai", "", "", fastRetry, p)

	_, err := g.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
	assert.Contains(t, err.Error(), "all retries exhausted")
	assert.Equal(t, int32(fastRetry.MaxRetries+1), p.calls.Load())
}

func TestGateway_UnconfiguredProvider(t *testing.T) {
	g := newGateway("openai", "", "", fastRetry)

	_, err := g.Chat(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.True(t, errors.Is(err, ErrFatal))

	_, err = g.ChatStream(context.Background(), ChatRequest{})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestGateway_FallbackProvider(t *testing.T) {
	primary := &scriptedProvider{name: "openai", errs: []error{&openai.APIError{HTTPStatusCode: http.StatusForbidden}}}
	backup := &scriptedProvider{name: "ollama", reply: "from backup"}
	g := newGateway("openai", "gpt-4o-mini", "ollama", fastRetry, primary, backup)

	resp, err := g.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from backup", resp.Content)
	assert.Equal(t, "ollama", resp.Provider)
	assert.Empty(t, resp.Model, "fallback uses its own default model")
}

func TestGateway_StopsOnCallerCancel(t *testing.T) {
	transient := &openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable}
	p := &scriptedProvider{name: "openai", errs: []error{transient, transient, transient}}
	g := newGateway("openai", "", "", RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}, p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Chat(ctx, ChatRequest{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestGateway_ChatStreamRetriesOpen(t *testing.T) {
	p := &scriptedProvider{
		name:   "openai",
		errs:   []error{&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}},
		stream: []string{"Hel", "lo"},
	}
	g := newGateway("openai", "", "", fastRetry, p)

	ch, err := g.ChatStream(context.Background(), ChatRequest{})
	require.NoError(t, err)

	var text string
	var done bool
	for c := range ch {
		text += c.Content
		done = done || c.Done
	}
	assert.Equal(t, "Hello", text)
	assert.True(t, done)
	assert.Equal(t, int32(2), p.calls.Load())
}

// stallingProvider opens streams that never produce a chunk. With
// blockOpen set, opening itself waits for cancellation.
type stallingProvider struct {
	scriptedProvider
	blockOpen bool
}

func (p *stallingProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	p.calls.Add(1)
	if p.blockOpen {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		<-ctx.Done()
	}()
	return ch, nil
}

func TestGateway_ChatStreamStallEndsWithTransientError(t *testing.T) {
	p := &stallingProvider{scriptedProvider: scriptedProvider{name: "openai"}}
	g := newGateway("openai", "", "", RetryPolicy{Timeout: 50 * time.Millisecond}, p)

	ch, err := g.ChatStream(context.Background(), ChatRequest{})
	require.NoError(t, err)

	var chunks []StreamChunk
	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case c, ok := <-ch:
			if !ok {
				open = false
				break
			}
			chunks = append(chunks, c)
		case <-deadline:
			t.Fatal("stream still open after the backend timeout")
		}
	}

	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Done)
	assert.True(t, errors.Is(chunks[0].Error, ErrTransient), "got %v", chunks[0].Error)
}

func TestGateway_ChatStreamStalledOpenIsRetried(t *testing.T) {
	p := &stallingProvider{scriptedProvider: scriptedProvider{name: "openai"}, blockOpen: true}
	g := newGateway("openai", "", "", RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, Timeout: 30 * time.Millisecond}, p)

	start := time.Now()
	_, err := g.ChatStream(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient), "got %v", err)
	assert.Equal(t, int32(2), p.calls.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGateway_ChatStreamSlowReaderIsNotAStall(t *testing.T) {
	p := &scriptedProvider{name: "openai", stream: []string{"a", "b", "c"}}
	g := newGateway("openai", "", "", RetryPolicy{Timeout: 20 * time.Millisecond}, p)

	ch, err := g.ChatStream(context.Background(), ChatRequest{})
	require.NoError(t, err)

	var text string
	for c := range ch {
		require.NoError(t, c.Error)
		text += c.Content
		time.Sleep(50 * time.Millisecond)
	}
	assert.Equal(t, "abc", text)
}

func TestDrain_DiscardsPendingChunks(t *testing.T) {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Content: "left over"}
	Drain(ch)

	assert.Eventually(t, func() bool { return len(ch) == 0 }, time.Second, time.Millisecond)
}

func TestGateway_Embed(t *testing.T) {
	p := &scriptedProvider{name: "ollama", errs: []error{&StatusError{Provider: "ollama", StatusCode: 503}}}
	g := newGateway("ollama", "", "", fastRetry, p)

	resp, err := g.Embed(context.Background(), EmbeddingRequest{Input: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Len(t, resp.Embeddings, 2)
}

func TestSendChunk_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan StreamChunk)
	assert.False(t, sendChunk(ctx, ch, StreamChunk{Content: "x"}))
}

func TestCalculateCost(t *testing.T) {
	assert.InDelta(t, 0.00015+0.0006, CalculateCost("gpt-4o-mini", 1000, 1000), 1e-12)
	assert.Equal(t, 0.0, CalculateCost("llama3", 1000, 1000))
}
