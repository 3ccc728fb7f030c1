package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docqa/internal/embedding"
	"github.com/nikhilbhutani/docqa/internal/llm"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/vectorstore"
	"github.com/nikhilbhutani/docqa/pkg/chunker"
)

// pageText repeats the words of seed until the text is exactly n runes long.
func pageText(seed string, n int) string {
	var sb strings.Builder
	for sb.Len() < n {
		sb.WriteString(seed)
		sb.WriteString(" ")
	}
	return sb.String()[:n]
}

func span(doc uuid.UUID, page, start int, text string, score float64) Span {
	return Span{
		Chunk: models.Chunk{
			ID:         uuid.New(),
			DocumentID: doc,
			PageNumber: page,
			CharStart:  start,
			CharEnd:    start + len([]rune(text)),
			Text:       text,
		},
		Score: score,
	}
}

type fakeGateway struct {
	mu       sync.Mutex
	reply    string
	chatErr  error
	openErr  error
	chunks   []llm.StreamChunk
	endless  bool
	stall    bool // hold the stream open after chunks until cancelled
	stopped  atomic.Bool
	requests []llm.ChatRequest
}

func (g *fakeGateway) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.chatErr != nil {
		return nil, g.chatErr
	}
	return &llm.ChatResponse{Provider: "openai", Model: "gpt-4o-mini", Content: g.reply}, nil
}

func (g *fakeGateway) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.openErr != nil {
		return nil, g.openErr
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		send := func(c llm.StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, c := range g.chunks {
			if !send(c) {
				return
			}
		}
		for g.endless {
			if !send(llm.StreamChunk{Content: "more "}) {
				return
			}
		}
		if g.stall {
			<-ctx.Done()
			g.stopped.Store(true)
		}
	}()
	return ch, nil
}

func (g *fakeGateway) Embed(context.Context, llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	return nil, llm.ErrNotConfigured
}

func (g *fakeGateway) Provider(name string) (llm.Provider, error) {
	return nil, errors.New("not used")
}

func (g *fakeGateway) DefaultModel() string { return "gpt-4o-mini" }

func testOptions() Options {
	return Options{
		Chunk:           chunker.DefaultOptions(),
		DefaultTopK:     3,
		MaxTopK:         10,
		ContextChars:    6000,
		ExtractiveChars: 2000,
	}
}

func newTestPipeline(t *testing.T, gw llm.Gateway, opts Options) *Pipeline {
	t.Helper()
	embedder := embedding.NewService(embedding.NewHashBackend(256), embedding.Options{})
	keywords, err := vectorstore.NewKeywordIndex()
	require.NoError(t, err)
	t.Cleanup(func() { keywords.Close() })

	p, err := NewPipeline(vectorstore.NewIndex(256), keywords, embedder, gw, opts)
	require.NoError(t, err)
	return p
}
