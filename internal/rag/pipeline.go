package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docqa/internal/llm"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/vectorstore"
	"github.com/nikhilbhutani/docqa/pkg/chunker"
)

// Embedder converts chunk texts and questions into vectors.
// embedding.Service satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// Mirror keeps a durable copy of indexed chunks and vectors.
// vectorstore.PgMirror satisfies it.
type Mirror interface {
	Upsert(ctx context.Context, recs []vectorstore.Record, vecs [][]float32) error
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error
}

type Options struct {
	Chunk           chunker.ChunkOptions
	DefaultTopK     int
	MaxTopK         int
	ContextChars    int
	ExtractiveChars int
	Hybrid          bool
	StreamPace      time.Duration
	StreamIdle      time.Duration // see SynthesizerOptions.StreamIdle
	ManifestPath    string // empty disables persistence
	MaxTokens       int
	Temperature     float64
	Screen          Screener
}

type AskRequest struct {
	Question    string
	DocumentIDs []uuid.UUID
	TopK        int
}

type Stats struct {
	Index        vectorstore.Stats `json:"index"`
	KeywordDocs  uint64            `json:"keyword_entries"`
	Embedding    string            `json:"embedding_backend"`
	Hybrid       bool              `json:"hybrid"`
	ManifestPath string            `json:"manifest_path,omitempty"`
}

// Pipeline ingests documents into the shared index and answers questions
// over it. It is safe for concurrent use.
type Pipeline struct {
	// mu orders vector index mutations with their keyword index updates so a
	// reload cannot interleave with an insert or removal.
	mu sync.Mutex

	index     *vectorstore.Index
	keywords  *vectorstore.KeywordIndex
	embedder  Embedder
	mirror    Mirror
	retriever *Retriever
	synth     *Synthesizer
	opts      Options
}

// NewPipeline wires the pipeline. keywords and gw may be nil.
func NewPipeline(index *vectorstore.Index, keywords *vectorstore.KeywordIndex, embedder Embedder, gw llm.Gateway, opts Options) (*Pipeline, error) {
	if err := opts.Chunk.Validate(); err != nil {
		return nil, err
	}
	if embedder.Dimension() != index.Dimension() {
		return nil, fmt.Errorf("embedding backend %s: %w: backend %d, index %d",
			embedder.Name(), vectorstore.ErrDimensionMismatch, embedder.Dimension(), index.Dimension())
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 3
	}
	if opts.MaxTopK < opts.DefaultTopK {
		opts.MaxTopK = max(opts.DefaultTopK, 10)
	}

	p := &Pipeline{
		index:     index,
		keywords:  keywords,
		embedder:  embedder,
		retriever: NewRetriever(index, keywords, opts.Hybrid),
		synth: NewSynthesizer(gw, SynthesizerOptions{
			ExtractiveChars: opts.ExtractiveChars,
			MaxTokens:       opts.MaxTokens,
			Temperature:     opts.Temperature,
			Screen:          opts.Screen,
		}),
		opts: opts,
	}

	if keywords != nil {
		if err := keywords.Rebuild(index.Records()); err != nil {
			return nil, fmt.Errorf("build keyword index: %w", err)
		}
	}
	return p, nil
}

// WithMirror mirrors every indexed chunk to m.
func (p *Pipeline) WithMirror(m Mirror) *Pipeline {
	p.mirror = m
	return p
}

func (p *Pipeline) Index() *vectorstore.Index { return p.index }

// IndexDocument chunks, embeds and inserts a document's pages, then persists
// the manifest. Blank pages contribute no chunks. It returns the number of
// chunks indexed.
func (p *Pipeline) IndexDocument(ctx context.Context, documentID uuid.UUID, pages []models.Page) (int, error) {
	chunks, err := ChunkPages(documentID, pages, p.opts.Chunk)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	recs := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		recs[i] = vectorstore.RecordFromChunk(c)
	}

	start := time.Now()
	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	if p.mirror != nil {
		if err := p.mirror.Upsert(ctx, recs, vecs); err != nil {
			return 0, fmt.Errorf("mirror chunks: %w", err)
		}
	}

	if err := p.insert(documentID, recs, vecs); err != nil {
		if p.mirror != nil {
			if derr := p.mirror.DeleteDocument(context.WithoutCancel(ctx), documentID); derr != nil {
				slog.Error("failed to roll back mirrored chunks", "document_id", documentID, "error", derr)
			}
		}
		return 0, err
	}

	slog.Debug("document indexed",
		"document_id", documentID,
		"chunks", len(chunks),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if err := p.Persist(ctx); err != nil {
		return len(chunks), err
	}
	return len(chunks), nil
}

// RemoveDocument drops a document's entries from every index and persists
// the manifest. It returns the number of chunks removed.
func (p *Pipeline) RemoveDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	removed := p.remove(documentID)

	if p.mirror != nil {
		if err := p.mirror.DeleteDocument(ctx, documentID); err != nil {
			return removed, err
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, p.Persist(ctx)
}

func (p *Pipeline) insert(documentID uuid.UUID, recs []vectorstore.Record, vecs [][]float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.index.InsertBatch(recs, vecs); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	if p.keywords != nil {
		if err := p.keywords.Add(recs); err != nil {
			slog.Warn("keyword indexing failed", "document_id", documentID, "error", err)
		}
	}
	return nil
}

func (p *Pipeline) remove(documentID uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := p.index.ChunkIDs(documentID)
	removed := p.index.Remove(documentID)
	if p.keywords != nil && len(ids) > 0 {
		if err := p.keywords.Delete(ids); err != nil {
			slog.Warn("keyword removal failed", "document_id", documentID, "error", err)
		}
	}
	return removed
}

// Persist writes the manifest atomically. It is a no-op without a manifest
// path. The write is not cancellable: the in-memory index already holds the
// changes it records.
func (p *Pipeline) Persist(_ context.Context) error {
	if p.opts.ManifestPath == "" {
		return nil
	}
	if err := p.index.SaveFile(p.opts.ManifestPath); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

// Reload replaces the index contents with the manifest on disk.
func (p *Pipeline) Reload(_ context.Context) error {
	if p.opts.ManifestPath == "" {
		return errors.New("reload index: no manifest path configured")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.index.LoadFile(p.opts.ManifestPath); err != nil {
		return fmt.Errorf("reload index: %w", err)
	}
	if p.keywords != nil {
		if err := p.keywords.Rebuild(p.index.Records()); err != nil {
			return fmt.Errorf("rebuild keyword index: %w", err)
		}
	}
	slog.Info("index reloaded", "path", p.opts.ManifestPath, "entries", p.index.Stats().Entries)
	return nil
}

func (p *Pipeline) Stats() Stats {
	s := Stats{
		Index:        p.index.Stats(),
		Embedding:    p.embedder.Name(),
		Hybrid:       p.opts.Hybrid,
		ManifestPath: p.opts.ManifestPath,
	}
	if p.keywords != nil {
		s.KeywordDocs, _ = p.keywords.Count()
	}
	return s
}

// Normalize trims the question and applies the top-k default and ceiling.
func (p *Pipeline) Normalize(req AskRequest) AskRequest {
	req.Question = strings.TrimSpace(req.Question)
	if req.TopK <= 0 {
		req.TopK = p.opts.DefaultTopK
	}
	req.TopK = min(req.TopK, p.opts.MaxTopK)
	return req
}

// Retrieve embeds the question and assembles its context window. When the
// question cannot be embedded, keyword retrieval is used if available.
func (p *Pipeline) Retrieve(ctx context.Context, req AskRequest) (ContextWindow, error) {
	req = p.Normalize(req)

	vec, err := p.embedder.EmbedQuery(ctx, req.Question)
	if err != nil {
		if ctx.Err() != nil {
			return ContextWindow{}, ctx.Err()
		}
		slog.Warn("question embedding failed, degrading retrieval", "error", err)
		vec = nil
	}

	return p.retriever.Retrieve(ctx, req.Question, vec, RetrieveOptions{
		TopK:        req.TopK,
		DocumentIDs: req.DocumentIDs,
		MaxChars:    p.opts.ContextChars,
	})
}

func (p *Pipeline) Ask(ctx context.Context, req AskRequest) (*models.Answer, error) {
	start := time.Now()
	req = p.Normalize(req)

	window, err := p.Retrieve(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	answer := p.synth.Answer(ctx, req.Question, window)
	slog.Info("question answered",
		"spans", len(window.Spans),
		"context_chars", window.Chars(),
		"model_used", answer.ModelUsed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return answer, nil
}

// AskStream retrieves synchronously, so retrieval errors are returned before
// any event is produced, then streams the answer.
func (p *Pipeline) AskStream(ctx context.Context, req AskRequest) (*Stream, error) {
	req = p.Normalize(req)

	window, err := p.Retrieve(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	return p.synth.Stream(ctx, req.Question, window, p.opts.StreamPace), nil
}
