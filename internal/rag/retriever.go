package rag

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/vectorstore"
)

const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

// Span is a retrieved chunk with its relevance score.
type Span struct {
	Chunk models.Chunk
	Score float64
}

// ContextWindow is the ordered set of spans handed to answer synthesis.
type ContextWindow struct {
	Spans []Span
}

func (w ContextWindow) Empty() bool { return len(w.Spans) == 0 }

// Chars is the total length of the span texts in runes.
func (w ContextWindow) Chars() int {
	n := 0
	for _, s := range w.Spans {
		n += utf8.RuneCountInString(s.Chunk.Text)
	}
	return n
}

type RetrieveOptions struct {
	TopK        int
	DocumentIDs []uuid.UUID
	MaxChars    int // 0 means unbounded
}

// Retriever runs the vector probe and, when enabled, a keyword probe over
// the same chunks, then assembles a bounded context window.
type Retriever struct {
	index    *vectorstore.Index
	keywords *vectorstore.KeywordIndex
	hybrid   bool
}

func NewRetriever(index *vectorstore.Index, keywords *vectorstore.KeywordIndex, hybrid bool) *Retriever {
	return &Retriever{index: index, keywords: keywords, hybrid: hybrid}
}

// Retrieve builds the context window for a question. vector may be nil when
// the question could not be embedded; the keyword probe is then used alone.
// An empty candidate set yields an empty window, not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string, vector []float32, opts RetrieveOptions) (ContextWindow, error) {
	if opts.TopK <= 0 {
		return ContextWindow{}, nil
	}

	var hits []vectorstore.Hit
	var err error
	switch {
	case vector != nil && r.useKeywords():
		hits, err = r.hybridHits(ctx, question, vector, opts)
	case vector != nil:
		hits, err = r.index.Search(vector, vectorstore.SearchOptions{TopK: opts.TopK, DocumentIDs: opts.DocumentIDs})
	case r.keywords != nil:
		hits, err = r.keywordHits(ctx, question, opts)
	}
	if err != nil {
		return ContextWindow{}, err
	}

	return assemble(dedupHits(hits), opts.TopK, opts.MaxChars), nil
}

func (r *Retriever) useKeywords() bool {
	return r.hybrid && r.keywords != nil
}

func probeSize(topK int) int {
	return max(topK*3, 10)
}

// hybridHits blends cosine similarity with the keyword score normalised by the
// best keyword score of the probe.
func (r *Retriever) hybridHits(ctx context.Context, question string, vector []float32, opts RetrieveOptions) ([]vectorstore.Hit, error) {
	size := probeSize(opts.TopK)

	vecHits, err := r.index.Search(vector, vectorstore.SearchOptions{TopK: size, DocumentIDs: opts.DocumentIDs})
	if err != nil {
		return nil, err
	}

	kwHits, err := r.keywords.Search(ctx, question, size, opts.DocumentIDs)
	if err != nil {
		slog.Warn("keyword probe failed, using vector results only", "error", err)
		return vecHits, nil
	}
	if len(kwHits) == 0 {
		return vecHits, nil
	}

	kwScore := normalizedKeywordScores(kwHits)
	ids := make([]uuid.UUID, 0, len(vecHits)+len(kwHits))
	for _, h := range vecHits {
		ids = append(ids, h.Record.ChunkID)
	}
	for _, h := range kwHits {
		ids = append(ids, h.ChunkID)
	}

	scored, err := r.index.Lookup(vector, ids)
	if err != nil {
		return nil, fmt.Errorf("score keyword hits: %w", err)
	}
	for i := range scored {
		scored[i].Score = vectorWeight*scored[i].Score + keywordWeight*kwScore[scored[i].Record.ChunkID]
	}
	vectorstore.SortHits(scored)
	return scored, nil
}

func (r *Retriever) keywordHits(ctx context.Context, question string, opts RetrieveOptions) ([]vectorstore.Hit, error) {
	kwHits, err := r.keywords.Search(ctx, question, probeSize(opts.TopK), opts.DocumentIDs)
	if err != nil {
		slog.Warn("keyword probe failed", "error", err)
		return nil, nil
	}

	kwScore := normalizedKeywordScores(kwHits)
	hits := make([]vectorstore.Hit, 0, len(kwHits))
	for _, h := range kwHits {
		rec, ok := r.index.Get(h.ChunkID)
		if !ok {
			continue
		}
		hits = append(hits, vectorstore.Hit{Score: kwScore[h.ChunkID], Record: rec})
	}
	vectorstore.SortHits(hits)
	return hits, nil
}

func normalizedKeywordScores(hits []vectorstore.KeywordHit) map[uuid.UUID]float64 {
	best := 0.0
	for _, h := range hits {
		best = max(best, h.Score)
	}
	scores := make(map[uuid.UUID]float64, len(hits))
	for _, h := range hits {
		if best > 0 {
			scores[h.ChunkID] = max(scores[h.ChunkID], h.Score/best)
		}
	}
	return scores
}

// dedupHits keeps the best-scored hit per chunk and returns them ordered.
func dedupHits(hits []vectorstore.Hit) []vectorstore.Hit {
	best := make(map[uuid.UUID]int, len(hits))
	out := make([]vectorstore.Hit, 0, len(hits))
	for _, h := range hits {
		if i, ok := best[h.Record.ChunkID]; ok {
			if h.Score > out[i].Score {
				out[i] = h
			}
			continue
		}
		best[h.Record.ChunkID] = len(out)
		out = append(out, h)
	}
	vectorstore.SortHits(out)
	return out
}

// assemble admits hits in order until topK spans are collected or the next
// span would exceed maxChars. A first span longer than the budget is cut to
// fit so that candidates never produce an empty window.
func assemble(hits []vectorstore.Hit, topK, maxChars int) ContextWindow {
	var w ContextWindow
	used := 0
	for _, h := range hits {
		if len(w.Spans) == topK {
			break
		}
		chunk := h.Record.Chunk()
		n := utf8.RuneCountInString(chunk.Text)
		if maxChars > 0 && used+n > maxChars {
			if len(w.Spans) == 0 {
				chunk.Text = string([]rune(chunk.Text)[:maxChars])
				chunk.CharEnd = chunk.CharStart + maxChars
				w.Spans = append(w.Spans, Span{Chunk: chunk, Score: h.Score})
			}
			break
		}
		w.Spans = append(w.Spans, Span{Chunk: chunk, Score: h.Score})
		used += n
	}
	return w
}
