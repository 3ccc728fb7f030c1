package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docqa/internal/vectorstore"
)

func hit(doc uuid.UUID, start int, text string, score float64) vectorstore.Hit {
	return vectorstore.Hit{
		Score: score,
		Record: vectorstore.Record{
			ChunkID:    uuid.New(),
			DocumentID: doc,
			PageNumber: 1,
			CharStart:  start,
			CharEnd:    start + len(text),
			Text:       text,
		},
	}
}

func TestAssemble_StopsAtTopK(t *testing.T) {
	doc := uuid.New()
	hits := []vectorstore.Hit{hit(doc, 0, "a", 0.9), hit(doc, 10, "b", 0.8), hit(doc, 20, "c", 0.7)}

	w := assemble(hits, 2, 0)
	require.Len(t, w.Spans, 2)
	assert.Equal(t, "a", w.Spans[0].Chunk.Text)
	assert.Equal(t, "b", w.Spans[1].Chunk.Text)
}

func TestAssemble_StopsBeforeBudgetIsExceeded(t *testing.T) {
	doc := uuid.New()
	hits := []vectorstore.Hit{
		hit(doc, 0, strings.Repeat("a", 40), 0.9),
		hit(doc, 100, strings.Repeat("b", 40), 0.8),
		hit(doc, 200, strings.Repeat("c", 5), 0.7),
	}

	w := assemble(hits, 10, 60)
	require.Len(t, w.Spans, 1, "admission stops at the first span that does not fit")
	assert.Equal(t, 40, w.Chars())
}

func TestAssemble_TruncatesOversizedFirstSpan(t *testing.T) {
	doc := uuid.New()
	w := assemble([]vectorstore.Hit{hit(doc, 300, strings.Repeat("é", 50), 0.5)}, 3, 20)

	require.Len(t, w.Spans, 1)
	c := w.Spans[0].Chunk
	assert.Equal(t, strings.Repeat("é", 20), c.Text)
	assert.Equal(t, 300, c.CharStart)
	assert.Equal(t, 320, c.CharEnd)
}

func TestDedupHits_KeepsBestScore(t *testing.T) {
	doc := uuid.New()
	a := hit(doc, 0, "a", 0.4)
	better := a
	better.Score = 0.9
	b := hit(doc, 10, "b", 0.5)

	out := dedupHits([]vectorstore.Hit{a, b, better})
	require.Len(t, out, 2)
	assert.Equal(t, a.Record.ChunkID, out[0].Record.ChunkID)
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, b.Record.ChunkID, out[1].Record.ChunkID)
}

func TestAssemble_EmptyCandidates(t *testing.T) {
	w := assemble(nil, 3, 100)
	assert.True(t, w.Empty())
}

func indexRecords(t *testing.T, p *Pipeline, texts map[uuid.UUID][]string) {
	t.Helper()
	for doc, pages := range texts {
		for i, text := range pages {
			rec := vectorstore.Record{ChunkID: uuid.New(), DocumentID: doc, PageNumber: i + 1, CharEnd: len(text), Text: text}
			vec, err := p.embedder.EmbedQuery(context.Background(), text)
			require.NoError(t, err)
			_, err = p.index.Insert(rec, vec)
			require.NoError(t, err)
			require.NoError(t, p.keywords.Add([]vectorstore.Record{rec}))
		}
	}
}

func TestRetriever_FilterNeverLeaksOtherDocuments(t *testing.T) {
	p := newTestPipeline(t, nil, testOptions())
	docA, docB := uuid.New(), uuid.New()
	indexRecords(t, p, map[uuid.UUID][]string{
		docA: {"the lease term is five years", "rent is due monthly"},
		docB: {"the lease term is five years exactly", "parking is included"},
	})

	for _, hybrid := range []bool{false, true} {
		r := NewRetriever(p.index, p.keywords, hybrid)
		vec, err := p.embedder.EmbedQuery(context.Background(), "lease term")
		require.NoError(t, err)

		w, err := r.Retrieve(context.Background(), "lease term", vec, RetrieveOptions{TopK: 10, DocumentIDs: []uuid.UUID{docA}})
		require.NoError(t, err)
		require.NotEmpty(t, w.Spans)
		for _, s := range w.Spans {
			assert.Equal(t, docA, s.Chunk.DocumentID)
		}
		for i := 1; i < len(w.Spans); i++ {
			assert.GreaterOrEqual(t, w.Spans[i-1].Score, w.Spans[i].Score)
		}
	}
}

func TestRetriever_UnknownDocumentYieldsEmptyWindow(t *testing.T) {
	p := newTestPipeline(t, nil, testOptions())
	indexRecords(t, p, map[uuid.UUID][]string{uuid.New(): {"some text"}})

	vec, err := p.embedder.EmbedQuery(context.Background(), "text")
	require.NoError(t, err)
	w, err := p.retriever.Retrieve(context.Background(), "text", vec, RetrieveOptions{TopK: 3, DocumentIDs: []uuid.UUID{uuid.New()}})
	require.NoError(t, err)
	assert.True(t, w.Empty())
}

func TestRetriever_KeywordOnlyWithoutVector(t *testing.T) {
	p := newTestPipeline(t, nil, testOptions())
	doc := uuid.New()
	indexRecords(t, p, map[uuid.UUID][]string{doc: {"invoices are payable within thirty days", "the office closes at six"}})

	w, err := p.retriever.Retrieve(context.Background(), "invoices payable", nil, RetrieveOptions{TopK: 3})
	require.NoError(t, err)
	require.Len(t, w.Spans, 1)
	assert.Contains(t, w.Spans[0].Chunk.Text, "invoices")
	assert.InDelta(t, 1.0, w.Spans[0].Score, 1e-9)
}

func TestRetriever_NoProbesAvailable(t *testing.T) {
	r := NewRetriever(vectorstore.NewIndex(4), nil, false)
	w, err := r.Retrieve(context.Background(), "q", nil, RetrieveOptions{TopK: 3})
	require.NoError(t, err)
	assert.True(t, w.Empty())
}

func TestRetriever_DimensionMismatchSurfaces(t *testing.T) {
	r := NewRetriever(vectorstore.NewIndex(4), nil, false)
	_, err := r.Retrieve(context.Background(), "q", []float32{1, 0}, RetrieveOptions{TopK: 3})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestRetriever_HybridRewardsKeywordMatch(t *testing.T) {
	p := newTestPipeline(t, nil, testOptions())
	doc := uuid.New()
	indexRecords(t, p, map[uuid.UUID][]string{doc: {"warranty coverage lasts two years", "the warranty desk opens at nine"}})

	vec, err := p.embedder.EmbedQuery(context.Background(), "warranty coverage")
	require.NoError(t, err)

	plain, err := NewRetriever(p.index, p.keywords, false).Retrieve(context.Background(), "warranty coverage", vec, RetrieveOptions{TopK: 2})
	require.NoError(t, err)
	hybrid, err := NewRetriever(p.index, p.keywords, true).Retrieve(context.Background(), "warranty coverage", vec, RetrieveOptions{TopK: 2})
	require.NoError(t, err)

	require.Len(t, plain.Spans, 2)
	require.Len(t, hybrid.Spans, 2)
	assert.Equal(t, plain.Spans[0].Chunk.ID, hybrid.Spans[0].Chunk.ID)
	assert.InDelta(t, vectorWeight*plain.Spans[0].Score+keywordWeight, hybrid.Spans[0].Score, 1e-9)
}
