package vectorstore

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(docID uuid.UUID, page, start int) Record {
	return Record{
		ChunkID:    uuid.New(),
		DocumentID: docID,
		PageNumber: page,
		CharStart:  start,
		CharEnd:    start + 10,
		Text:       fmt.Sprintf("page %d offset %d", page, start),
	}
}

func TestIndex_SearchOrdersByCosine(t *testing.T) {
	idx := NewIndex(3)
	doc := uuid.New()

	far := record(doc, 1, 0)
	near := record(doc, 1, 100)
	mid := record(doc, 2, 0)
	_, err := idx.InsertBatch(
		[]Record{far, near, mid},
		[][]float32{{0, 1, 0}, {1, 0.1, 0}, {1, 1, 0}},
	)
	require.NoError(t, err)

	hits, err := idx.Search([]float32{2, 0, 0}, SearchOptions{TopK: 3})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, near.ChunkID, hits[0].Record.ChunkID)
	assert.Equal(t, mid.ChunkID, hits[1].Record.ChunkID)
	assert.Equal(t, far.ChunkID, hits[2].Record.ChunkID)
	assert.InDelta(t, 0, hits[2].Score, 1e-6)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestIndex_SearchTopK(t *testing.T) {
	idx := NewIndex(2)
	doc := uuid.New()
	for i := 0; i < 10; i++ {
		_, err := idx.Insert(record(doc, 1, i*100), []float32{1, float32(i)})
		require.NoError(t, err)
	}

	hits, err := idx.Search([]float32{1, 0}, SearchOptions{TopK: 4})
	require.NoError(t, err)
	assert.Len(t, hits, 4)

	hits, err = idx.Search([]float32{1, 0}, SearchOptions{TopK: 0})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_SearchTieBreak(t *testing.T) {
	idx := NewIndex(2)
	docA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	docB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	b0 := record(docB, 1, 0)
	a50 := record(docA, 1, 50)
	a10 := record(docA, 2, 10)
	vec := []float32{1, 1}
	_, err := idx.InsertBatch([]Record{b0, a50, a10}, [][]float32{vec, vec, vec})
	require.NoError(t, err)

	hits, err := idx.Search(vec, SearchOptions{TopK: 3})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, a10.ChunkID, hits[0].Record.ChunkID)
	assert.Equal(t, a50.ChunkID, hits[1].Record.ChunkID)
	assert.Equal(t, b0.ChunkID, hits[2].Record.ChunkID)
}

func TestIndex_SearchFilterBeforeTruncation(t *testing.T) {
	idx := NewIndex(2)
	popular := uuid.New()
	target := uuid.New()

	for i := 0; i < 5; i++ {
		_, err := idx.Insert(record(popular, 1, i), []float32{1, 0})
		require.NoError(t, err)
	}
	want := record(target, 3, 0)
	_, err := idx.Insert(want, []float32{0, 1})
	require.NoError(t, err)

	hits, err := idx.Search([]float32{1, 0}, SearchOptions{TopK: 2, DocumentIDs: []uuid.UUID{target}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, want.ChunkID, hits[0].Record.ChunkID)
	assert.Equal(t, 3, hits[0].Record.PageNumber)
}

func TestIndex_SearchUnknownDocumentFilter(t *testing.T) {
	idx := NewIndex(2)
	_, err := idx.Insert(record(uuid.New(), 1, 0), []float32{1, 0})
	require.NoError(t, err)

	hits, err := idx.Search([]float32{1, 0}, SearchOptions{TopK: 3, DocumentIDs: []uuid.UUID{uuid.New()}})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_DimensionMismatch(t *testing.T) {
	idx := NewIndex(3)

	_, err := idx.Insert(record(uuid.New(), 1, 0), []float32{1, 2})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = idx.Search([]float32{1}, SearchOptions{TopK: 1})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = idx.Lookup([]float32{1}, nil)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestIndex_InsertBatchIsAllOrNothing(t *testing.T) {
	idx := NewIndex(2)
	doc := uuid.New()

	_, err := idx.InsertBatch(
		[]Record{record(doc, 1, 0), record(doc, 1, 10)},
		[][]float32{{1, 0}, {1, 0, 0}},
	)
	require.Error(t, err)
	assert.Equal(t, 0, idx.Stats().Entries)

	existing := record(doc, 1, 0)
	_, err = idx.Insert(existing, []float32{1, 0})
	require.NoError(t, err)

	_, err = idx.InsertBatch(
		[]Record{record(doc, 1, 20), existing},
		[][]float32{{1, 0}, {0, 1}},
	)
	assert.True(t, errors.Is(err, ErrDuplicateChunk))
	assert.Equal(t, 1, idx.Stats().Entries)
}

func TestIndex_InsertReturnsDenseSlots(t *testing.T) {
	idx := NewIndex(2)
	doc := uuid.New()

	slots, err := idx.InsertBatch(
		[]Record{record(doc, 1, 0), record(doc, 1, 10), record(doc, 2, 0)},
		[][]float32{{1, 0}, {0, 1}, {1, 1}},
	)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, slots)

	slot, err := idx.Insert(record(doc, 3, 0), []float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 3, slot)
}

func TestIndex_Remove(t *testing.T) {
	idx := NewIndex(2)
	keep := uuid.New()
	drop := uuid.New()

	kept := record(keep, 1, 0)
	_, err := idx.Insert(kept, []float32{1, 0})
	require.NoError(t, err)
	removed := record(drop, 1, 0)
	_, err = idx.InsertBatch([]Record{removed, record(drop, 2, 0)}, [][]float32{{1, 0}, {1, 0.5}})
	require.NoError(t, err)

	assert.Equal(t, 2, idx.Remove(drop))
	assert.Equal(t, 0, idx.Remove(drop))
	assert.False(t, idx.HasDocument(drop))
	assert.True(t, idx.HasDocument(keep))

	hits, err := idx.Search([]float32{1, 0}, SearchOptions{TopK: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, kept.ChunkID, hits[0].Record.ChunkID)

	_, ok := idx.Get(removed.ChunkID)
	assert.False(t, ok)

	st := idx.Stats()
	assert.Equal(t, Stats{Entries: 1, Tombstones: 2, Documents: 1, Dimension: 2, NextSlot: 3}, st)

	slot, err := idx.Insert(record(drop, 1, 0), []float32{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 3, slot, "tombstoned slots are not reused")
}

func TestIndex_Lookup(t *testing.T) {
	idx := NewIndex(2)
	doc := uuid.New()
	a := record(doc, 1, 0)
	b := record(doc, 1, 10)
	_, err := idx.InsertBatch([]Record{a, b}, [][]float32{{0, 1}, {1, 0}})
	require.NoError(t, err)

	hits, err := idx.Lookup([]float32{1, 0}, []uuid.UUID{a.ChunkID, uuid.New(), b.ChunkID, a.ChunkID})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, b.ChunkID, hits[0].Record.ChunkID)
	assert.InDelta(t, 1, hits[0].Score, 1e-6)
	assert.Equal(t, a.ChunkID, hits[1].Record.ChunkID)
}

func TestIndex_ZeroVector(t *testing.T) {
	idx := NewIndex(2)
	_, err := idx.Insert(record(uuid.New(), 1, 0), []float32{0, 0})
	require.NoError(t, err)

	hits, err := idx.Search([]float32{1, 0}, SearchOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0.0, hits[0].Score)
}

func TestIndex_ConcurrentInsertAndSearch(t *testing.T) {
	idx := NewIndex(4)
	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			doc := uuid.New()
			for i := 0; i < perWriter; i++ {
				_, err := idx.Insert(record(doc, 1, i), []float32{float32(w + 1), float32(i), 1, 0})
				assert.NoError(t, err)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				hits, err := idx.Search([]float32{1, 1, 1, 1}, SearchOptions{TopK: 5})
				assert.NoError(t, err)
				for _, h := range hits {
					assert.NotEqual(t, uuid.Nil, h.Record.ChunkID)
				}
			}
		}()
	}
	wg.Wait()

	st := idx.Stats()
	assert.Equal(t, writers*perWriter, st.Entries)
	assert.Equal(t, writers, st.Documents)
	assert.Len(t, idx.Records(), writers*perWriter)
}

func TestIndex_ConsistentUnderConcurrentRemove(t *testing.T) {
	idx := NewIndex(2)
	docs := make([]uuid.UUID, 20)
	for i := range docs {
		docs[i] = uuid.New()
		_, err := idx.InsertBatch(
			[]Record{record(docs[i], 1, 0), record(docs[i], 1, 10)},
			[][]float32{{1, float32(i)}, {float32(i), 1}},
		)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < len(docs); i += 2 {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			idx.Remove(id)
		}(docs[i])
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			hits, err := idx.Search([]float32{1, 1}, SearchOptions{TopK: 40})
			assert.NoError(t, err)
			for _, h := range hits {
				rec, ok := idx.Get(h.Record.ChunkID)
				if ok {
					assert.Equal(t, h.Record.DocumentID, rec.DocumentID)
				}
			}
		}
	}()
	wg.Wait()

	hits, err := idx.Search([]float32{1, 1}, SearchOptions{TopK: 100})
	require.NoError(t, err)
	assert.Len(t, hits, 20)
	for _, h := range hits {
		assert.NotContains(t, []uuid.UUID{docs[0], docs[2], docs[4]}, h.Record.DocumentID)
	}
}
