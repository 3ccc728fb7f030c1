package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeywordIndex(t *testing.T) *KeywordIndex {
	t.Helper()
	k, err := NewKeywordIndex()
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	return k
}

func TestKeywordIndex_Search(t *testing.T) {
	k := newKeywordIndex(t)
	doc := uuid.New()

	revenue := Record{ChunkID: uuid.New(), DocumentID: doc, Text: "Quarterly revenue grew by twelve percent."}
	staff := Record{ChunkID: uuid.New(), DocumentID: doc, Text: "Headcount remained flat across all offices."}
	require.NoError(t, k.Add([]Record{revenue, staff}))

	hits, err := k.Search(context.Background(), "revenue growth", 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, revenue.ChunkID, hits[0].ChunkID)
	assert.Greater(t, hits[0].Score, 0.0)

	count, err := k.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestKeywordIndex_DocumentFilter(t *testing.T) {
	k := newKeywordIndex(t)
	docA := uuid.New()
	docB := uuid.New()

	inA := Record{ChunkID: uuid.New(), DocumentID: docA, Text: "the contract termination clause"}
	inB := Record{ChunkID: uuid.New(), DocumentID: docB, Text: "termination requires ninety days notice"}
	require.NoError(t, k.Add([]Record{inA, inB}))

	hits, err := k.Search(context.Background(), "termination", 10, []uuid.UUID{docB})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, inB.ChunkID, hits[0].ChunkID)

	hits, err = k.Search(context.Background(), "termination", 10, []uuid.UUID{uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestKeywordIndex_DeleteAndRebuild(t *testing.T) {
	k := newKeywordIndex(t)
	doc := uuid.New()
	a := Record{ChunkID: uuid.New(), DocumentID: doc, Text: "alpha bravo"}
	b := Record{ChunkID: uuid.New(), DocumentID: doc, Text: "alpha charlie"}
	require.NoError(t, k.Add([]Record{a, b}))

	require.NoError(t, k.Delete([]uuid.UUID{a.ChunkID}))
	hits, err := k.Search(context.Background(), "alpha", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, b.ChunkID, hits[0].ChunkID)

	require.NoError(t, k.Rebuild([]Record{a}))
	hits, err = k.Search(context.Background(), "alpha", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a.ChunkID, hits[0].ChunkID)
}

func TestKeywordIndex_ZeroSize(t *testing.T) {
	k := newKeywordIndex(t)
	hits, err := k.Search(context.Background(), "anything", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
