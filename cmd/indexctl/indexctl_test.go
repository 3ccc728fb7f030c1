package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docqa/internal/document"
	"github.com/nikhilbhutani/docqa/internal/embedding"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/rag"
	"github.com/nikhilbhutani/docqa/internal/vectorstore"
	"github.com/nikhilbhutani/docqa/pkg/chunker"
)

func newPipeline(t *testing.T, path string) *rag.Pipeline {
	t.Helper()
	p, err := rag.NewPipeline(
		vectorstore.NewIndex(32),
		nil,
		embedding.NewService(embedding.NewHashBackend(32), embedding.Options{}),
		nil,
		rag.Options{Chunk: chunker.DefaultOptions(), ManifestPath: path},
	)
	require.NoError(t, err)
	return p
}

func TestStatsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	p := newPipeline(t, path)
	docA, docB := uuid.New(), uuid.New()
	_, err := p.IndexDocument(context.Background(), docA, []models.Page{{PageNumber: 1, Text: "alpha"}, {PageNumber: 2, Text: "beta"}})
	require.NoError(t, err)
	_, err = p.IndexDocument(context.Background(), docB, []models.Page{{PageNumber: 1, Text: "gamma"}})
	require.NoError(t, err)
	_, err = p.RemoveDocument(context.Background(), docB)
	require.NoError(t, err)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"stats", "--manifest", path, "--json"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	var s manifestSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &s))
	assert.Equal(t, 32, s.Dimension)
	assert.Equal(t, 2, s.Entries)
	assert.Equal(t, 1, s.Documents)
	assert.Equal(t, 1, s.Tombstones)
	assert.Equal(t, 2, s.PerDoc[docA.String()])
}

func TestReembed(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemoryStore()

	ready := &models.Document{ID: uuid.New(), Filename: "ready.txt", Status: models.DocStatusReady, PageCount: 1}
	failed := &models.Document{ID: uuid.New(), Filename: "broken.pdf", Status: models.DocStatusFailed}
	require.NoError(t, store.CreateDocument(ctx, ready, []models.Page{{DocumentID: ready.ID, PageNumber: 1, Text: "opening hours are nine to five"}}))
	require.NoError(t, store.CreateDocument(ctx, failed, nil))

	path := filepath.Join(t.TempDir(), "index.json")
	p := newPipeline(t, path)

	var out bytes.Buffer
	n, err := reembed(ctx, p, store, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, p.Index().HasDocument(ready.ID))
	assert.False(t, p.Index().HasDocument(failed.ID))
	assert.Contains(t, out.String(), "ready.txt")

	got, err := store.GetDocument(ctx, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ChunkCount)

	m, err := vectorstore.ReadManifest(path)
	require.NoError(t, err)
	assert.Len(t, m.Entries, 1)

	n, err = reembed(ctx, p, store, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, p.Stats().Index.Entries, "re-running replaces rather than duplicates")
}
