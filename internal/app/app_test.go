package app

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docqa/internal/config"
	"github.com/nikhilbhutani/docqa/internal/document"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/rag"
	"github.com/nikhilbhutani/docqa/internal/vectorstore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Database.URL = ""
	cfg.Redis.Addr = ""
	cfg.LLM.OpenAIKey, cfg.LLM.AnthropicKey, cfg.LLM.OllamaURL = "", "", ""
	cfg.Embedding.Backend = "hash"
	cfg.Embedding.Dimension = 64
	cfg.Index.ManifestPath = filepath.Join(t.TempDir(), "index.json")
	return cfg
}

func TestNew_InMemory(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	assert.IsType(t, &document.MemoryStore{}, a.Store)
	assert.Len(t, a.Checks(), 1)

	res, err := a.Documents.Ingest(context.Background(), []document.Upload{
		{Filename: "notes.txt", Data: []byte("the library opens at nine")},
	}, "")
	require.NoError(t, err)
	require.Len(t, res.DocumentIDs, 1)

	ans, err := a.Pipeline.Ask(context.Background(), rag.AskRequest{Question: "when does the library open?"})
	require.NoError(t, err)
	assert.Equal(t, models.ModelExtractive, ans.ModelUsed)

	require.NoError(t, a.Close(context.Background()))

	m, err := vectorstore.ReadManifest(cfg.Index.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, 64, m.Dimension)
	assert.Len(t, m.Entries, 1)

	reopened, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer reopened.Close(context.Background())
	assert.True(t, reopened.Pipeline.Index().HasDocument(res.DocumentIDs[0]))
}

func TestNew_DimensionMismatchIsFatal(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	_, err = a.Documents.Ingest(context.Background(), []document.Upload{{Filename: "a.txt", Data: []byte("alpha")}}, "")
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))

	cfg.Embedding.Dimension = 32
	_, err = New(context.Background(), cfg)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestMigrationsFS(t *testing.T) {
	files, err := fs.Glob(migrationsFS(config.DatabaseConfig{}), "*.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, files)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "900_extra.sql"), []byte("SELECT 1;"), 0o644))
	files, err = fs.Glob(migrationsFS(config.DatabaseConfig{MigrationsPath: dir}), "*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"900_extra.sql"}, files)
}
