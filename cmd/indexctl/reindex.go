package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/docqa/internal/app"
	"github.com/nikhilbhutani/docqa/internal/cache"
	"github.com/nikhilbhutani/docqa/internal/database"
	"github.com/nikhilbhutani/docqa/internal/document"
	"github.com/nikhilbhutani/docqa/internal/embedding"
	"github.com/nikhilbhutani/docqa/internal/llm"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/rag"
	"github.com/nikhilbhutani/docqa/internal/vectorstore"
)

var reembedAll bool

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the index manifest from Postgres",
	Long: `Rebuilds a compacted manifest from the chunk embeddings mirrored in
Postgres. With --reembed, every stored document is chunked and embedded again
with the configured backend, which is required after changing backends.

A running API server picks up the new manifest on POST /api/v1/admin/index/reload.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

var cacheCmd = &cobra.Command{
	Use:   "flush-cache",
	Short: "Drop cached query embeddings from Redis",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return flushQueryCache(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	reindexCmd.Flags().BoolVar(&reembedAll, "reembed", false, "re-chunk and re-embed every stored document")
	rootCmd.AddCommand(reindexCmd, cacheCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("reindex requires DATABASE_URL")
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	backend, err := embedding.NewBackend(cfg.Embedding, llm.NewGateway(cfg.LLM))
	if err != nil {
		return err
	}
	mirror := vectorstore.NewPgMirror(pool)

	if !reembedAll {
		idx, err := mirror.Rebuild(ctx, backend.Dimension())
		if err != nil {
			return err
		}
		if err := idx.SaveFile(manifestPath); err != nil {
			return err
		}
		st := idx.Stats()
		fmt.Fprintf(out, "rebuilt %s: %d entries across %d documents\n", manifestPath, st.Entries, st.Documents)
		return nil
	}

	embedder := embedding.NewService(backend, embedding.Options{
		BatchSize: cfg.Embedding.BatchSize,
		Timeout:   cfg.Embedding.Timeout,
	})
	opts := app.PipelineOptions(cfg)
	opts.ManifestPath = manifestPath
	p, err := rag.NewPipeline(vectorstore.NewIndex(backend.Dimension()), nil, embedder, nil, opts)
	if err != nil {
		return err
	}
	p.WithMirror(mirror)

	if _, err := reembed(ctx, p, document.NewPostgresStore(pool), out); err != nil {
		return err
	}
	if cfg.Redis.Addr != "" {
		return flushQueryCache(ctx, out)
	}
	return nil
}

const listPage = 100

// reembed re-chunks and re-embeds every stored document into p and records
// the new chunk counts. It returns the number of documents indexed.
func reembed(ctx context.Context, p *rag.Pipeline, store document.Store, out io.Writer) (int, error) {
	var docs []models.Document
	for offset := 0; ; offset += listPage {
		batch, err := store.ListDocuments(ctx, listPage, offset)
		if err != nil {
			return 0, err
		}
		docs = append(docs, batch...)
		if len(batch) < listPage {
			break
		}
	}

	indexed := 0
	for i := range docs {
		doc := &docs[i]
		if doc.Status == models.DocStatusFailed {
			continue
		}
		pages, err := store.ListPages(ctx, doc.ID)
		if err != nil {
			return indexed, err
		}
		if _, err := p.RemoveDocument(ctx, doc.ID); err != nil {
			return indexed, err
		}
		n, err := p.IndexDocument(ctx, doc.ID, pages)
		if err != nil {
			return indexed, fmt.Errorf("reembed %s: %w", doc.Filename, err)
		}
		doc.ChunkCount = n
		doc.Status = models.DocStatusReady
		if err := store.UpdateDocument(ctx, doc); err != nil {
			return indexed, err
		}
		indexed++
		fmt.Fprintf(out, "%s\t%s\t%d chunks\n", doc.ID, doc.Filename, n)
	}

	st := p.Stats().Index
	fmt.Fprintf(out, "re-embedded %d documents: %d entries\n", indexed, st.Entries)
	return indexed, nil
}

func flushQueryCache(ctx context.Context, out io.Writer) error {
	if cfg.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is not set")
	}
	client := cache.NewClient(cfg.Redis)
	defer client.Close()

	n, err := cache.NewCache(client).DeletePrefix(ctx, embedding.CachePrefix)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "dropped %d cached query embeddings\n", n)
	return nil
}
