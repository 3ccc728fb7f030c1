// Package app wires configuration into the running service: metadata store,
// index, pipeline, document service and notification delivery.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/docqa/internal/api/handlers"
	"github.com/nikhilbhutani/docqa/internal/cache"
	"github.com/nikhilbhutani/docqa/internal/config"
	"github.com/nikhilbhutani/docqa/internal/database"
	"github.com/nikhilbhutani/docqa/internal/document"
	"github.com/nikhilbhutani/docqa/internal/embedding"
	"github.com/nikhilbhutani/docqa/internal/guardrails"
	"github.com/nikhilbhutani/docqa/internal/llm"
	"github.com/nikhilbhutani/docqa/internal/queue"
	"github.com/nikhilbhutani/docqa/internal/rag"
	"github.com/nikhilbhutani/docqa/internal/vectorstore"
	"github.com/nikhilbhutani/docqa/internal/webhook"
	"github.com/nikhilbhutani/docqa/migrations"
)

type App struct {
	Config    *config.Config
	DB        *pgxpool.Pool // nil without DATABASE_URL
	Redis     *redis.Client // nil without a reachable REDIS_ADDR
	Cache     *cache.Cache
	Embedder  *embedding.Service
	Pipeline  *rag.Pipeline
	Documents *document.Service
	Store     document.Store

	keywords   *vectorstore.KeywordIndex
	queue      *queue.Client
	dispatcher *webhook.Dispatcher
}

// New connects the optional backing services and loads the index from its
// manifest. Callers must Close the returned App.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.wire(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config
	var err error

	if cfg.Database.URL != "" {
		if a.DB, err = database.NewPool(ctx, cfg.Database); err != nil {
			return err
		}
		if err = database.RunMigrations(ctx, a.DB, migrationsFS(cfg.Database)); err != nil {
			return err
		}
		a.Store = document.NewPostgresStore(a.DB)
	} else {
		slog.Info("DATABASE_URL not set, keeping document metadata in memory")
		a.Store = document.NewMemoryStore()
	}

	if cfg.Redis.Addr != "" {
		rdb := cache.NewClient(cfg.Redis)
		if perr := rdb.Ping(ctx).Err(); perr != nil {
			slog.Warn("redis unavailable, running without cache and task queue", "addr", cfg.Redis.Addr, "error", perr)
			rdb.Close()
		} else {
			a.Redis = rdb
			a.Cache = cache.NewCache(rdb)
		}
	}

	gw := llm.NewGateway(cfg.LLM)
	backend, err := embedding.NewBackend(cfg.Embedding, gw)
	if err != nil {
		return err
	}
	embedOpts := embedding.Options{
		BatchSize: cfg.Embedding.BatchSize,
		Timeout:   cfg.Embedding.Timeout,
		CacheTTL:  cfg.Embedding.CacheTTL,
	}
	if a.Cache != nil {
		embedOpts.Cache = a.Cache
	}
	a.Embedder = embedding.NewService(backend, embedOpts)

	index, err := vectorstore.Open(cfg.Index.ManifestPath, backend.Dimension())
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	if a.keywords, err = vectorstore.NewKeywordIndex(); err != nil {
		return err
	}

	a.Pipeline, err = rag.NewPipeline(index, a.keywords, a.Embedder, chatGateway(cfg.LLM, gw), PipelineOptions(cfg))
	if err != nil {
		return err
	}
	if a.DB != nil {
		a.Pipeline.WithMirror(vectorstore.NewPgMirror(a.DB))
	}

	a.Documents = document.NewService(a.Store, a.Pipeline, document.Limits{
		MaxFiles:     cfg.Ingest.MaxFiles,
		MaxFileBytes: int64(cfg.Ingest.MaxFileMB) << 20,
		Parallelism:  cfg.Ingest.Parallelism,
	})
	a.Documents.WithNotifier(a.notifier(), cfg.Webhook.URL)

	slog.Info("service wired",
		"embedding_backend", backend.Name(),
		"dimension", backend.Dimension(),
		"entries", index.Stats().Entries,
		"hybrid", cfg.RAG.Hybrid,
		"database", a.DB != nil,
		"redis", a.Redis != nil,
	)
	return nil
}

// PipelineOptions maps the RAG, index and LLM settings onto pipeline options.
func PipelineOptions(cfg *config.Config) rag.Options {
	opts := rag.Options{
		Chunk:           cfg.ChunkOptions(),
		DefaultTopK:     cfg.RAG.DefaultTopK,
		MaxTopK:         cfg.RAG.MaxTopK,
		ContextChars:    cfg.RAG.ContextChars,
		ExtractiveChars: cfg.RAG.ExtractiveChars,
		Hybrid:          cfg.RAG.Hybrid,
		StreamPace:      cfg.RAG.StreamPace,
		StreamIdle:      cfg.LLM.RequestTimeout,
		ManifestPath:    cfg.Index.ManifestPath,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
	}
	if cfg.RAG.ScreenQuestions {
		opts.Screen = guardrails.NewInjectionScreen()
	}
	return opts
}

// chatGateway returns nil when no generative provider is configured, so
// answers go straight to extractive synthesis.
func chatGateway(cfg config.LLMConfig, gw llm.Gateway) llm.Gateway {
	if cfg.OpenAIKey == "" && cfg.AnthropicKey == "" && cfg.OllamaURL == "" {
		slog.Info("no LLM provider configured, answers are extractive")
		return nil
	}
	return gw
}

// notifier prefers durable delivery through the task queue. A cmd/worker
// process must be running to drain it.
func (a *App) notifier() document.Notifier {
	if a.Redis != nil {
		a.queue = queue.NewClient(a.Config.Redis, a.Config.Webhook)
		return a.queue
	}
	a.dispatcher = webhook.NewDispatcher(
		webhook.NewSender(a.Config.Webhook.Secret, a.Config.Webhook.Timeout),
		a.Config.Webhook.MaxRetries,
	)
	return a.dispatcher
}

func migrationsFS(cfg config.DatabaseConfig) fs.FS {
	if cfg.MigrationsPath != "" {
		return os.DirFS(cfg.MigrationsPath)
	}
	return migrations.FS
}

// Checks are the readiness probes for the connected backing services.
func (a *App) Checks() []handlers.Check {
	checks := []handlers.Check{{Name: "metadata_store", Fn: a.Documents.Ping}}
	if a.Cache != nil {
		checks = append(checks, handlers.Check{Name: "redis", Fn: a.Cache.Ping})
	}
	return checks
}

// Close flushes pending webhook deliveries and the index manifest, then
// releases connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.dispatcher != nil {
		errs = append(errs, a.dispatcher.Close(ctx))
	}
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.Pipeline != nil {
		errs = append(errs, a.Pipeline.Persist(ctx))
	}
	if a.keywords != nil {
		errs = append(errs, a.keywords.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		a.DB.Close()
	}
	return errors.Join(errs...)
}
