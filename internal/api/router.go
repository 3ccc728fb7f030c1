package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/docqa/internal/api/handlers"
	"github.com/nikhilbhutani/docqa/internal/api/middleware"
	"github.com/nikhilbhutani/docqa/internal/config"
	"github.com/nikhilbhutani/docqa/internal/document"
	"github.com/nikhilbhutani/docqa/internal/rag"
)

type Router struct {
	mux      *chi.Mux
	cfg      *config.Config
	pipeline *rag.Pipeline
	docs     *document.Service
	checks   []handlers.Check
}

// NewRouter builds the HTTP surface over an already wired pipeline and
// document service. checks are added to the readiness probe.
func NewRouter(cfg *config.Config, pipeline *rag.Pipeline, docs *document.Service, checks ...handlers.Check) *Router {
	return &Router{
		mux:      chi.NewRouter(),
		cfg:      cfg,
		pipeline: pipeline,
		docs:     docs,
		checks:   checks,
	}
}

// Setup registers middleware and routes. ctx bounds background work such as
// rate limiter cleanup.
func (rt *Router) Setup(ctx context.Context) http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.CORSOrigins))

	index := handlers.Check{Name: "index", Fn: func(context.Context) error {
		if rt.pipeline == nil {
			return errors.New("index not loaded")
		}
		return nil
	}}
	health := handlers.NewHealthHandler(append([]handlers.Check{index}, rt.checks...)...)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		if rt.cfg.Server.RateLimitRPS > 0 {
			rl := middleware.NewRateLimiter(ctx, rt.cfg.Server.RateLimitRPS, rt.cfg.Server.RateLimitBurst)
			r.Use(rl.Limit)
		}

		askH := handlers.NewAskHandler(rt.pipeline, rt.cfg.RAG.MaxTopK)
		r.Route("/ask", func(r chi.Router) {
			r.Post("/", askH.Ask)
			r.Get("/stream", askH.Stream)
		})

		maxUpload := int64(rt.cfg.Ingest.MaxFiles*rt.cfg.Ingest.MaxFileMB+1) << 20
		docH := handlers.NewDocumentHandler(rt.docs, maxUpload)
		r.Post("/ingest", docH.Ingest)
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", docH.List)
			r.Get("/{id}", docH.Get)
			r.Get("/{id}/pages", docH.Pages)
			r.Delete("/{id}", docH.Delete)
		})

		adminH := handlers.NewAdminHandler(rt.pipeline)
		r.Route("/admin/index", func(r chi.Router) {
			r.Get("/", adminH.IndexStats)
			r.Post("/persist", adminH.Persist)
			r.Post("/reload", adminH.Reload)
		})
	})

	return r
}
