package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docqa/internal/llm"
)

// ErrInvalidResponse is returned when a backend answers with the wrong number
// of vectors or vectors of the wrong dimension.
var ErrInvalidResponse = errors.New("invalid embedding response")

// Backend turns texts into vectors of a fixed dimension, preserving order.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// Cache stores query embeddings. cache.Cache satisfies it.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type Options struct {
	BatchSize int
	Timeout   time.Duration
	Cache     Cache
	CacheTTL  time.Duration
}

type Service struct {
	backend   Backend
	batchSize int
	timeout   time.Duration
	cache     Cache
	cacheTTL  time.Duration
}

func NewService(backend Backend, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Service{
		backend:   backend,
		batchSize: opts.BatchSize,
		timeout:   opts.Timeout,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
	}
}

func (s *Service) Dimension() int { return s.backend.Dimension() }

func (s *Service) Name() string { return s.backend.Name() }

// Embed returns one vector per text in input order. Texts are sent to the
// backend in batches; each batch call carries its own timeout.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += s.batchSize {
		end := min(i+s.batchSize, len(texts))
		batch := texts[i:end]

		vecs, err := s.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", i/s.batchSize, err)
		}
		all = append(all, vecs...)
	}

	elapsed := time.Since(start)
	slog.Debug("embedded texts",
		"backend", s.backend.Name(),
		"count", len(texts),
		"duration_ms", elapsed.Milliseconds(),
		"texts_per_sec", float64(len(texts))/max(elapsed.Seconds(), 1e-9),
	)
	return all, nil
}

func (s *Service) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vecs, err := s.backend.Embed(callCtx, batch)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: backend timed out after %s: %w", llm.ErrTransient, s.timeout, err)
		}
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrInvalidResponse, len(vecs), len(batch))
	}
	dim := s.backend.Dimension()
	for i, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrInvalidResponse, i, len(v), dim)
		}
	}
	return vecs, nil
}

// EmbedQuery embeds a single question, consulting the cache first. Cache
// failures are logged and otherwise ignored.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := s.cacheKey(text)
	if s.cache != nil {
		var cached []float32
		if err := s.cache.Get(ctx, key, &cached); err == nil && len(cached) == s.Dimension() {
			return cached, nil
		}
	}

	vecs, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, vecs[0], s.cacheTTL); err != nil {
			slog.Warn("query embedding cache write failed", "error", err)
		}
	}
	return vecs[0], nil
}

// CachePrefix is the key prefix of every cached query embedding.
const CachePrefix = "emb:"

func (s *Service) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return CachePrefix + s.backend.Name() + ":" + hex.EncodeToString(sum[:])
}
