package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/webhook"
	"github.com/nikhilbhutani/docqa/pkg/textextract"
)

// ErrInvalidUpload is wrapped by every rejection caused by the uploaded
// files themselves (count, size, type, unreadable content).
var ErrInvalidUpload = errors.New("invalid upload")

// Indexer chunks, embeds and indexes document pages. rag.Pipeline
// satisfies it.
type Indexer interface {
	IndexDocument(ctx context.Context, documentID uuid.UUID, pages []models.Page) (int, error)
	RemoveDocument(ctx context.Context, documentID uuid.UUID) (int, error)
}

// Notifier delivers an event to a webhook URL.
type Notifier interface {
	Notify(ctx context.Context, url, event string, data any) error
}

type Limits struct {
	MaxFiles     int
	MaxFileBytes int64
	Parallelism  int
}

type Upload struct {
	Filename string
	Data     []byte
}

type IngestedDocument struct {
	DocumentID uuid.UUID `json:"document_id"`
	Filename   string    `json:"filename"`
	Pages      int       `json:"pages"`
	Chunks     int       `json:"chunks"`
}

type IngestResult struct {
	DocumentIDs []uuid.UUID        `json:"document_ids"`
	Meta        []IngestedDocument `json:"meta"`
}

type Service struct {
	store          Store
	extractor      TextExtractor
	indexer        Indexer
	notifier       Notifier
	defaultWebhook string
	limits         Limits
}

func NewService(store Store, indexer Indexer, limits Limits) *Service {
	if limits.Parallelism <= 0 {
		limits.Parallelism = 4
	}
	return &Service{
		store:     store,
		extractor: NewTextExtractor(),
		indexer:   indexer,
		limits:    limits,
	}
}

// WithNotifier enables ingest.completed notifications. defaultURL, when set,
// receives every notification in addition to per-request URLs.
func (s *Service) WithNotifier(n Notifier, defaultURL string) *Service {
	s.notifier = n
	s.defaultWebhook = defaultURL
	return s
}

func (s *Service) Validate(uploads []Upload) error {
	if len(uploads) == 0 {
		return fmt.Errorf("%w: no files provided", ErrInvalidUpload)
	}
	if s.limits.MaxFiles > 0 && len(uploads) > s.limits.MaxFiles {
		return fmt.Errorf("%w: %d files exceeds the limit of %d", ErrInvalidUpload, len(uploads), s.limits.MaxFiles)
	}
	for _, u := range uploads {
		if textextract.TypeFromFilename(u.Filename) == "" {
			return fmt.Errorf("%w: %s: supported types are %s", ErrInvalidUpload, u.Filename, strings.Join(s.extractor.SupportedTypes(), ", "))
		}
		if s.limits.MaxFileBytes > 0 && int64(len(u.Data)) > s.limits.MaxFileBytes {
			return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidUpload, u.Filename, s.limits.MaxFileBytes)
		}
	}
	return nil
}

// Ingest extracts, stores and indexes each upload. Documents are processed in
// parallel; the result lists them in upload order. webhookURL, if set, is
// notified once every document is indexed.
func (s *Service) Ingest(ctx context.Context, uploads []Upload, webhookURL string) (*IngestResult, error) {
	if err := s.Validate(uploads); err != nil {
		return nil, err
	}

	meta := make([]IngestedDocument, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limits.Parallelism)

	for i, u := range uploads {
		g.Go(func() error {
			m, err := s.ingestOne(gctx, u)
			if err != nil {
				return err
			}
			meta[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &IngestResult{DocumentIDs: make([]uuid.UUID, len(meta)), Meta: meta}
	for i, m := range meta {
		result.DocumentIDs[i] = m.DocumentID
	}

	s.notify(ctx, webhookURL, result)
	return result, nil
}

func (s *Service) ingestOne(ctx context.Context, u Upload) (IngestedDocument, error) {
	start := time.Now()
	fileType := textextract.TypeFromFilename(u.Filename)

	pages, err := s.extractor.Extract(ctx, u.Data, fileType)
	if err != nil {
		if ctx.Err() != nil {
			return IngestedDocument{}, ctx.Err()
		}
		return IngestedDocument{}, fmt.Errorf("%w: %s: %w", ErrInvalidUpload, u.Filename, err)
	}

	doc := &models.Document{
		ID:            uuid.New(),
		Filename:      u.Filename,
		FileType:      strings.TrimPrefix(fileType, "."),
		FileSizeBytes: int64(len(u.Data)),
		PageCount:     len(pages),
		Status:        models.DocStatusProcessing,
	}
	modelPages := toModelPages(doc.ID, pages)

	if err := s.store.CreateDocument(ctx, doc, modelPages); err != nil {
		return IngestedDocument{}, fmt.Errorf("save %s: %w", u.Filename, err)
	}

	chunks, err := s.indexer.IndexDocument(ctx, doc.ID, modelPages)
	if err != nil {
		doc.Status = models.DocStatusFailed
		doc.Error = err.Error()
		if uerr := s.store.UpdateDocument(context.WithoutCancel(ctx), doc); uerr != nil {
			slog.Error("failed to mark document failed", "document_id", doc.ID, "error", uerr)
		}
		return IngestedDocument{}, fmt.Errorf("index %s: %w", u.Filename, err)
	}

	doc.Status = models.DocStatusReady
	doc.ChunkCount = chunks
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return IngestedDocument{}, fmt.Errorf("update %s: %w", u.Filename, err)
	}

	slog.Info("document ingested",
		"document_id", doc.ID,
		"filename", u.Filename,
		"pages", doc.PageCount,
		"chunks", chunks,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return IngestedDocument{DocumentID: doc.ID, Filename: u.Filename, Pages: doc.PageCount, Chunks: chunks}, nil
}

func (s *Service) notify(ctx context.Context, requestURL string, result *IngestResult) {
	if s.notifier == nil {
		return
	}
	targets := []string{requestURL}
	if s.defaultWebhook != requestURL {
		targets = append(targets, s.defaultWebhook)
	}
	for _, url := range targets {
		if url == "" {
			continue
		}
		if err := s.notifier.Notify(context.WithoutCancel(ctx), url, webhook.EventIngestCompleted, result); err != nil {
			slog.Warn("ingest notification failed", "url", url, "error", err)
		}
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	return s.store.GetDocument(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]models.Document, error) {
	return s.store.ListDocuments(ctx, limit, offset)
}

func (s *Service) Pages(ctx context.Context, id uuid.UUID) ([]models.Page, error) {
	return s.store.ListPages(ctx, id)
}

// Delete removes a document's index entries and then its metadata. It
// returns the number of chunks removed from the index.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (int, error) {
	if _, err := s.store.GetDocument(ctx, id); err != nil {
		return 0, err
	}

	removed, err := s.indexer.RemoveDocument(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("remove %s from index: %w", id, err)
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return removed, err
	}

	slog.Info("document deleted", "document_id", id, "chunks_removed", removed)
	return removed, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
