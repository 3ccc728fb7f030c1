package document

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docqa/internal/models"
)

// MemoryStore is the Store used when no database is configured. Its
// contents do not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[uuid.UUID]models.Document
	pages map[uuid.UUID][]models.Page
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[uuid.UUID]models.Document),
		pages: make(map[uuid.UUID][]models.Page),
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *models.Document, pages []models.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("insert document: %s already exists", doc.ID)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	s.docs[doc.ID] = *doc
	s.pages[doc.ID] = slices.Clone(pages)
	return nil
}

func (s *MemoryStore) UpdateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.docs[doc.ID]
	if !ok {
		return fmt.Errorf("update document %s: %w", doc.ID, models.ErrNotFound)
	}
	cur.PageCount = doc.PageCount
	cur.ChunkCount = doc.ChunkCount
	cur.Status = doc.Status
	cur.Error = doc.Error
	s.docs[doc.ID] = cur
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id uuid.UUID) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("get document %s: %w", id, models.ErrNotFound)
	}
	return &d, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, limit, offset int) ([]models.Document, error) {
	s.mu.RLock()
	docs := make([]models.Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	s.mu.RUnlock()

	slices.SortFunc(docs, func(a, b models.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})

	if offset >= len(docs) {
		return []models.Document{}, nil
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("delete document %s: %w", id, models.ErrNotFound)
	}
	delete(s.docs, id)
	delete(s.pages, id)
	return nil
}

func (s *MemoryStore) ListPages(_ context.Context, id uuid.UUID) ([]models.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.docs[id]; !ok {
		return nil, fmt.Errorf("list pages %s: %w", id, models.ErrNotFound)
	}
	return slices.Clone(s.pages[id]), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
