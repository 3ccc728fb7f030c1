package document

import (
	"context"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docqa/internal/models"
)

// Store persists document metadata and extracted page text. Lookups of
// unknown documents return models.ErrNotFound.
type Store interface {
	CreateDocument(ctx context.Context, doc *models.Document, pages []models.Page) error
	UpdateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	ListPages(ctx context.Context, id uuid.UUID) ([]models.Page, error)
	Ping(ctx context.Context) error
}
