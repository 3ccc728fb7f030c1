package document

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/pkg/textextract"
)

// TextExtractor turns an uploaded file into per-page text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, fileType string) ([]textextract.Page, error)
	SupportedTypes() []string
}

type extractor struct{}

func NewTextExtractor() TextExtractor {
	return extractor{}
}

func (extractor) Extract(ctx context.Context, data []byte, fileType string) ([]textextract.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := textextract.Extract(bytes.NewReader(data), int64(len(data)), fileType)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	return result.Pages, nil
}

func (extractor) SupportedTypes() []string {
	return textextract.SupportedTypes()
}

func toModelPages(documentID uuid.UUID, pages []textextract.Page) []models.Page {
	out := make([]models.Page, len(pages))
	for i, p := range pages {
		out[i] = models.Page{DocumentID: documentID, PageNumber: p.Number, Text: p.Text}
	}
	return out
}
