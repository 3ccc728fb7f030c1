package rag

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/pkg/chunker"
	"github.com/nikhilbhutani/docqa/pkg/tokenizer"
)

// ChunkPage splits one page into chunks with fresh ids. Offsets are rune
// offsets into the page text.
func ChunkPage(documentID uuid.UUID, page models.Page, opts chunker.ChunkOptions) ([]models.Chunk, error) {
	windows, err := chunker.Split(page.Text, opts)
	if err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = models.Chunk{
			ID:         uuid.New(),
			DocumentID: documentID,
			PageNumber: page.PageNumber,
			CharStart:  w.Start,
			CharEnd:    w.End,
			Text:       w.Content,
			TokenCount: tokenizer.CountTokens(w.Content),
		}
	}
	return chunks, nil
}

// ChunkPages chunks every page of a document, keeping page order.
func ChunkPages(documentID uuid.UUID, pages []models.Page, opts chunker.ChunkOptions) ([]models.Chunk, error) {
	var all []models.Chunk
	for _, p := range pages {
		chunks, err := ChunkPage(documentID, p, opts)
		if err != nil {
			return nil, fmt.Errorf("chunk page %d: %w", p.PageNumber, err)
		}
		all = append(all, chunks...)
	}
	return all, nil
}
