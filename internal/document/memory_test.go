package document

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docqa/internal/models"
)

func TestMemoryStore_ListOrderAndPaging(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := range 4 {
		doc := &models.Document{ID: uuid.New(), Filename: "f", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.CreateDocument(ctx, doc, nil))
		ids = append(ids, doc.ID)
	}

	docs, err := s.ListDocuments(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, ids[3], docs[0].ID, "newest first")
	assert.Equal(t, ids[2], docs[1].ID)

	docs, err = s.ListDocuments(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, ids[0], docs[0].ID)

	docs, err = s.ListDocuments(ctx, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryStore_NotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id := uuid.New()

	_, err := s.GetDocument(ctx, id)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.True(t, errors.Is(s.UpdateDocument(ctx, &models.Document{ID: id}), models.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteDocument(ctx, id), models.ErrNotFound))
	_, err = s.ListPages(ctx, id)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestMemoryStore_CopiesPages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	doc := &models.Document{ID: uuid.New()}
	pages := []models.Page{{DocumentID: doc.ID, PageNumber: 1, Text: "one"}}
	require.NoError(t, s.CreateDocument(ctx, doc, pages))
	assert.False(t, doc.CreatedAt.IsZero())

	pages[0].Text = "mutated"
	got, err := s.ListPages(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", got[0].Text)

	assert.Error(t, s.CreateDocument(ctx, doc, nil))
}
