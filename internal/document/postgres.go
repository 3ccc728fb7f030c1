package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/docqa/internal/models"
)

const documentColumns = `id, filename, file_type, file_size_bytes, page_count, chunk_count, status, error, created_at`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.Filename, &d.FileType, &d.FileSizeBytes, &d.PageCount, &d.ChunkCount, &d.Status, &d.Error, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *models.Document, pages []models.Page) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
		 RETURNING created_at`,
		doc.ID, doc.Filename, doc.FileType, doc.FileSizeBytes, doc.PageCount, doc.ChunkCount, doc.Status, doc.Error, nullTime(doc),
	).Scan(&doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	rows := make([][]any, len(pages))
	for i, p := range pages {
		rows[i] = []any{doc.ID, p.PageNumber, p.Text}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"pages"}, []string{"document_id", "page_number", "content"}, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("insert pages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit document: %w", err)
	}
	return nil
}

func nullTime(doc *models.Document) any {
	if doc.CreatedAt.IsZero() {
		return nil
	}
	return doc.CreatedAt
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, doc *models.Document) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET page_count = $2, chunk_count = $3, status = $4, error = $5 WHERE id = $1`,
		doc.ID, doc.PageCount, doc.ChunkCount, doc.Status, doc.Error,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update document %s: %w", doc.ID, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get document %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, limit, offset int) ([]models.Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListPages(ctx context.Context, id uuid.UUID) ([]models.Page, error) {
	rows, err := s.db.Query(ctx,
		`SELECT document_id, page_number, content FROM pages WHERE document_id = $1 ORDER BY page_number`, id)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	pages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Page, error) {
		var p models.Page
		err := row.Scan(&p.DocumentID, &p.PageNumber, &p.Text)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan pages: %w", err)
	}
	return pages, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
