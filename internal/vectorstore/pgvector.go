package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgMirror keeps a durable copy of indexed chunks and their embeddings in
// Postgres so the in-memory index can be rebuilt without re-embedding.
type PgMirror struct {
	db *pgxpool.Pool
}

func NewPgMirror(db *pgxpool.Pool) *PgMirror {
	return &PgMirror{db: db}
}

func (s *PgMirror) Upsert(ctx context.Context, recs []Record, vecs [][]float32) error {
	if len(recs) != len(vecs) {
		return fmt.Errorf("upsert chunks: %d records for %d vectors", len(recs), len(vecs))
	}

	batch := &pgx.Batch{}
	for i, r := range recs {
		batch.Queue(
			`INSERT INTO chunks (id, document_id, page_number, char_start, char_end, content, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::text::vector)
			 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
			r.ChunkID, r.DocumentID, r.PageNumber, r.CharStart, r.CharEnd, r.Text, pgvector.NewVector(vecs[i]),
		)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PgMirror) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", documentID); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", documentID, err)
	}
	return nil
}

// Each streams every mirrored chunk in ingestion order. Vectors travel in
// pgvector's text form so pool connections need no type registration.
func (s *PgMirror) Each(ctx context.Context, fn func(Record, []float32) error) error {
	rows, err := s.db.Query(ctx,
		`SELECT c.id, c.document_id, c.page_number, c.char_start, c.char_end, c.content, c.embedding::text
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 ORDER BY d.created_at, c.document_id, c.page_number, c.char_start`,
	)
	if err != nil {
		return fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r Record
		var emb pgvector.Vector
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.PageNumber, &r.CharStart, &r.CharEnd, &r.Text, &emb); err != nil {
			return fmt.Errorf("scan chunk: %w", err)
		}
		if err := fn(r, emb.Slice()); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Rebuild builds a compacted index of dimension dim from the mirror.
func (s *PgMirror) Rebuild(ctx context.Context, dim int) (*Index, error) {
	idx := NewIndex(dim)

	const flushAt = 500
	var recs []Record
	var vecs [][]float32
	flush := func() error {
		if len(recs) == 0 {
			return nil
		}
		if _, err := idx.InsertBatch(recs, vecs); err != nil {
			return err
		}
		recs, vecs = recs[:0], vecs[:0]
		return nil
	}

	err := s.Each(ctx, func(r Record, v []float32) error {
		recs = append(recs, r)
		vecs = append(vecs, v)
		if len(recs) >= flushAt {
			return flush()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	return idx, nil
}
