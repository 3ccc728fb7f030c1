package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
)

// KeywordHit is a full-text match with its raw BM25-style score.
type KeywordHit struct {
	ChunkID uuid.UUID
	Score   float64
}

// KeywordIndex is an in-memory full-text index over chunk texts. It mirrors
// the vector index and is rebuilt from it on reload.
type KeywordIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

func NewKeywordIndex() (*KeywordIndex, error) {
	docMapping := bleve.NewDocumentMapping()

	docIDField := bleve.NewKeywordFieldMapping()
	docIDField.Store = false
	docMapping.AddFieldMappingsAt("document_id", docIDField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = "standard"
	textField.Store = false
	textField.IncludeTermVectors = false
	docMapping.AddFieldMappingsAt("text", textField)

	mapping := bleve.NewIndexMapping()
	mapping.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &KeywordIndex{index: index}, nil
}

func (k *KeywordIndex) Add(recs []Record) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	batch := k.index.NewBatch()
	for _, r := range recs {
		err := batch.Index(r.ChunkID.String(), map[string]any{
			"document_id": r.DocumentID.String(),
			"text":        r.Text,
		})
		if err != nil {
			return fmt.Errorf("index chunk %s: %w", r.ChunkID, err)
		}
	}
	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("apply keyword batch: %w", err)
	}
	return nil
}

func (k *KeywordIndex) Delete(chunkIDs []uuid.UUID) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	batch := k.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id.String())
	}
	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("delete keyword batch: %w", err)
	}
	return nil
}

// Rebuild replaces the index contents with recs.
func (k *KeywordIndex) Rebuild(recs []Record) error {
	fresh, err := NewKeywordIndex()
	if err != nil {
		return err
	}
	if err := fresh.Add(recs); err != nil {
		return err
	}
	k.mu.Lock()
	old := k.index
	k.index = fresh.index
	k.mu.Unlock()
	return old.Close()
}

// Search matches text against chunk texts, optionally restricted to the given
// documents, returning at most size hits ordered by score.
func (k *KeywordIndex) Search(ctx context.Context, text string, size int, documentIDs []uuid.UUID) ([]KeywordHit, error) {
	if size <= 0 {
		return nil, nil
	}

	match := bleve.NewMatchQuery(text)
	match.SetField("text")

	var q query.Query = match
	if len(documentIDs) > 0 {
		terms := make([]query.Query, 0, len(documentIDs))
		for _, id := range documentIDs {
			t := bleve.NewTermQuery(id.String())
			t.SetField("document_id")
			terms = append(terms, t)
		}
		q = bleve.NewConjunctionQuery(match, bleve.NewDisjunctionQuery(terms...))
	}

	req := bleve.NewSearchRequestOptions(q, size, 0, false)

	k.mu.RLock()
	res, err := k.index.SearchInContext(ctx, req)
	k.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	hits := make([]KeywordHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, err := uuid.Parse(h.ID)
		if err != nil {
			continue
		}
		hits = append(hits, KeywordHit{ChunkID: id, Score: h.Score})
	}
	return hits, nil
}

func (k *KeywordIndex) Count() (uint64, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.index.DocCount()
}

func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.index.Close()
}
