package vectorstore

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docqa/internal/models"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrDuplicateChunk    = errors.New("chunk already indexed")
)

// Record is the side-table row stored next to each vector slot.
type Record struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	PageNumber int
	CharStart  int
	CharEnd    int
	Text       string
}

func RecordFromChunk(c models.Chunk) Record {
	return Record{
		ChunkID:    c.ID,
		DocumentID: c.DocumentID,
		PageNumber: c.PageNumber,
		CharStart:  c.CharStart,
		CharEnd:    c.CharEnd,
		Text:       c.Text,
	}
}

func (r Record) Chunk() models.Chunk {
	return models.Chunk{
		ID:         r.ChunkID,
		DocumentID: r.DocumentID,
		PageNumber: r.PageNumber,
		CharStart:  r.CharStart,
		CharEnd:    r.CharEnd,
		Text:       r.Text,
	}
}

type Hit struct {
	Slot   int
	Score  float64
	Record Record
}

type SearchOptions struct {
	TopK int
	// DocumentIDs restricts candidates to these documents. Empty means all.
	DocumentIDs []uuid.UUID
}

type Stats struct {
	Entries    int `json:"entries"`
	Tombstones int `json:"tombstones"`
	Documents  int `json:"documents"`
	Dimension  int `json:"dimension"`
	NextSlot   int `json:"next_slot"`
}

// Index is an in-memory cosine-similarity index. Vectors live in a dense arena
// addressed by slot; records is a parallel side table with the same addressing.
// A nil vector marks a tombstoned slot. Slots are never reused.
type Index struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
	records []Record
	byChunk map[uuid.UUID]int
	byDoc   map[uuid.UUID][]int

	persistMu sync.Mutex
}

func NewIndex(dim int) *Index {
	return &Index{
		dim:     dim,
		byChunk: make(map[uuid.UUID]int),
		byDoc:   make(map[uuid.UUID][]int),
	}
}

func (x *Index) Dimension() int { return x.dim }

// Insert adds a single vector and returns its slot.
func (x *Index) Insert(rec Record, vec []float32) (int, error) {
	slots, err := x.InsertBatch([]Record{rec}, [][]float32{vec})
	if err != nil {
		return 0, err
	}
	return slots[0], nil
}

// InsertBatch validates every entry before appending any, so a batch becomes
// visible to readers all at once or not at all.
func (x *Index) InsertBatch(recs []Record, vecs [][]float32) ([]int, error) {
	if len(recs) != len(vecs) {
		return nil, fmt.Errorf("insert batch: %d records for %d vectors", len(recs), len(vecs))
	}

	normalized := make([][]float32, len(vecs))
	for i, v := range vecs {
		if len(v) != x.dim {
			return nil, fmt.Errorf("insert chunk %s: %w: got %d, want %d", recs[i].ChunkID, ErrDimensionMismatch, len(v), x.dim)
		}
		normalized[i] = normalize(v)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(recs))
	for _, r := range recs {
		if _, ok := x.byChunk[r.ChunkID]; ok {
			return nil, fmt.Errorf("insert chunk %s: %w", r.ChunkID, ErrDuplicateChunk)
		}
		if _, ok := seen[r.ChunkID]; ok {
			return nil, fmt.Errorf("insert chunk %s: %w", r.ChunkID, ErrDuplicateChunk)
		}
		seen[r.ChunkID] = struct{}{}
	}

	slots := make([]int, len(recs))
	for i, r := range recs {
		slot := len(x.vectors)
		x.vectors = append(x.vectors, normalized[i])
		x.records = append(x.records, r)
		x.byChunk[r.ChunkID] = slot
		x.byDoc[r.DocumentID] = append(x.byDoc[r.DocumentID], slot)
		slots[i] = slot
	}
	return slots, nil
}

// Search returns up to opts.TopK live entries ordered by descending cosine
// similarity. The document filter is applied before truncation.
func (x *Index) Search(query []float32, opts SearchOptions) ([]Hit, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("search: %w: got %d, want %d", ErrDimensionMismatch, len(query), x.dim)
	}
	if opts.TopK <= 0 {
		return nil, nil
	}
	q := normalize(query)

	x.mu.RLock()
	defer x.mu.RUnlock()

	var hits []Hit
	score := func(slot int) {
		v := x.vectors[slot]
		if v == nil {
			return
		}
		hits = append(hits, Hit{Slot: slot, Score: dot(q, v), Record: x.records[slot]})
	}

	if len(opts.DocumentIDs) > 0 {
		for _, docID := range dedupIDs(opts.DocumentIDs) {
			for _, slot := range x.byDoc[docID] {
				score(slot)
			}
		}
	} else {
		for slot := range x.vectors {
			score(slot)
		}
	}

	SortHits(hits)
	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits, nil
}

// Lookup scores the given chunks against query. Unknown or removed chunks are
// skipped. The result is ordered like Search.
func (x *Index) Lookup(query []float32, chunkIDs []uuid.UUID) ([]Hit, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("lookup: %w: got %d, want %d", ErrDimensionMismatch, len(query), x.dim)
	}
	q := normalize(query)

	x.mu.RLock()
	defer x.mu.RUnlock()

	hits := make([]Hit, 0, len(chunkIDs))
	for _, id := range dedupIDs(chunkIDs) {
		slot, ok := x.byChunk[id]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Slot: slot, Score: dot(q, x.vectors[slot]), Record: x.records[slot]})
	}
	SortHits(hits)
	return hits, nil
}

// Get returns the side-table row for a live chunk.
func (x *Index) Get(chunkID uuid.UUID) (Record, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	slot, ok := x.byChunk[chunkID]
	if !ok {
		return Record{}, false
	}
	return x.records[slot], true
}

// Remove tombstones every slot of a document and returns how many were removed.
func (x *Index) Remove(documentID uuid.UUID) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	slots := x.byDoc[documentID]
	for _, slot := range slots {
		delete(x.byChunk, x.records[slot].ChunkID)
		x.vectors[slot] = nil
		x.records[slot] = Record{}
	}
	delete(x.byDoc, documentID)
	return len(slots)
}

// ChunkIDs returns the live chunk ids of a document in slot order.
func (x *Index) ChunkIDs(documentID uuid.UUID) []uuid.UUID {
	x.mu.RLock()
	defer x.mu.RUnlock()

	slots := x.byDoc[documentID]
	ids := make([]uuid.UUID, len(slots))
	for i, slot := range slots {
		ids[i] = x.records[slot].ChunkID
	}
	return ids
}

// HasDocument reports whether any live entry belongs to documentID.
func (x *Index) HasDocument(documentID uuid.UUID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byDoc[documentID]) > 0
}

// Records returns the live side-table rows in slot order.
func (x *Index) Records() []Record {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]Record, 0, len(x.byChunk))
	for slot, v := range x.vectors {
		if v != nil {
			out = append(out, x.records[slot])
		}
	}
	return out
}

func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return Stats{
		Entries:    len(x.byChunk),
		Tombstones: len(x.vectors) - len(x.byChunk),
		Documents:  len(x.byDoc),
		Dimension:  x.dim,
		NextSlot:   len(x.vectors),
	}
}

// SortHits orders hits by descending score, then document id, char offset,
// page number and slot.
func SortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		if c := bytes.Compare(a.Record.DocumentID[:], b.Record.DocumentID[:]); c != 0 {
			return c
		}
		if a.Record.CharStart != b.Record.CharStart {
			return a.Record.CharStart - b.Record.CharStart
		}
		if a.Record.PageNumber != b.Record.PageNumber {
			return a.Record.PageNumber - b.Record.PageNumber
		}
		return a.Slot - b.Slot
	})
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func dedupIDs(ids []uuid.UUID) []uuid.UUID {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
