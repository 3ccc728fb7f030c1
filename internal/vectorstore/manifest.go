package vectorstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
)

const manifestVersion = 1

var errInvalidManifest = errors.New("invalid manifest")

// Manifest is the on-disk form of an Index. Tombstoned slots are omitted;
// NextSlot preserves the slot counter so slots are not reused after a restart.
type Manifest struct {
	Version   int             `json:"version"`
	Dimension int             `json:"dimension"`
	NextSlot  int             `json:"next_slot"`
	SavedAt   time.Time       `json:"saved_at"`
	Entries   []ManifestEntry `json:"entries"`
}

type ManifestEntry struct {
	Slot       int       `json:"slot"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	PageNumber int       `json:"page_number"`
	CharStart  int       `json:"char_start"`
	CharEnd    int       `json:"char_end"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`
}

func (e ManifestEntry) record() Record {
	return Record{
		ChunkID:    e.ChunkID,
		DocumentID: e.DocumentID,
		PageNumber: e.PageNumber,
		CharStart:  e.CharStart,
		CharEnd:    e.CharEnd,
		Text:       e.Text,
	}
}

// Snapshot copies the live entries under a read lock.
func (x *Index) Snapshot() Manifest {
	x.mu.RLock()
	defer x.mu.RUnlock()

	m := Manifest{
		Version:   manifestVersion,
		Dimension: x.dim,
		NextSlot:  len(x.vectors),
		SavedAt:   time.Now().UTC(),
		Entries:   make([]ManifestEntry, 0, len(x.byChunk)),
	}
	for slot, v := range x.vectors {
		if v == nil {
			continue
		}
		r := x.records[slot]
		m.Entries = append(m.Entries, ManifestEntry{
			Slot:       slot,
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			PageNumber: r.PageNumber,
			CharStart:  r.CharStart,
			CharEnd:    r.CharEnd,
			Text:       r.Text,
			Vector:     slices.Clone(v),
		})
	}
	return m
}

// Load replaces the index contents with the manifest. Slot numbering continues
// from the larger of the manifest's counter and the current one.
func (x *Index) Load(m Manifest) error {
	if m.Dimension != x.dim {
		return fmt.Errorf("load manifest: %w: manifest has %d, index has %d", ErrDimensionMismatch, m.Dimension, x.dim)
	}

	size := max(m.NextSlot, 0)
	for _, e := range m.Entries {
		if e.Slot < 0 {
			return fmt.Errorf("load manifest: %w: negative slot %d", errInvalidManifest, e.Slot)
		}
		size = max(size, e.Slot+1)
	}

	vectors := make([][]float32, size)
	records := make([]Record, size)
	byChunk := make(map[uuid.UUID]int, len(m.Entries))
	byDoc := make(map[uuid.UUID][]int)

	for _, e := range m.Entries {
		if len(e.Vector) != x.dim {
			return fmt.Errorf("load manifest: %w: slot %d has %d values", errInvalidManifest, e.Slot, len(e.Vector))
		}
		if vectors[e.Slot] != nil {
			return fmt.Errorf("load manifest: %w: slot %d repeated", errInvalidManifest, e.Slot)
		}
		if _, ok := byChunk[e.ChunkID]; ok {
			return fmt.Errorf("load manifest: %w: chunk %s", ErrDuplicateChunk, e.ChunkID)
		}
		vectors[e.Slot] = normalize(e.Vector)
		records[e.Slot] = e.record()
		byChunk[e.ChunkID] = e.Slot
	}
	for slot, v := range vectors {
		if v != nil {
			docID := records[slot].DocumentID
			byDoc[docID] = append(byDoc[docID], slot)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if len(x.vectors) > len(vectors) {
		pad := len(x.vectors) - len(vectors)
		vectors = append(vectors, make([][]float32, pad)...)
		records = append(records, make([]Record, pad)...)
	}
	x.vectors = vectors
	x.records = records
	x.byChunk = byChunk
	x.byDoc = byDoc
	return nil
}

// SaveFile writes a snapshot to path atomically. Concurrent saves are
// serialized and each takes its snapshot after acquiring the lock, so the file
// always ends up holding the newest state.
func (x *Index) SaveFile(path string) error {
	x.persistMu.Lock()
	defer x.persistMu.Unlock()

	data, err := json.Marshal(x.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (x *Index) LoadFile(path string) error {
	x.persistMu.Lock()
	defer x.persistMu.Unlock()

	m, err := ReadManifest(path)
	if err != nil {
		return err
	}
	return x.Load(m)
}

func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w: %v", errInvalidManifest, err)
	}
	if m.Version != manifestVersion {
		return m, fmt.Errorf("decode manifest: %w: unsupported version %d", errInvalidManifest, m.Version)
	}
	return m, nil
}

// Open builds an index of the given dimension from the manifest at path.
// A missing or unreadable manifest yields an empty index; a manifest written
// for another dimension is an error.
func Open(path string, dim int) (*Index, error) {
	idx := NewIndex(dim)
	err := idx.LoadFile(path)
	switch {
	case err == nil:
		st := idx.Stats()
		slog.Info("index loaded", "path", path, "entries", st.Entries, "documents", st.Documents)
	case errors.Is(err, ErrDimensionMismatch):
		return nil, err
	case errors.Is(err, os.ErrNotExist):
		slog.Info("no index manifest, starting empty", "path", path)
	default:
		slog.Warn("index manifest unreadable, starting empty", "path", path, "error", err)
		idx = NewIndex(dim)
	}
	return idx, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
