package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by metadata lookups for unknown documents.
var ErrNotFound = errors.New("not found")

type Document struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Filename      string    `json:"filename" db:"filename"`
	FileType      string    `json:"file_type" db:"file_type"`
	FileSizeBytes int64     `json:"file_size_bytes" db:"file_size_bytes"`
	PageCount     int       `json:"page_count" db:"page_count"`
	ChunkCount    int       `json:"chunk_count" db:"chunk_count"`
	Status        string    `json:"status" db:"status"`
	Error         string    `json:"error,omitempty" db:"error"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Page is the extracted text of one page, numbered from 1.
type Page struct {
	DocumentID uuid.UUID `json:"document_id" db:"document_id"`
	PageNumber int       `json:"page_number" db:"page_number"`
	Text       string    `json:"text" db:"text"`
}

// Chunk is a window of page text. CharStart and CharEnd are half-open rune
// offsets into the page text.
type Chunk struct {
	ID         uuid.UUID `json:"chunk_id" db:"id"`
	DocumentID uuid.UUID `json:"document_id" db:"document_id"`
	PageNumber int       `json:"page_number" db:"page_number"`
	CharStart  int       `json:"char_start" db:"char_start"`
	CharEnd    int       `json:"char_end" db:"char_end"`
	Text       string    `json:"text" db:"text"`
	TokenCount int       `json:"token_count" db:"token_count"`
}

const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusReady      = "ready"
	DocStatusFailed     = "failed"
)
