package models

import "github.com/google/uuid"

// Source cites the chunk an answer drew on.
type Source struct {
	DocumentID  uuid.UUID `json:"document_id"`
	PageNumber  int       `json:"page_number"`
	CharStart   int       `json:"char_start"`
	CharEnd     int       `json:"char_end"`
	TextSnippet string    `json:"text_snippet"`
}

type Answer struct {
	Text       string   `json:"answer"`
	Sources    []Source `json:"sources"`
	ModelUsed  string   `json:"model_used"`
	Confidence *float64 `json:"confidence,omitempty"`
}

const (
	ModelExtractive = "extractive-fallback"
	ModelNone       = "none"
)
