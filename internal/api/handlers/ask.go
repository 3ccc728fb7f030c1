package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/internal/rag"
)

const maxQuestionChars = 1000

type AskHandler struct {
	pipeline *rag.Pipeline
	maxTopK  int
}

func NewAskHandler(p *rag.Pipeline, maxTopK int) *AskHandler {
	return &AskHandler{pipeline: p, maxTopK: maxTopK}
}

type askRequest struct {
	Question    string      `json:"question"`
	DocumentID  *uuid.UUID  `json:"document_id,omitempty"`
	DocumentIDs []uuid.UUID `json:"document_ids,omitempty"`
	TopK        *int        `json:"top_k,omitempty"`
}

// toAskRequest validates the question and top_k. document_ids takes
// precedence over document_id.
func (h *AskHandler) toAskRequest(in askRequest) (rag.AskRequest, error) {
	q := strings.TrimSpace(in.Question)
	if q == "" {
		return rag.AskRequest{}, errors.New("question is required")
	}
	if utf8.RuneCountInString(q) > maxQuestionChars {
		return rag.AskRequest{}, fmt.Errorf("question must be at most %d characters", maxQuestionChars)
	}

	req := rag.AskRequest{Question: q}
	if in.TopK != nil {
		if *in.TopK < 1 || *in.TopK > h.maxTopK {
			return rag.AskRequest{}, fmt.Errorf("top_k must be between 1 and %d", h.maxTopK)
		}
		req.TopK = *in.TopK
	}

	switch {
	case len(in.DocumentIDs) > 0:
		req.DocumentIDs = in.DocumentIDs
	case in.DocumentID != nil:
		req.DocumentIDs = []uuid.UUID{*in.DocumentID}
	}
	return req, nil
}

func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var in askRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := h.toAskRequest(in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	answer, err := h.pipeline.Ask(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// Stream answers over Server-Sent Events: token events, then one sources
// event, then done.
func (h *AskHandler) Stream(w http.ResponseWriter, r *http.Request) {
	in, err := parseStreamQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := h.toAskRequest(in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	stream, err := h.pipeline.AskStream(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		ev, ok := stream.Next()
		if !ok {
			return
		}
		if err := writeEvent(w, ev); err != nil {
			return
		}
		flusher.Flush()
	}
}

func parseStreamQuery(r *http.Request) (askRequest, error) {
	q := r.URL.Query()
	in := askRequest{Question: q.Get("question")}

	if v := q.Get("top_k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return askRequest{}, errors.New("top_k must be an integer")
		}
		in.TopK = &k
	}

	for _, raw := range strings.Split(q.Get("document_ids"), ",") {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return askRequest{}, fmt.Errorf("invalid document id %q", raw)
		}
		in.DocumentIDs = append(in.DocumentIDs, id)
	}
	if v := q.Get("document_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return askRequest{}, fmt.Errorf("invalid document id %q", v)
		}
		in.DocumentID = &id
	}
	return in, nil
}

type tokenEvent struct {
	Type    rag.EventType `json:"type"`
	Content string        `json:"content"`
}

type sourcesEvent struct {
	Type    rag.EventType   `json:"type"`
	Sources []models.Source `json:"sources"`
}

type doneEvent struct {
	Type       rag.EventType `json:"type"`
	ModelUsed  string        `json:"model_used"`
	Confidence *float64      `json:"confidence,omitempty"`
}

func writeEvent(w http.ResponseWriter, ev rag.Event) error {
	var payload any
	switch ev.Type {
	case rag.EventToken:
		payload = tokenEvent{Type: ev.Type, Content: ev.Token}
	case rag.EventSources:
		sources := ev.Sources
		if sources == nil {
			sources = []models.Source{}
		}
		payload = sourcesEvent{Type: ev.Type, Sources: sources}
	default:
		payload = doneEvent{Type: ev.Type, ModelUsed: ev.ModelUsed, Confidence: ev.Confidence}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
