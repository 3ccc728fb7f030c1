package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/docqa/internal/rag"
)

// AdminHandler exposes index maintenance: stats, explicit persist and reload
// from the manifest.
type AdminHandler struct {
	pipeline *rag.Pipeline
}

func NewAdminHandler(p *rag.Pipeline) *AdminHandler {
	return &AdminHandler{pipeline: p}
}

func (h *AdminHandler) IndexStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Stats())
}

func (h *AdminHandler) Persist(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Persist(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "persisted", "index": h.pipeline.Stats()})
}

func (h *AdminHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Reload(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "index": h.pipeline.Stats()})
}
