package httpapi

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ssandri/blackbox/internal/recording"
)

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.index.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "index_unavailable", err.Error())
		return
	}
	if recs == nil {
		recs = []recording.Recording{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"recordings": recs})
}

// handleDeleteRecording removes one artifact by explicit user action: the
// file first, then the index row.
func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_recording_id", "missing recording id")
		return
	}

	rec, err := s.index.Get(r.Context(), id)
	if errors.Is(err, recording.ErrNotFound) {
		respondError(w, http.StatusNotFound, "recording_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "index_unavailable", err.Error())
		return
	}

	if err := os.Remove(rec.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		respondError(w, http.StatusInternalServerError, "file_delete_failed", err.Error())
		return
	}
	if err := s.index.Delete(r.Context(), id); err != nil && !errors.Is(err, recording.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "index_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
