package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ssandri/blackbox/internal/override"
	"github.com/ssandri/blackbox/internal/trigger"
)

func (s *Server) handleListOverrides(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"overrides": s.overrides.Snapshot()})
}

type setOverrideRequest struct {
	Force override.Force `json:"force"`
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	key := trigger.ContextKey(strings.TrimSpace(chi.URLParam(r, "key")))
	if key == "" {
		respondError(w, http.StatusBadRequest, "invalid_context_key", "missing context key")
		return
	}
	var req setOverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !req.Force.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_override", "force must be force_on or force_off")
		return
	}
	if err := s.overrides.Set(key, req.Force); err != nil {
		respondError(w, http.StatusInternalServerError, "override_persist_failed", err.Error())
		return
	}
	decision, err := s.aggregator.Reconcile(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reconcile_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"decision": decision})
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	key := trigger.ContextKey(strings.TrimSpace(chi.URLParam(r, "key")))
	if key == "" {
		respondError(w, http.StatusBadRequest, "invalid_context_key", "missing context key")
		return
	}
	if err := s.overrides.Clear(key); err != nil {
		respondError(w, http.StatusInternalServerError, "override_persist_failed", err.Error())
		return
	}
	decision, err := s.aggregator.Reconcile(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reconcile_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"decision": decision})
}
