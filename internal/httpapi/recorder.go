package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/ssandri/blackbox/internal/admission"
	"github.com/ssandri/blackbox/internal/override"
	"github.com/ssandri/blackbox/internal/recorder"
	"github.com/ssandri/blackbox/internal/trigger"
)

// Interrupter receives external capture interruption callbacks.
type Interrupter interface {
	SetInterrupted(ctx context.Context, active bool) error
}

type statusResponse struct {
	State      recorder.State    `json:"state"`
	Session    *recorder.Session `json:"session,omitempty"`
	Storage    admission.Status  `json:"storage"`
	AutoRecord bool              `json:"auto_record"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	respondJSON(w, http.StatusOK, statusResponse{
		State:      st.State,
		Session:    st.Session,
		Storage:    s.storage.Status(),
		AutoRecord: s.aggregator.AutoDefault(),
	})
}

// handleStart pins the manual global toggle on and reconciles. The engine
// is only ever driven through reconciliation so derived state and overrides
// stay in sync.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.overrides.Set(trigger.ManualGlobal, override.ForceOn); err != nil {
		respondError(w, http.StatusInternalServerError, "override_persist_failed", err.Error())
		return
	}
	decision, err := s.aggregator.Reconcile(r.Context())
	if err != nil {
		code, status := startErrorCode(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"decision": decision,
		"status":   s.engine.Status(),
	})
}

func startErrorCode(err error) (string, int) {
	switch {
	case errors.Is(err, recorder.ErrStorageCritical):
		return "storage_critical", http.StatusInsufficientStorage
	case errors.Is(err, recorder.ErrPermissionDenied):
		return "permission_denied", http.StatusForbidden
	case errors.Is(err, recorder.ErrDeviceUnavailable):
		return "device_unavailable", http.StatusConflict
	default:
		return "start_failed", http.StatusInternalServerError
	}
}

// handleStop pins the manual global toggle off so reconciliation will not
// immediately restart the session, then reconciles.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.overrides.Set(trigger.ManualGlobal, override.ForceOff); err != nil {
		respondError(w, http.StatusInternalServerError, "override_persist_failed", err.Error())
		return
	}
	decision, err := s.aggregator.Reconcile(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stop_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"decision": decision,
		"status":   s.engine.Status(),
	})
}

type interruptionRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleInterruption(w http.ResponseWriter, r *http.Request) {
	var req interruptionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if s.interrupter == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "interruption callbacks not configured")
		return
	}
	if err := s.interrupter.SetInterrupted(r.Context(), req.Active); err != nil {
		respondError(w, http.StatusInternalServerError, "interruption_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.engine.Status())
}
