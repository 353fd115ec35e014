package httpapi

import (
	"net/http"

	"github.com/ssandri/blackbox/internal/trigger"
)

type setBookingsRequest struct {
	Bookings []trigger.Booking `json:"bookings"`
}

// handleSetBookings replaces the booking collaborator's reported set. The
// source's change hook kicks reconciliation; the handler also waits for
// one run so the response reflects the applied decision.
func (s *Server) handleSetBookings(w http.ResponseWriter, r *http.Request) {
	var req setBookingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.bookings.SetBookings(req.Bookings)
	decision, err := s.aggregator.Reconcile(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reconcile_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"decision": decision})
}

type setLiveLocationsRequest struct {
	Shares []trigger.LiveLocationShare `json:"shares"`
}

func (s *Server) handleSetLiveLocations(w http.ResponseWriter, r *http.Request) {
	var req setLiveLocationsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.shares.SetShares(req.Shares)
	decision, err := s.aggregator.Reconcile(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reconcile_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"decision": decision})
}

type setAutoRecordRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetAutoRecord(w http.ResponseWriter, r *http.Request) {
	var req setAutoRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.aggregator.SetAutoDefault(req.Enabled)
	decision, err := s.aggregator.Reconcile(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reconcile_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"decision": decision})
}

// handleForeground mirrors the app-foreground transition: run a cleanup
// pass and re-reconcile.
func (s *Server) handleForeground(w http.ResponseWriter, r *http.Request) {
	deletedExpired, removedMissing := s.janitor.RunOnce(r.Context())
	decision, err := s.aggregator.Reconcile(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reconcile_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted_expired": deletedExpired,
		"removed_missing": removedMissing,
		"decision":        decision,
	})
}
