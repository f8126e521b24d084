package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/service"
)

// WaitlistHandlers serves the waitlist register.
type WaitlistHandlers struct {
	svc    *service.WaitlistService
	logger *zap.Logger
}

// NewWaitlistHandlers builds handler set.
func NewWaitlistHandlers(svc *service.WaitlistService, logger *zap.Logger) *WaitlistHandlers {
	return &WaitlistHandlers{svc: svc, logger: logger}
}

type joinWaitlistRequest struct {
	UserID        string `json:"user_id"`
	StationID     string `json:"station_id"`
	ConnectorType string `json:"connector_type"`
}

type waitlistStatusRequest struct {
	Status models.WaitlistStatus `json:"status"`
}

// Join handles POST /waitlist.
func (h *WaitlistHandlers) Join(w http.ResponseWriter, r *http.Request) {
	var req joinWaitlistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := h.svc.Join(r.Context(), requester(r, req.UserID), req.StationID, req.ConnectorType)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// List handles GET /waitlist/{id} where id is the station.
func (h *WaitlistHandlers) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.List(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("connector_type"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []models.WaitlistEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// UpdateStatus handles PATCH /waitlist/{id}/status.
func (h *WaitlistHandlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req waitlistStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Remove handles DELETE /waitlist/{id}.
func (h *WaitlistHandlers) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
