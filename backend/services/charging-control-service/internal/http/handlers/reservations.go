package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/service"
)

// ReservationHandlers serves the reservation ledger.
type ReservationHandlers struct {
	svc              *service.ReservationService
	defaultThreshold time.Duration
	logger           *zap.Logger
}

// NewReservationHandlers builds handler set.
func NewReservationHandlers(svc *service.ReservationService, defaultThreshold time.Duration, logger *zap.Logger) *ReservationHandlers {
	return &ReservationHandlers{svc: svc, defaultThreshold: defaultThreshold, logger: logger}
}

type createReservationRequest struct {
	UserID        string    `json:"user_id"`
	StationID     string    `json:"station_id"`
	PointID       string    `json:"point_id"`
	ConnectorType string    `json:"connector_type"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

type updateReservationRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type expireRequest struct {
	ThresholdMinutes int `json:"threshold_minutes"`
}

// Check handles GET /reservations/check.
func (h *ReservationHandlers) Check(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeParam(r, "start_time")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	end, err := parseTimeParam(r, "end_time")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	pointID := r.URL.Query().Get("point_id")
	available, err := h.svc.CheckAvailability(r.Context(), pointID, start, end)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"point_id":   pointID,
		"start_time": start.UTC(),
		"end_time":   end.UTC(),
		"available":  available,
	})
}

// Create handles POST /reservations.
func (h *ReservationHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Create(r.Context(), service.CreateReservationInput{
		UserID:        requester(r, req.UserID),
		StationID:     req.StationID,
		PointID:       req.PointID,
		ConnectorType: req.ConnectorType,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"reservation_id": res.ID,
		"status":         res.Status,
		"expires_at":     res.ExpiresAt,
		"reservation":    res,
	})
}

// ListMine handles GET /reservations.
func (h *ReservationHandlers) ListMine(w http.ResponseWriter, r *http.Request) {
	userID := requester(r, r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	limit, err := parseIntParam(r, "limit")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	list, err := h.svc.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []models.Reservation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservations": list})
}

// Get handles GET /reservations/{id}.
func (h *ReservationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	res, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Update handles PUT /reservations/{id}.
func (h *ReservationHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req updateReservationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, ok := h.load(w, r); !ok {
		return
	}
	res, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), req.StartTime, req.EndTime)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Cancel handles DELETE /reservations/{id}.
func (h *ReservationHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.load(w, r); !ok {
		return
	}
	res, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reservation_id": res.ID,
		"status":         res.Status,
		"refund_policy":  "partial",
	})
}

// Expire handles POST /reservations/expire.
func (h *ReservationHandlers) Expire(w http.ResponseWriter, r *http.Request) {
	var req expireRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}
	if req.ThresholdMinutes < 0 {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "threshold_minutes must not be negative")
		return
	}
	threshold := h.defaultThreshold
	if req.ThresholdMinutes > 0 {
		threshold = time.Duration(req.ThresholdMinutes) * time.Minute
	}
	ids, err := h.svc.AutoExpireStale(r.Context(), threshold)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cancelled": ids,
		"count":     len(ids),
	})
}

// load fetches the path reservation and hides reservations of other requesters.
func (h *ReservationHandlers) load(w http.ResponseWriter, r *http.Request) (*models.Reservation, bool) {
	res, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return nil, false
	}
	if userID := authenticated(r); userID != "" && res.UserID != userID {
		writeErrorCode(w, http.StatusNotFound, "not_found", "not found")
		return nil, false
	}
	return res, true
}
