package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/service"
)

// StreamServer upgrades a request into a live session feed.
type StreamServer interface {
	Serve(w http.ResponseWriter, r *http.Request, sessionID string) error
}

// SessionHandlers serves the charging session controller.
type SessionHandlers struct {
	svc    *service.SessionService
	stream StreamServer
	logger *zap.Logger
}

// NewSessionHandlers builds handler set. stream may be nil.
func NewSessionHandlers(svc *service.SessionService, stream StreamServer, logger *zap.Logger) *SessionHandlers {
	return &SessionHandlers{svc: svc, stream: stream, logger: logger}
}

type initiateRequest struct {
	UserID        string `json:"user_id"`
	PointID       string `json:"point_id"`
	VehicleID     string `json:"vehicle_id"`
	ReservationID string `json:"reservation_id"`
}

type sessionActionRequest struct {
	SessionID    string `json:"session_id"`
	StartMeterWh *int64 `json:"start_meter_wh"`
	EndMeterWh   *int64 `json:"end_meter_wh"`
	Reason       string `json:"reason"`
}

type meterRequest struct {
	MeterWh    *int64    `json:"meter_wh"`
	PowerKW    *float64  `json:"power_kw"`
	SoC        *float64  `json:"soc"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Initiate handles POST /sessions/initiate.
func (h *SessionHandlers) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.svc.Initiate(r.Context(), service.InitiateInput{
		UserID:        requester(r, req.UserID),
		PointID:       req.PointID,
		VehicleID:     req.VehicleID,
		ReservationID: req.ReservationID,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// Start handles POST /sessions/start.
func (h *SessionHandlers) Start(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req sessionActionRequest) (*models.Session, error) {
		return h.svc.Start(r.Context(), authenticated(r), req.SessionID, req.StartMeterWh)
	})
}

// Pause handles POST /sessions/pause.
func (h *SessionHandlers) Pause(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req sessionActionRequest) (*models.Session, error) {
		return h.svc.Pause(r.Context(), authenticated(r), req.SessionID)
	})
}

// Resume handles POST /sessions/resume.
func (h *SessionHandlers) Resume(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req sessionActionRequest) (*models.Session, error) {
		return h.svc.Resume(r.Context(), authenticated(r), req.SessionID)
	})
}

// Stop handles POST /sessions/stop.
func (h *SessionHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req sessionActionRequest) (*models.Session, error) {
		return h.svc.Stop(r.Context(), authenticated(r), service.StopInput{
			SessionID:  req.SessionID,
			EndMeterWh: req.EndMeterWh,
			Reason:     req.Reason,
		})
	})
}

// Cancel handles POST /sessions/cancel.
func (h *SessionHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req sessionActionRequest) (*models.Session, error) {
		return h.svc.Cancel(r.Context(), authenticated(r), req.SessionID)
	})
}

// Fail handles POST /sessions/fail.
func (h *SessionHandlers) Fail(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(req sessionActionRequest) (*models.Session, error) {
		return h.svc.Fail(r.Context(), authenticated(r), req.SessionID, req.Reason)
	})
}

// Meter handles POST /sessions/{id}/meter.
func (h *SessionHandlers) Meter(w http.ResponseWriter, r *http.Request) {
	var req meterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MeterWh == nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "meter_wh is required")
		return
	}
	reading, err := h.svc.PushMeterReading(r.Context(), authenticated(r), chi.URLParam(r, "id"), service.MeterReadingInput{
		MeterWh:    *req.MeterWh,
		PowerKW:    req.PowerKW,
		SoC:        req.SoC,
		RecordedAt: req.RecordedAt,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, reading)
}

// Get handles GET /sessions/{id}.
func (h *SessionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.Get(r.Context(), authenticated(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Telemetry handles GET /sessions/{id}/telemetry.
func (h *SessionHandlers) Telemetry(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	limit, err := parseIntParam(r, "limit")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	readings, err := h.svc.GetTelemetry(r.Context(), authenticated(r), id, from, to, limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if readings == nil {
		readings = []models.TelemetryReading{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"readings":   readings,
	})
}

// Events handles GET /sessions/{id}/events.
func (h *SessionHandlers) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := h.svc.Events(r.Context(), authenticated(r), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if history == nil {
		history = []models.SessionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"events":     history,
	})
}

// Stream handles GET /sessions/{id}/stream (websocket).
func (h *SessionHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusNotFound, "live stream disabled")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Get(r.Context(), authenticated(r), id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err := h.stream.Serve(w, r, id); err != nil {
		h.logger.Warn("stream upgrade failed", zap.String("session_id", id), zap.Error(err))
	}
}

func (h *SessionHandlers) action(w http.ResponseWriter, r *http.Request, fn func(sessionActionRequest) (*models.Session, error)) {
	var req sessionActionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := fn(req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
