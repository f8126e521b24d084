package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"evcsms/backend/services/charging-control-service/internal/http/middleware"
	"evcsms/backend/services/charging-control-service/internal/service"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeErrorCode(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, service.ErrResourceBusy):
		w.Header().Set("Retry-After", "1")
		writeErrorCode(w, http.StatusServiceUnavailable, "resource_busy", "resource busy, try again")
	case errors.Is(err, service.ErrSlotUnavailable):
		writeErrorCode(w, http.StatusConflict, "slot_unavailable", "slot unavailable")
	case errors.Is(err, service.ErrReservationConflict):
		writeErrorCode(w, http.StatusConflict, "reservation_conflict", "conflicts with another reservation")
	case errors.Is(err, service.ErrReservationStarted):
		writeErrorCode(w, http.StatusConflict, "reservation_started", "reservation has already started")
	case errors.Is(err, service.ErrInvalidTransition):
		writeErrorCode(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, service.ErrInvalidSessionState):
		writeErrorCode(w, http.StatusConflict, "invalid_session_state", err.Error())
	case errors.Is(err, service.ErrTokenInvalid):
		writeErrorCode(w, http.StatusConflict, "token_invalid", "token is not valid")
	default:
		logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "validation_error", "invalid json")
		return false
	}
	return true
}

// requester prefers the authenticated identity over a client supplied id.
func requester(r *http.Request, fallback string) string {
	if id, ok := middleware.UserIDFromContext(r.Context()); ok {
		return id
	}
	return strings.TrimSpace(fallback)
}

func authenticated(r *http.Request) string {
	id, _ := middleware.UserIDFromContext(r.Context())
	return id
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(name + " must be an RFC3339 timestamp")
	}
	return t, nil
}

func parseIntParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}
