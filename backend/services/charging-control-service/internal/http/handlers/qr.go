package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"evcsms/backend/services/charging-control-service/internal/service"
)

const qrImageSize = 256

// QRHandlers serves access token issue, validation and check-in.
type QRHandlers struct {
	tokens       *service.TokenService
	reservations *service.ReservationService
	sessions     *service.SessionService
	logger       *zap.Logger
}

// NewQRHandlers builds handler set.
func NewQRHandlers(tokens *service.TokenService, reservations *service.ReservationService, sessions *service.SessionService, logger *zap.Logger) *QRHandlers {
	return &QRHandlers{tokens: tokens, reservations: reservations, sessions: sessions, logger: logger}
}

type generateQRRequest struct {
	ReservationID string `json:"reservation_id"`
	TTLSeconds    int    `json:"ttl_seconds"`
}

type checkInRequest struct {
	UserID    string `json:"user_id"`
	VehicleID string `json:"vehicle_id"`
}

// Generate handles POST /qr/generate.
func (h *QRHandlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateQRRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if userID := authenticated(r); userID != "" && req.ReservationID != "" {
		res, err := h.reservations.Get(r.Context(), req.ReservationID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		if res.UserID != userID {
			writeErrorCode(w, http.StatusNotFound, "not_found", "not found")
			return
		}
	}
	token, err := h.tokens.Issue(r.Context(), req.ReservationID, req.TTLSeconds)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

// Validate handles GET /qr/{id}/validate. Unknown tokens are reported as invalid.
func (h *QRHandlers) Validate(w http.ResponseWriter, r *http.Request) {
	result, err := h.tokens.Validate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Image handles GET /qr/{id}/image and renders the check-in URL as PNG.
func (h *QRHandlers) Image(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := h.tokens.Check(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !result.Valid {
		writeErrorCode(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	png, err := qrcode.Encode(h.tokens.URLFor(id), qrcode.Medium, qrImageSize)
	if err != nil {
		h.logger.Error("qr encode failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// CheckIn handles POST /qr/{id}/check-in: the token is consumed and a session initiated.
func (h *QRHandlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.sessions.CheckIn(r.Context(), chi.URLParam(r, "id"), requester(r, req.UserID), req.VehicleID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}
