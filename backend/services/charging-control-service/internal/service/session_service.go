package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evcsms/backend/services/charging-control-service/internal/clients"
	"evcsms/backend/services/charging-control-service/internal/events"
	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/pricing"
	"evcsms/backend/services/charging-control-service/internal/repository"
)

// SessionConfig tunes the session controller.
type SessionConfig struct {
	DefaultTelemetryLimit int
	MaxTelemetryLimit     int
	Now                   func() time.Time
}

// ReservationBinder is the part of the ledger the session controller relies on.
type ReservationBinder interface {
	Get(ctx context.Context, id string) (*models.Reservation, error)
	Complete(ctx context.Context, id string) error
}

// TokenRedeemer is the part of the token issuer used at check-in.
type TokenRedeemer interface {
	Validate(ctx context.Context, tokenID string) (Validation, error)
	MarkUsed(ctx context.Context, tokenID string) (*models.AccessToken, error)
}

// InitiateInput describes a new session. ReservationID and VehicleID are optional.
type InitiateInput struct {
	UserID        string
	PointID       string
	VehicleID     string
	ReservationID string
}

// MeterReadingInput is one telemetry sample. A zero RecordedAt means now.
type MeterReadingInput struct {
	MeterWh    int64
	PowerKW    *float64
	SoC        *float64
	RecordedAt time.Time
}

// StopInput finishes a session. Without EndMeterWh the latest telemetry reading is used.
type StopInput struct {
	SessionID  string
	EndMeterWh *int64
	Reason     string
}

// SessionService drives the charging session state machine.
// UserID arguments scope access to the session owner; an empty UserID skips the check.
type SessionService struct {
	sessions     SessionStore
	telemetry    TelemetryStore
	reservations ReservationBinder
	tokens       TokenRedeemer
	rates        RateSource
	out          Outbound
	cfg          SessionConfig
	logger       *zap.Logger
}

// NewSessionService builds service. reservations, tokens and rates may be nil.
func NewSessionService(
	sessions SessionStore,
	telemetry TelemetryStore,
	reservations ReservationBinder,
	tokens TokenRedeemer,
	rates RateSource,
	out Outbound,
	cfg SessionConfig,
	logger *zap.Logger,
) *SessionService {
	if cfg.DefaultTelemetryLimit <= 0 {
		cfg.DefaultTelemetryLimit = 100
	}
	if cfg.MaxTelemetryLimit <= 0 {
		cfg.MaxTelemetryLimit = 5000
	}
	if cfg.DefaultTelemetryLimit > cfg.MaxTelemetryLimit {
		cfg.DefaultTelemetryLimit = cfg.MaxTelemetryLimit
	}
	if cfg.Now == nil {
		cfg.Now = utcNow
	}
	return &SessionService{
		sessions:     sessions,
		telemetry:    telemetry,
		reservations: reservations,
		tokens:       tokens,
		rates:        rates,
		out:          out,
		cfg:          cfg,
		logger:       logger,
	}
}

// Initiate creates a session in the initiated state.
func (s *SessionService) Initiate(ctx context.Context, in InitiateInput) (*models.Session, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, validationf("user_id is required")
	}
	if strings.TrimSpace(in.PointID) == "" {
		return nil, validationf("point_id is required")
	}
	if in.ReservationID != "" {
		if err := s.checkReservation(ctx, in); err != nil {
			return nil, err
		}
	}

	now := s.cfg.Now()
	sess := &models.Session{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		PointID:   in.PointID,
		Status:    models.SessionInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.ReservationID != "" {
		sess.ReservationID = &in.ReservationID
	}
	if in.VehicleID != "" {
		sess.VehicleID = &in.VehicleID
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, fmt.Errorf("%w: reservation %s already has a live session", ErrInvalidSessionState, in.ReservationID)
		case errors.Is(err, repository.ErrStatusMismatch):
			return nil, fmt.Errorf("%w: reservation %s is no longer confirmed", ErrInvalidTransition, in.ReservationID)
		}
		return nil, storeErr(err, "reservation")
	}

	s.record(ctx, sess, events.SessionInitiated, "")
	return sess, nil
}

// Start moves an initiated session to charging.
func (s *SessionService) Start(ctx context.Context, userID, sessionID string, startMeterWh *int64) (*models.Session, error) {
	if startMeterWh != nil && *startMeterWh < 0 {
		return nil, validationf("start_meter_wh must not be negative")
	}
	now := s.cfg.Now()
	return s.transition(ctx, userID, sessionID, events.SessionStarted, "", func(sess *models.Session) error {
		if sess.Status != models.SessionInitiated {
			return stateErr(sess.Status, "start")
		}
		sess.Status = models.SessionCharging
		sess.StartedAt = &now
		if startMeterWh != nil {
			v := *startMeterWh
			sess.StartMeterWh = &v
		}
		sess.UpdatedAt = now
		return nil
	})
}

// Pause moves a charging session to paused.
func (s *SessionService) Pause(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	now := s.cfg.Now()
	return s.transition(ctx, userID, sessionID, events.SessionPaused, "", func(sess *models.Session) error {
		if sess.Status != models.SessionCharging {
			return stateErr(sess.Status, "pause")
		}
		sess.Status = models.SessionPaused
		sess.UpdatedAt = now
		return nil
	})
}

// Resume moves a paused session back to charging.
func (s *SessionService) Resume(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	now := s.cfg.Now()
	return s.transition(ctx, userID, sessionID, events.SessionResumed, "", func(sess *models.Session) error {
		if sess.Status != models.SessionPaused {
			return stateErr(sess.Status, "resume")
		}
		sess.Status = models.SessionCharging
		sess.UpdatedAt = now
		return nil
	})
}

// Cancel abandons a session that never started charging.
func (s *SessionService) Cancel(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	now := s.cfg.Now()
	return s.transition(ctx, userID, sessionID, events.SessionCancelled, "", func(sess *models.Session) error {
		if sess.Status != models.SessionInitiated {
			return stateErr(sess.Status, "cancel")
		}
		sess.Status = models.SessionCancelled
		sess.EndedAt = &now
		sess.UpdatedAt = now
		return nil
	})
}

// Fail marks a non-terminal session as failed.
func (s *SessionService) Fail(ctx context.Context, userID, sessionID, reason string) (*models.Session, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "unspecified"
	}
	now := s.cfg.Now()
	return s.transition(ctx, userID, sessionID, events.SessionFailed, reason, func(sess *models.Session) error {
		if sess.Status.Terminal() {
			return stateErr(sess.Status, "fail")
		}
		sess.Status = models.SessionFailed
		sess.FailureReason = reason
		sess.EndedAt = &now
		sess.UpdatedAt = now
		return nil
	})
}

// Stop finishes a charging or paused session and derives energy and cost.
func (s *SessionService) Stop(ctx context.Context, userID string, in StopInput) (*models.Session, error) {
	if in.EndMeterWh != nil && *in.EndMeterWh < 0 {
		return nil, validationf("end_meter_wh must not be negative")
	}
	current, err := s.Get(ctx, userID, in.SessionID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.SessionCharging && current.Status != models.SessionPaused {
		return nil, stateErr(current.Status, "stop")
	}

	endMeter := in.EndMeterWh
	if endMeter != nil && current.StartMeterWh != nil && *endMeter < *current.StartMeterWh {
		return nil, validationf("end_meter_wh %d is below start_meter_wh %d", *endMeter, *current.StartMeterWh)
	}
	if endMeter == nil {
		endMeter = s.lastMeter(ctx, current)
	}
	rate, rateErr := s.rateFor(ctx, current.PointID)

	reason := in.Reason
	if strings.TrimSpace(reason) == "" {
		reason = "user_request"
	}
	now := s.cfg.Now()
	sess, err := s.transition(ctx, userID, in.SessionID, events.SessionFinished, reason, func(sess *models.Session) error {
		if sess.Status != models.SessionCharging && sess.Status != models.SessionPaused {
			return stateErr(sess.Status, "stop")
		}
		sess.Status = models.SessionFinished
		sess.EndedAt = &now
		sess.StopReason = reason
		sess.UpdatedAt = now
		if endMeter != nil {
			v := *endMeter
			sess.EndMeterWh = &v
		}
		energy := energyKWh(sess.StartMeterWh, sess.EndMeterWh)
		if energy == nil {
			return nil
		}
		sess.EnergyKWh = energy
		if rateErr == nil {
			minutes := 0.0
			if sess.StartedAt != nil {
				minutes = now.Sub(*sess.StartedAt).Minutes()
			}
			cost := computeCost(*energy, minutes, rate.PerKWh, rate.PerMinute)
			sess.Cost = &cost
			sess.Currency = rate.Currency
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sess.ReservationID != nil && s.reservations != nil {
		if err := s.reservations.Complete(ctx, *sess.ReservationID); err != nil {
			s.logger.Warn("failed to complete reservation",
				zap.String("session_id", sess.ID),
				zap.String("reservation_id", *sess.ReservationID),
				zap.Error(err),
			)
		}
	}

	message := "Your charging session has finished."
	if sess.EnergyKWh != nil && sess.Cost != nil {
		message = fmt.Sprintf("Your charging session has finished: %.3f kWh, %.2f %s.", *sess.EnergyKWh, *sess.Cost, sess.Currency)
	}
	s.out.notify(ctx, clients.Notification{
		UserID:  sess.UserID,
		Type:    "session_finished",
		Title:   "Charging finished",
		Message: message,
		Data:    map[string]interface{}{"session_id": sess.ID},
	})
	return sess, nil
}

// PushMeterReading appends a telemetry sample to a charging or paused session.
func (s *SessionService) PushMeterReading(ctx context.Context, userID, sessionID string, in MeterReadingInput) (*models.TelemetryReading, error) {
	if in.MeterWh < 0 {
		return nil, validationf("meter_wh must not be negative")
	}
	if in.SoC != nil && (*in.SoC < 0 || *in.SoC > 100) {
		return nil, validationf("soc must be between 0 and 100")
	}
	if in.PowerKW != nil && *in.PowerKW < 0 {
		return nil, validationf("power_kw must not be negative")
	}

	sess, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionCharging && sess.Status != models.SessionPaused {
		return nil, stateErr(sess.Status, "accept meter readings")
	}

	now := s.cfg.Now()
	recordedAt := in.RecordedAt.UTC()
	if in.RecordedAt.IsZero() {
		recordedAt = now
	}
	reading := &models.TelemetryReading{
		SessionID:  sess.ID,
		RecordedAt: recordedAt,
		MeterWh:    in.MeterWh,
		PowerKW:    in.PowerKW,
		SoC:        in.SoC,
		CreatedAt:  now,
	}
	if err := s.telemetry.Insert(ctx, reading); err != nil {
		return nil, err
	}
	s.out.broadcast(sess.ID, "telemetry", reading)
	return reading, nil
}

// Get returns a session owned by userID.
func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, validationf("session_id is required")
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err, "session")
	}
	if !ownedBy(sess, userID) {
		return nil, fmt.Errorf("%w: session", ErrNotFound)
	}
	return sess, nil
}

// GetTelemetry returns readings in ascending time order. The page size is capped.
func (s *SessionService) GetTelemetry(ctx context.Context, userID, sessionID string, from, to time.Time, limit int) ([]models.TelemetryReading, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, validationf("to must not be before from")
	}
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.telemetry.List(ctx, sessionID, models.TelemetryQuery{
		From:  from,
		To:    to,
		Limit: s.pageSize(limit),
	})
}

// Events returns the recorded transition history of a session.
func (s *SessionService) Events(ctx context.Context, userID, sessionID string) ([]models.SessionEvent, error) {
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.sessions.ListEvents(ctx, sessionID)
}

// CheckIn redeems an access token and initiates a session for its reservation.
func (s *SessionService) CheckIn(ctx context.Context, tokenID, userID, vehicleID string) (*models.Session, error) {
	if s.tokens == nil || s.reservations == nil {
		return nil, ErrTokenInvalid
	}
	v, err := s.tokens.Validate(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, ErrTokenInvalid
	}
	res, err := s.reservations.Get(ctx, v.ReservationID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	if userID != "" && res.UserID != userID {
		return nil, ErrTokenInvalid
	}
	in := InitiateInput{
		UserID:        res.UserID,
		PointID:       res.PointID,
		VehicleID:     vehicleID,
		ReservationID: res.ID,
	}
	if err := s.checkReservation(ctx, in); err != nil {
		return nil, err
	}
	if _, err := s.tokens.MarkUsed(ctx, tokenID); err != nil {
		return nil, err
	}
	return s.Initiate(ctx, in)
}

func (s *SessionService) checkReservation(ctx context.Context, in InitiateInput) error {
	if s.reservations == nil {
		return validationf("reservations are not available")
	}
	res, err := s.reservations.Get(ctx, in.ReservationID)
	if err != nil {
		return err
	}
	if res.UserID != in.UserID {
		return fmt.Errorf("%w: reservation", ErrNotFound)
	}
	if res.PointID != in.PointID {
		return validationf("reservation %s is for point %s", res.ID, res.PointID)
	}
	if res.Status != models.ReservationConfirmed {
		return fmt.Errorf("%w: reservation is %s", ErrInvalidTransition, res.Status)
	}
	existing, err := s.sessions.FindByReservation(ctx, res.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if existing != nil && !existing.Status.Terminal() {
		return fmt.Errorf("%w: reservation already has session %s", ErrInvalidSessionState, existing.ID)
	}
	return nil
}

// transition applies fn atomically and, if the session changed, records the transition.
func (s *SessionService) transition(
	ctx context.Context,
	userID, sessionID, eventType, detail string,
	fn func(*models.Session) error,
) (*models.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, validationf("session_id is required")
	}
	sess, err := s.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		if !ownedBy(sess, userID) {
			return repository.ErrNotFound
		}
		return fn(sess)
	})
	if err != nil {
		return nil, storeErr(err, "session")
	}
	s.record(ctx, sess, eventType, detail)
	return sess, nil
}

func (s *SessionService) record(ctx context.Context, sess *models.Session, eventType, detail string) {
	entry := &models.SessionEvent{
		SessionID:  sess.ID,
		Type:       eventType,
		Status:     sess.Status,
		Detail:     detail,
		OccurredAt: sess.UpdatedAt,
	}
	if err := s.sessions.AppendEvent(ctx, entry); err != nil {
		s.logger.Warn("failed to record session event",
			zap.String("session_id", sess.ID),
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
	s.out.Metrics.SessionTransition(string(sess.Status))
	s.out.emit(ctx, s.logger, eventType, sess.ID, sessionPayload(sess, detail))
	s.out.broadcast(sess.ID, "status", sess)
}

func (s *SessionService) lastMeter(ctx context.Context, sess *models.Session) *int64 {
	last, err := s.telemetry.Last(ctx, sess.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("failed to load last meter reading", zap.String("session_id", sess.ID), zap.Error(err))
		}
		return nil
	}
	if sess.StartMeterWh != nil && last.MeterWh < *sess.StartMeterWh {
		return nil
	}
	v := last.MeterWh
	return &v
}

func (s *SessionService) rateFor(ctx context.Context, pointID string) (pricing.Rate, error) {
	if s.rates == nil {
		return pricing.Rate{}, pricing.ErrNoTariff
	}
	rate, err := s.rates.RateForPoint(ctx, pointID)
	if err != nil {
		s.logger.Warn("failed to resolve rate, cost left empty", zap.String("point_id", pointID), zap.Error(err))
		return pricing.Rate{}, err
	}
	return rate, nil
}

func (s *SessionService) pageSize(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultTelemetryLimit
	}
	if limit > s.cfg.MaxTelemetryLimit {
		return s.cfg.MaxTelemetryLimit
	}
	return limit
}

func ownedBy(sess *models.Session, userID string) bool {
	return userID == "" || sess.UserID == userID
}

func stateErr(status models.SessionStatus, op string) error {
	return fmt.Errorf("%w: cannot %s a session that is %s", ErrInvalidSessionState, op, status)
}

// energyKWh derives delivered energy from meter readings in Wh.
func energyKWh(start, end *int64) *float64 {
	if start == nil || end == nil {
		return nil
	}
	kwh := math.Max(0, float64(*end-*start)/1000)
	return &kwh
}

func computeCost(energyKWh, minutes, perKWh, perMinute float64) float64 {
	cost := energyKWh * perKWh
	if perMinute > 0 && minutes > 0 {
		cost += minutes * perMinute
	}
	return math.Round(cost*100) / 100
}

func sessionPayload(sess *models.Session, detail string) map[string]interface{} {
	payload := map[string]interface{}{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
		"point_id":   sess.PointID,
		"status":     sess.Status,
	}
	if sess.ReservationID != nil {
		payload["reservation_id"] = *sess.ReservationID
	}
	if sess.VehicleID != nil {
		payload["vehicle_id"] = *sess.VehicleID
	}
	if sess.StartMeterWh != nil {
		payload["start_meter_wh"] = *sess.StartMeterWh
	}
	if sess.StartedAt != nil {
		payload["started_at"] = *sess.StartedAt
	}
	if sess.EndedAt != nil {
		payload["ended_at"] = *sess.EndedAt
	}
	if sess.Status == models.SessionFinished {
		payload["end_meter_wh"] = sess.EndMeterWh
		payload["energy_kwh"] = sess.EnergyKWh
		payload["cost"] = sess.Cost
		payload["currency"] = sess.Currency
	}
	if detail != "" {
		payload["reason"] = detail
	}
	return payload
}
