package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evcsms/backend/services/charging-control-service/internal/clients"
	"evcsms/backend/services/charging-control-service/internal/events"
	"evcsms/backend/services/charging-control-service/internal/lock"
	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/repository"
)

const staleBatchSize = 500

// ReservationConfig tunes the ledger.
type ReservationConfig struct {
	LockTimeout     time.Duration
	RetryBackoff    time.Duration
	GraceWindow     time.Duration
	AutoExpireAfter time.Duration
	Now             func() time.Time
}

// ReservationService is the reservation ledger. Conflict-sensitive writes run under the
// point lock so overlapping bookings of one point are strictly serialized.
type ReservationService struct {
	store    ReservationStore
	sessions SessionStore
	locker   lock.Locker
	out      Outbound
	cfg      ReservationConfig
	logger   *zap.Logger
}

// CreateReservationInput describes a booking request.
type CreateReservationInput struct {
	UserID        string
	StationID     string
	PointID       string
	ConnectorType string
	StartTime     time.Time
	EndTime       time.Time
}

// NewReservationService builds service.
func NewReservationService(
	store ReservationStore,
	sessions SessionStore,
	locker lock.Locker,
	out Outbound,
	cfg ReservationConfig,
	logger *zap.Logger,
) *ReservationService {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = 5 * time.Minute
	}
	if cfg.AutoExpireAfter <= 0 {
		cfg.AutoExpireAfter = 20 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = utcNow
	}
	return &ReservationService{
		store:    store,
		sessions: sessions,
		locker:   locker,
		out:      out,
		cfg:      cfg,
		logger:   logger,
	}
}

// CheckAvailability reports whether no confirmed reservation on the point overlaps [start, end).
func (s *ReservationService) CheckAvailability(ctx context.Context, pointID string, start, end time.Time) (bool, error) {
	if strings.TrimSpace(pointID) == "" {
		return false, validationf("point_id is required")
	}
	if err := validateRange(start, end); err != nil {
		return false, err
	}
	n, err := s.store.CountOverlapping(ctx, pointID, start.UTC(), end.UTC(), "")
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Create books the point for the requested range.
func (s *ReservationService) Create(ctx context.Context, in CreateReservationInput) (*models.Reservation, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	now := s.cfg.Now()
	start, end := in.StartTime.UTC(), in.EndTime.UTC()
	if !end.After(now) {
		return nil, validationf("reservation window has already passed")
	}

	res := &models.Reservation{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		StationID:     in.StationID,
		PointID:       in.PointID,
		ConnectorType: in.ConnectorType,
		StartTime:     start,
		EndTime:       end,
		Status:        models.ReservationConfirmed,
		ExpiresAt:     start.Add(-s.cfg.GraceWindow),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.withPointLock(ctx, in.PointID, func(ctx context.Context) error {
		n, err := s.store.CountOverlapping(ctx, in.PointID, start, end, "")
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrSlotUnavailable
		}
		return s.store.Create(ctx, res)
	})
	if err != nil {
		s.out.Metrics.Reservation("create", resultLabel(err))
		return nil, err
	}
	s.out.Metrics.Reservation("create", "ok")

	s.out.emit(ctx, s.logger, events.ReservationCreated, res.ID, reservationPayload(res))
	s.out.notify(ctx, clients.Notification{
		UserID:  res.UserID,
		Type:    "reservation_created",
		Title:   "Reservation confirmed",
		Message: fmt.Sprintf("Point %s is reserved from %s to %s.", res.PointID, res.StartTime.Format(time.RFC3339), res.EndTime.Format(time.RFC3339)),
		Data:    map[string]interface{}{"reservation_id": res.ID},
	})
	return res, nil
}

// Get returns a reservation by id.
func (s *ReservationService) Get(ctx context.Context, id string) (*models.Reservation, error) {
	res, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err, "reservation")
	}
	return res, nil
}

// ListByUser returns the user's reservations, newest first.
func (s *ReservationService) ListByUser(ctx context.Context, userID string, limit int) ([]models.Reservation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, validationf("user id is required")
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// Update reschedules a confirmed reservation. A reservation whose session has already
// left initiated may only be moved to a start that is still in the future.
func (s *ReservationService) Update(ctx context.Context, id string, start, end time.Time) (*models.Reservation, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	start, end = start.UTC(), end.UTC()
	now := s.cfg.Now()
	if !end.After(now) {
		return nil, validationf("reservation window has already passed")
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.ReservationConfirmed {
		return nil, fmt.Errorf("%w: reservation is %s", ErrInvalidTransition, current.Status)
	}
	started, err := s.hasStarted(ctx, id)
	if err != nil {
		return nil, err
	}
	if started && !start.After(now) {
		return nil, ErrReservationStarted
	}

	var updated *models.Reservation
	err = s.withPointLock(ctx, current.PointID, func(ctx context.Context) error {
		n, err := s.store.CountOverlapping(ctx, current.PointID, start, end, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrReservationConflict
		}
		updated, err = s.store.Update(ctx, id, func(r *models.Reservation) error {
			if r.Status != models.ReservationConfirmed {
				return fmt.Errorf("%w: reservation is %s", ErrInvalidTransition, r.Status)
			}
			r.StartTime = start
			r.EndTime = end
			r.ExpiresAt = start.Add(-s.cfg.GraceWindow)
			r.UpdatedAt = now
			return nil
		})
		return storeErr(err, "reservation")
	})
	if err != nil {
		s.out.Metrics.Reservation("update", resultLabel(err))
		return nil, err
	}
	s.out.Metrics.Reservation("update", "ok")

	payload := reservationPayload(updated)
	payload["previous_start_time"] = current.StartTime
	payload["previous_end_time"] = current.EndTime
	s.out.emit(ctx, s.logger, events.ReservationUpdated, updated.ID, payload)
	return updated, nil
}

// Cancel cancels a reservation. Cancelling an already cancelled reservation is a no-op.
func (s *ReservationService) Cancel(ctx context.Context, id string) (*models.Reservation, error) {
	now := s.cfg.Now()
	changed := false
	res, err := s.store.Update(ctx, id, func(r *models.Reservation) error {
		switch r.Status {
		case models.ReservationCancelled:
			return repository.ErrNoChange
		case models.ReservationConfirmed, models.ReservationPending:
			r.Status = models.ReservationCancelled
			r.UpdatedAt = now
			changed = true
			return nil
		default:
			return fmt.Errorf("%w: reservation is %s", ErrInvalidTransition, r.Status)
		}
	})
	if err != nil {
		return nil, storeErr(err, "reservation")
	}
	if !changed {
		return res, nil
	}
	s.out.Metrics.Reservation("cancel", "ok")

	s.out.emit(ctx, s.logger, events.ReservationCancelled, res.ID, reservationPayload(res))
	s.out.notify(ctx, clients.Notification{
		UserID:  res.UserID,
		Type:    "reservation_cancelled",
		Title:   "Reservation cancelled",
		Message: fmt.Sprintf("Your reservation on point %s was cancelled.", res.PointID),
		Data:    map[string]interface{}{"reservation_id": res.ID},
	})
	return res, nil
}

// Complete marks a confirmed reservation as completed once its session finished.
func (s *ReservationService) Complete(ctx context.Context, id string) error {
	now := s.cfg.Now()
	_, err := s.store.Update(ctx, id, func(r *models.Reservation) error {
		if r.Status != models.ReservationConfirmed {
			return repository.ErrNoChange
		}
		r.Status = models.ReservationCompleted
		r.UpdatedAt = now
		return nil
	})
	return storeErr(err, "reservation")
}

// AutoExpireStale cancels confirmed reservations that started more than threshold ago and
// never produced a session. It returns the ids it cancelled; concurrent runs never cancel
// the same reservation twice.
func (s *ReservationService) AutoExpireStale(ctx context.Context, threshold time.Duration) ([]string, error) {
	if threshold <= 0 {
		threshold = s.cfg.AutoExpireAfter
	}
	now := s.cfg.Now()
	cutoff := now.Add(-threshold)

	stale, err := s.store.ListStale(ctx, cutoff, staleBatchSize)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(stale))
	for _, candidate := range stale {
		res, err := s.store.CancelStale(ctx, candidate.ID, cutoff, now)
		if errors.Is(err, repository.ErrStatusMismatch) || errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("failed to auto-cancel reservation", zap.String("reservation_id", candidate.ID), zap.Error(err))
			continue
		}
		ids = append(ids, res.ID)

		payload := reservationPayload(res)
		payload["reason"] = "no_show"
		payload["threshold_minutes"] = int(threshold / time.Minute)
		s.out.emit(ctx, s.logger, events.ReservationAutoCancelled, res.ID, payload)
		s.out.notify(ctx, clients.Notification{
			UserID:  res.UserID,
			Type:    "reservation_auto_cancelled",
			Title:   "Reservation expired",
			Message: fmt.Sprintf("Your reservation on point %s was cancelled because charging did not start within %d minutes.", res.PointID, int(threshold/time.Minute)),
			Data:    map[string]interface{}{"reservation_id": res.ID},
		})
	}
	if len(ids) > 0 {
		s.out.Metrics.Reservation("auto_cancel", "ok")
		s.logger.Info("auto-cancelled stale reservations", zap.Int("count", len(ids)))
	}
	return ids, nil
}

func (s *ReservationService) hasStarted(ctx context.Context, reservationID string) (bool, error) {
	if s.sessions == nil {
		return false, nil
	}
	sess, err := s.sessions.FindByReservation(ctx, reservationID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sess.Status != models.SessionInitiated, nil
}

// withPointLock runs fn under the point lock, retrying acquisition once after a backoff.
func (s *ReservationService) withPointLock(ctx context.Context, pointID string, fn func(ctx context.Context) error) error {
	key := "point:" + pointID
	err := s.locker.WithLock(ctx, key, s.cfg.LockTimeout, fn)
	if errors.Is(err, lock.ErrBusy) {
		timer := time.NewTimer(s.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = s.locker.WithLock(ctx, key, s.cfg.LockTimeout, fn)
	}
	if errors.Is(err, lock.ErrBusy) {
		return fmt.Errorf("%w: point %s is locked", ErrResourceBusy, pointID)
	}
	return err
}

func validateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return validationf("start_time and end_time are required")
	}
	if !end.After(start) {
		return validationf("end_time must be after start_time")
	}
	return nil
}

func validateCreate(in CreateReservationInput) error {
	switch {
	case strings.TrimSpace(in.UserID) == "":
		return validationf("user_id is required")
	case strings.TrimSpace(in.StationID) == "":
		return validationf("station_id is required")
	case strings.TrimSpace(in.PointID) == "":
		return validationf("point_id is required")
	case strings.TrimSpace(in.ConnectorType) == "":
		return validationf("connector_type is required")
	}
	return validateRange(in.StartTime, in.EndTime)
}

func reservationPayload(r *models.Reservation) map[string]interface{} {
	return map[string]interface{}{
		"reservation_id": r.ID,
		"user_id":        r.UserID,
		"station_id":     r.StationID,
		"point_id":       r.PointID,
		"connector_type": r.ConnectorType,
		"start_time":     r.StartTime,
		"end_time":       r.EndTime,
		"status":         r.Status,
		"expires_at":     r.ExpiresAt,
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrReservationConflict):
		return "conflict"
	case errors.Is(err, ErrResourceBusy):
		return "busy"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidTransition):
		return "rejected"
	default:
		return "error"
	}
}
