package memstore

import (
	"context"
	"time"

	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/repository"
)

// ReservationStore is the in-memory reservation table.
type ReservationStore struct {
	s *Store
}

// Create inserts a new reservation.
func (r *ReservationStore) Create(_ context.Context, res *models.Reservation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.reservations[res.ID] = *res
	return nil
}

// Get loads a reservation by id.
func (r *ReservationStore) Get(_ context.Context, id string) (*models.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res, ok := r.s.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &res, nil
}

// ListByUser returns the user's reservations, newest start first.
func (r *ReservationStore) ListByUser(_ context.Context, userID string, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 50
	}
	r.s.mu.RLock()
	var out []models.Reservation
	for _, res := range r.s.reservations {
		if res.UserID == userID {
			out = append(out, res)
		}
	}
	r.s.mu.RUnlock()

	sortReservations(out, func(a, b models.Reservation) bool { return a.StartTime.After(b.StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountOverlapping counts confirmed reservations on the point that intersect [start, end).
func (r *ReservationStore) CountOverlapping(_ context.Context, pointID string, start, end time.Time, excludeID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	count := 0
	for _, res := range r.s.reservations {
		if res.PointID != pointID || res.Status != models.ReservationConfirmed || res.ID == excludeID {
			continue
		}
		if res.Overlaps(start, end) {
			count++
		}
	}
	return count, nil
}

// Update applies fn to a copy of the reservation and stores it unless fn declines.
func (r *ReservationStore) Update(_ context.Context, id string, fn func(*models.Reservation) error) (*models.Reservation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	next := current
	write, err := applyUpdate(func() error { return fn(&next) })
	if err != nil {
		return nil, err
	}
	if !write {
		return &current, nil
	}
	r.s.reservations[id] = next
	return &next, nil
}

// CancelStale cancels the reservation if it is still confirmed, started before cutoff and has
// no session bound. Otherwise it returns ErrStatusMismatch.
func (r *ReservationStore) CancelStale(_ context.Context, id string, cutoff, now time.Time) (*models.Reservation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, ok := r.s.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if res.Status != models.ReservationConfirmed || !res.StartTime.Before(cutoff) || r.s.hasSession(id, false) {
		return nil, repository.ErrStatusMismatch
	}
	res.Status = models.ReservationCancelled
	res.UpdatedAt = now
	r.s.reservations[id] = res
	return &res, nil
}

// ListStale returns confirmed reservations that started before cutoff and never produced a session.
func (r *ReservationStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 500
	}
	r.s.mu.RLock()
	bound := make(map[string]struct{})
	for _, sess := range r.s.sessions {
		if sess.ReservationID != nil {
			bound[*sess.ReservationID] = struct{}{}
		}
	}
	var out []models.Reservation
	for _, res := range r.s.reservations {
		if res.Status != models.ReservationConfirmed || !res.StartTime.Before(cutoff) {
			continue
		}
		if _, used := bound[res.ID]; used {
			continue
		}
		out = append(out, res)
	}
	r.s.mu.RUnlock()

	sortReservations(out, func(a, b models.Reservation) bool { return a.StartTime.Before(b.StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
