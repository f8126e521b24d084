package memstore

import (
	"context"
	"sort"
	"time"

	"evcsms/backend/services/charging-control-service/internal/models"
	"evcsms/backend/services/charging-control-service/internal/repository"
)

// SessionStore is the in-memory session table with its history.
type SessionStore struct {
	s *Store
}

// Create inserts a session. A session bound to a reservation needs that reservation confirmed
// and free of other live sessions.
func (ss *SessionStore) Create(_ context.Context, sess *models.Session) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	if sess.ReservationID != nil {
		res, ok := ss.s.reservations[*sess.ReservationID]
		if !ok {
			return repository.ErrNotFound
		}
		if res.Status != models.ReservationConfirmed {
			return repository.ErrStatusMismatch
		}
		if ss.s.hasSession(res.ID, true) {
			return repository.ErrDuplicate
		}
	}
	ss.s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get loads a session by id.
func (ss *SessionStore) Get(_ context.Context, id string) (*models.Session, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	sess, ok := ss.s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sess.Clone(), nil
}

// FindByReservation returns the most recent session bound to the reservation.
func (ss *SessionStore) FindByReservation(_ context.Context, reservationID string) (*models.Session, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	var found *models.Session
	for _, sess := range ss.s.sessions {
		if sess.ReservationID == nil || *sess.ReservationID != reservationID {
			continue
		}
		if found == nil || sess.CreatedAt.After(found.CreatedAt) {
			found = sess
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found.Clone(), nil
}

// Update applies fn to a copy of the session and stores it unless fn declines.
func (ss *SessionStore) Update(_ context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	current, ok := ss.s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	next := current.Clone()
	write, err := applyUpdate(func() error { return fn(next) })
	if err != nil {
		return nil, err
	}
	if !write {
		return current.Clone(), nil
	}
	ss.s.sessions[id] = next.Clone()
	return next, nil
}

// AppendEvent records a transition in the session history.
func (ss *SessionStore) AppendEvent(_ context.Context, e *models.SessionEvent) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	e.ID = ss.s.id()
	ss.s.events[e.SessionID] = append(ss.s.events[e.SessionID], *e)
	return nil
}

// ListEvents returns the session history in chronological order.
func (ss *SessionStore) ListEvents(_ context.Context, sessionID string) ([]models.SessionEvent, error) {
	ss.s.mu.RLock()
	out := append([]models.SessionEvent(nil), ss.s.events[sessionID]...)
	ss.s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// TelemetryStore is the in-memory telemetry table.
type TelemetryStore struct {
	s *Store
}

// Insert appends a reading.
func (ts *TelemetryStore) Insert(_ context.Context, reading *models.TelemetryReading) error {
	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()
	reading.ID = ts.s.id()
	reading.CreatedAt = time.Now().UTC()
	ts.s.telemetry[reading.SessionID] = append(ts.s.telemetry[reading.SessionID], *reading)
	return nil
}

// List returns readings in ascending time order within the query window.
func (ts *TelemetryStore) List(_ context.Context, sessionID string, q models.TelemetryQuery) ([]models.TelemetryReading, error) {
	ts.s.mu.RLock()
	all := append([]models.TelemetryReading(nil), ts.s.telemetry[sessionID]...)
	ts.s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].RecordedAt.Before(all[j].RecordedAt) })
	var out []models.TelemetryReading
	for _, r := range all {
		if !q.From.IsZero() && r.RecordedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && r.RecordedAt.After(q.To) {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// Last returns the latest reading of the session.
func (ts *TelemetryStore) Last(_ context.Context, sessionID string) (*models.TelemetryReading, error) {
	ts.s.mu.RLock()
	defer ts.s.mu.RUnlock()
	readings := ts.s.telemetry[sessionID]
	if len(readings) == 0 {
		return nil, repository.ErrNotFound
	}
	last := readings[0]
	for _, r := range readings[1:] {
		if !r.RecordedAt.Before(last.RecordedAt) {
			last = r
		}
	}
	return &last, nil
}

// TariffStore is the in-memory tariff table keyed by point id; the empty key is the default.
type TariffStore struct {
	s *Store
}

// Put registers a tariff.
func (t *TariffStore) Put(tariff models.Tariff) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.tariffs[tariff.PointID] = tariff
}

// ForPoint returns the point tariff or the network-wide one.
func (t *TariffStore) ForPoint(_ context.Context, pointID string) (*models.Tariff, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if tariff, ok := t.s.tariffs[pointID]; ok && tariff.IsActive {
		return &tariff, nil
	}
	if tariff, ok := t.s.tariffs[""]; ok && tariff.IsActive {
		return &tariff, nil
	}
	return nil, repository.ErrNotFound
}
