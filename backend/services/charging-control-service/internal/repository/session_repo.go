package repository

import (
	"context"
	"database/sql"
	"errors"

	"evcsms/backend/services/charging-control-service/internal/models"
)

const sessionColumns = `id, user_id, point_id, reservation_id, vehicle_id, status, start_meter_wh, end_meter_wh,
	started_at, ended_at, energy_kwh, cost, currency, stop_reason, failure_reason, created_at, updated_at`

// SessionRepository handles persistence of charging sessions and their history.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository returns repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.PointID,
		&s.ReservationID,
		&s.VehicleID,
		&s.Status,
		&s.StartMeterWh,
		&s.EndMeterWh,
		&s.StartedAt,
		&s.EndedAt,
		&s.EnergyKWh,
		&s.Cost,
		&s.Currency,
		&s.StopReason,
		&s.FailureReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a session in its initial state. A session bound to a reservation is only
// inserted while that reservation is confirmed (ErrStatusMismatch otherwise) and has no other
// live session (ErrDuplicate).
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	const query = `
		INSERT INTO charging_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if s.ReservationID != nil {
			var status models.ReservationStatus
			const lock = `SELECT status FROM reservations WHERE id = $1 FOR SHARE`
			if err := tx.QueryRowContext(ctx, lock, *s.ReservationID).Scan(&status); err != nil {
				return notFound(err)
			}
			if status != models.ReservationConfirmed {
				return ErrStatusMismatch
			}
		}
		_, err := tx.ExecContext(ctx, query,
			s.ID,
			s.UserID,
			s.PointID,
			s.ReservationID,
			s.VehicleID,
			string(s.Status),
			s.StartMeterWh,
			s.EndMeterWh,
			s.StartedAt,
			s.EndedAt,
			s.EnergyKWh,
			s.Cost,
			s.Currency,
			s.StopReason,
			s.FailureReason,
			s.CreatedAt,
			s.UpdatedAt,
		)
		return duplicate(err)
	})
}

// Get loads a session by id.
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM charging_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// FindByReservation returns the most recent session bound to the reservation.
func (r *SessionRepository) FindByReservation(ctx context.Context, reservationID string) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM charging_sessions
		WHERE reservation_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, reservationID))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// Update locks the session row, lets fn decide the transition and persists it atomically.
// When fn returns ErrNoChange the current row is returned untouched.
func (r *SessionRepository) Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	var out *models.Session
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `SELECT ` + sessionColumns + ` FROM charging_sessions WHERE id = $1 FOR UPDATE`
		s, err := scanSession(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			return notFound(err)
		}
		if err := fn(s); err != nil {
			if errors.Is(err, ErrNoChange) {
				out = s
			}
			return err
		}

		const update = `
			UPDATE charging_sessions
			SET status = $2,
			    start_meter_wh = $3,
			    end_meter_wh = $4,
			    started_at = $5,
			    ended_at = $6,
			    energy_kwh = $7,
			    cost = $8,
			    currency = $9,
			    stop_reason = $10,
			    failure_reason = $11,
			    updated_at = $12
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, update,
			s.ID,
			string(s.Status),
			s.StartMeterWh,
			s.EndMeterWh,
			s.StartedAt,
			s.EndedAt,
			s.EnergyKWh,
			s.Cost,
			s.Currency,
			s.StopReason,
			s.FailureReason,
			s.UpdatedAt,
		); err != nil {
			return err
		}
		out = s
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendEvent records a transition in the session history.
func (r *SessionRepository) AppendEvent(ctx context.Context, e *models.SessionEvent) error {
	const query = `
		INSERT INTO session_events (session_id, event_type, status, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		e.SessionID,
		e.Type,
		string(e.Status),
		nullableString(e.Detail),
		e.OccurredAt,
	).Scan(&e.ID)
}

// ListEvents returns the session history in chronological order.
func (r *SessionRepository) ListEvents(ctx context.Context, sessionID string) ([]models.SessionEvent, error) {
	const query = `
		SELECT id, session_id, event_type, status, COALESCE(detail, ''), occurred_at
		FROM session_events
		WHERE session_id = $1
		ORDER BY occurred_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SessionEvent
	for rows.Next() {
		var e models.SessionEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &e.Status, &e.Detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
