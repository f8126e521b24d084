package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"evcsms/backend/services/charging-control-service/internal/models"
)

const reservationColumns = `id, user_id, station_id, point_id, connector_type, start_time, end_time, status, expires_at, created_at, updated_at`

// ReservationRepository persists reservations.
type ReservationRepository struct {
	db *sql.DB
}

// NewReservationRepository returns repository.
func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var r models.Reservation
	if err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.StationID,
		&r.PointID,
		&r.ConnectorType,
		&r.StartTime,
		&r.EndTime,
		&r.Status,
		&r.ExpiresAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts a new reservation.
func (r *ReservationRepository) Create(ctx context.Context, res *models.Reservation) error {
	const query = `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		res.ID,
		res.UserID,
		res.StationID,
		res.PointID,
		res.ConnectorType,
		res.StartTime,
		res.EndTime,
		string(res.Status),
		res.ExpiresAt,
		res.CreatedAt,
		res.UpdatedAt,
	)
	return err
}

// Get loads a reservation by id.
func (r *ReservationRepository) Get(ctx context.Context, id string) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	res, err := scanReservation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return res, nil
}

// ListByUser returns the user's reservations, newest start first.
func (r *ReservationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE user_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`
	return r.list(ctx, query, userID, limit)
}

// CountOverlapping counts confirmed reservations on the point that intersect [start, end).
func (r *ReservationRepository) CountOverlapping(ctx context.Context, pointID string, start, end time.Time, excludeID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM reservations
		WHERE point_id = $1
		  AND status = 'confirmed'
		  AND ($4::text = '' OR id <> $4::text)
		  AND NOT (end_time <= $2 OR start_time >= $3)
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, pointID, start, end, excludeID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Update locks the row, applies fn and writes the result back in one transaction.
// When fn returns ErrNoChange the current row is returned untouched.
func (r *ReservationRepository) Update(ctx context.Context, id string, fn func(*models.Reservation) error) (*models.Reservation, error) {
	var out *models.Reservation
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 FOR UPDATE`
		res, err := scanReservation(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			return notFound(err)
		}
		if err := fn(res); err != nil {
			if errors.Is(err, ErrNoChange) {
				out = res
			}
			return err
		}

		const update = `
			UPDATE reservations
			SET start_time = $2,
			    end_time = $3,
			    status = $4,
			    expires_at = $5,
			    updated_at = $6
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, update,
			res.ID,
			res.StartTime,
			res.EndTime,
			string(res.Status),
			res.ExpiresAt,
			res.UpdatedAt,
		); err != nil {
			return err
		}
		out = res
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

// CancelStale cancels the reservation if it is still confirmed, started before cutoff and has
// no session bound. Otherwise it returns ErrStatusMismatch.
// The row lock is taken before the session check so a concurrent session insert, which holds a
// share lock on the reservation, is either seen or made to fail.
func (r *ReservationRepository) CancelStale(ctx context.Context, id string, cutoff, now time.Time) (*models.Reservation, error) {
	var out *models.Reservation
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 FOR UPDATE`
		res, err := scanReservation(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			return notFound(err)
		}
		if res.Status != models.ReservationConfirmed || !res.StartTime.Before(cutoff) {
			return ErrStatusMismatch
		}

		var bound bool
		const exists = `SELECT EXISTS (SELECT 1 FROM charging_sessions WHERE reservation_id = $1)`
		if err := tx.QueryRowContext(ctx, exists, id).Scan(&bound); err != nil {
			return err
		}
		if bound {
			return ErrStatusMismatch
		}

		const update = `UPDATE reservations SET status = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, id, string(models.ReservationCancelled), now); err != nil {
			return err
		}
		res.Status = models.ReservationCancelled
		res.UpdatedAt = now
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListStale returns confirmed reservations that started before cutoff and never produced a session.
func (r *ReservationRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations r
		WHERE r.status = 'confirmed'
		  AND r.start_time < $1
		  AND NOT EXISTS (SELECT 1 FROM charging_sessions s WHERE s.reservation_id = r.id)
		ORDER BY r.start_time ASC
		LIMIT $2
	`
	return r.list(ctx, query, cutoff, limit)
}

func (r *ReservationRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
