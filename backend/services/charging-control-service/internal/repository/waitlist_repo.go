package repository

import (
	"context"
	"database/sql"

	"evcsms/backend/services/charging-control-service/internal/models"
)

const waitlistColumns = `id, user_id, station_id, connector_type, position, status, created_at, updated_at`

// WaitlistRepository persists waitlist queues. Queue mutations for one station and
// connector type are serialized with a transaction-scoped advisory lock.
type WaitlistRepository struct {
	db *sql.DB
}

// NewWaitlistRepository returns repository.
func NewWaitlistRepository(db *sql.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

func scanWaitlistEntry(row rowScanner) (*models.WaitlistEntry, error) {
	var e models.WaitlistEntry
	if err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.StationID,
		&e.ConnectorType,
		&e.Position,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func lockQueue(ctx context.Context, tx *sql.Tx, stationID, connectorType string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text || '|' || $2::text))`, stationID, connectorType)
	return err
}

// Append adds the entry at the tail of its queue and sets its position.
func (r *WaitlistRepository) Append(ctx context.Context, entry *models.WaitlistEntry) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockQueue(ctx, tx, entry.StationID, entry.ConnectorType); err != nil {
			return err
		}
		const count = `
			SELECT COUNT(*)
			FROM waitlist_entries
			WHERE station_id = $1 AND connector_type = $2 AND status = 'waiting'
		`
		var length int
		if err := tx.QueryRowContext(ctx, count, entry.StationID, entry.ConnectorType).Scan(&length); err != nil {
			return err
		}
		entry.Position = length + 1

		const insert = `
			INSERT INTO waitlist_entries (` + waitlistColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err := tx.ExecContext(ctx, insert,
			entry.ID,
			entry.UserID,
			entry.StationID,
			entry.ConnectorType,
			entry.Position,
			string(entry.Status),
			entry.CreatedAt,
			entry.UpdatedAt,
		)
		return err
	})
}

// Get loads an entry by id.
func (r *WaitlistRepository) Get(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE id = $1`
	e, err := scanWaitlistEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// ListWaiting returns waiting entries of a station ordered by queue then position.
// An empty connectorType lists every queue of the station.
func (r *WaitlistRepository) ListWaiting(ctx context.Context, stationID, connectorType string) ([]models.WaitlistEntry, error) {
	query := `
		SELECT ` + waitlistColumns + `
		FROM waitlist_entries
		WHERE station_id = $1
		  AND ($2::text = '' OR connector_type = $2::text)
		  AND status = 'waiting'
		ORDER BY connector_type ASC, position ASC
	`
	rows, err := r.db.QueryContext(ctx, query, stationID, connectorType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the entry and closes the gap it leaves in its queue.
func (r *WaitlistRepository) Delete(ctx context.Context, id string) error {
	return r.withQueue(ctx, id, func(tx *sql.Tx, e *models.WaitlistEntry) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, id); err != nil {
			return err
		}
		if e.Status != models.WaitlistWaiting {
			return nil
		}
		return compact(ctx, tx, e)
	})
}

// ChangeStatus moves the entry from one status to another. Leaving the waiting state
// takes the entry out of its queue and compacts the positions behind it.
func (r *WaitlistRepository) ChangeStatus(ctx context.Context, id string, from, to models.WaitlistStatus) (*models.WaitlistEntry, error) {
	var out *models.WaitlistEntry
	err := r.withQueue(ctx, id, func(tx *sql.Tx, e *models.WaitlistEntry) error {
		if e.Status != from {
			return ErrStatusMismatch
		}
		position := e.Position
		if to != models.WaitlistWaiting {
			position = 0
		}
		const update = `
			UPDATE waitlist_entries
			SET status = $2, position = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		if err := tx.QueryRowContext(ctx, update, id, string(to), position).Scan(&e.UpdatedAt); err != nil {
			return err
		}
		if from == models.WaitlistWaiting && to != models.WaitlistWaiting {
			if err := compact(ctx, tx, e); err != nil {
				return err
			}
		}
		e.Status = to
		e.Position = position
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *WaitlistRepository) withQueue(ctx context.Context, id string, fn func(tx *sql.Tx, e *models.WaitlistEntry) error) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		var stationID, connectorType string
		err := tx.QueryRowContext(ctx, `SELECT station_id, connector_type FROM waitlist_entries WHERE id = $1`, id).
			Scan(&stationID, &connectorType)
		if err != nil {
			return notFound(err)
		}
		if err := lockQueue(ctx, tx, stationID, connectorType); err != nil {
			return err
		}
		query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE id = $1 FOR UPDATE`
		e, err := scanWaitlistEntry(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			return notFound(err)
		}
		return fn(tx, e)
	})
}

func compact(ctx context.Context, tx *sql.Tx, removed *models.WaitlistEntry) error {
	const query = `
		UPDATE waitlist_entries
		SET position = position - 1, updated_at = NOW()
		WHERE station_id = $1
		  AND connector_type = $2
		  AND status = 'waiting'
		  AND position > $3
	`
	_, err := tx.ExecContext(ctx, query, removed.StationID, removed.ConnectorType, removed.Position)
	return err
}
