package repository

import (
	"context"
	"database/sql"

	"evcsms/backend/services/charging-control-service/internal/models"
)

// TelemetryRepository persists meter readings.
type TelemetryRepository struct {
	db *sql.DB
}

// NewTelemetryRepository returns repository.
func NewTelemetryRepository(db *sql.DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// Insert appends a reading.
func (r *TelemetryRepository) Insert(ctx context.Context, reading *models.TelemetryReading) error {
	const query = `
		INSERT INTO telemetry_readings (session_id, recorded_at, meter_wh, power_kw, soc, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		reading.SessionID,
		reading.RecordedAt,
		reading.MeterWh,
		reading.PowerKW,
		reading.SoC,
	).Scan(&reading.ID, &reading.CreatedAt)
}

// List returns readings in ascending time order within the query window.
func (r *TelemetryRepository) List(ctx context.Context, sessionID string, q models.TelemetryQuery) ([]models.TelemetryReading, error) {
	var from, to interface{}
	if !q.From.IsZero() {
		from = q.From
	}
	if !q.To.IsZero() {
		to = q.To
	}
	const query = `
		SELECT id, session_id, recorded_at, meter_wh, power_kw, soc, created_at
		FROM telemetry_readings
		WHERE session_id = $1
		  AND ($2::timestamptz IS NULL OR recorded_at >= $2::timestamptz)
		  AND ($3::timestamptz IS NULL OR recorded_at <= $3::timestamptz)
		ORDER BY recorded_at ASC, id ASC
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID, from, to, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TelemetryReading
	for rows.Next() {
		var t models.TelemetryReading
		if err := rows.Scan(&t.ID, &t.SessionID, &t.RecordedAt, &t.MeterWh, &t.PowerKW, &t.SoC, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Last returns the latest reading of the session.
func (r *TelemetryRepository) Last(ctx context.Context, sessionID string) (*models.TelemetryReading, error) {
	const query = `
		SELECT id, session_id, recorded_at, meter_wh, power_kw, soc, created_at
		FROM telemetry_readings
		WHERE session_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`
	var t models.TelemetryReading
	err := r.db.QueryRowContext(ctx, query, sessionID).
		Scan(&t.ID, &t.SessionID, &t.RecordedAt, &t.MeterWh, &t.PowerKW, &t.SoC, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}
