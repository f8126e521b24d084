package repository

import (
	"context"
	"database/sql"

	"evcsms/backend/services/charging-control-service/internal/models"
)

// TariffRepository handles tariff lookups.
type TariffRepository struct {
	db *sql.DB
}

// NewTariffRepository returns repository.
func NewTariffRepository(db *sql.DB) *TariffRepository {
	return &TariffRepository{db: db}
}

// ForPoint returns the active tariff of the point, falling back to the newest network-wide one.
func (r *TariffRepository) ForPoint(ctx context.Context, pointID string) (*models.Tariff, error) {
	const query = `
		SELECT id, name, COALESCE(point_id, ''), price_per_kwh, price_per_minute, currency, is_active, created_at, updated_at
		FROM tariffs
		WHERE is_active = true
		  AND (point_id = $1 OR point_id IS NULL)
		ORDER BY point_id NULLS LAST, updated_at DESC
		LIMIT 1
	`
	var t models.Tariff
	if err := r.db.QueryRowContext(ctx, query, pointID).Scan(
		&t.ID,
		&t.Name,
		&t.PointID,
		&t.PricePerKWh,
		&t.PricePerMinute,
		&t.Currency,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}
