package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"evcsms/backend/services/charging-control-service/internal/models"
)

const accessTokenColumns = `token_hash, reservation_id, status, issued_at, ttl_seconds, expires_at, used_at`

// AccessTokenRepository persists QR access tokens keyed by their digest.
type AccessTokenRepository struct {
	db *sql.DB
}

// NewAccessTokenRepository returns repository.
func NewAccessTokenRepository(db *sql.DB) *AccessTokenRepository {
	return &AccessTokenRepository{db: db}
}

func scanAccessToken(row rowScanner) (*models.AccessToken, error) {
	var t models.AccessToken
	if err := row.Scan(
		&t.Hash,
		&t.ReservationID,
		&t.Status,
		&t.IssuedAt,
		&t.TTLSeconds,
		&t.ExpiresAt,
		&t.UsedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// Create stores a freshly issued token.
func (r *AccessTokenRepository) Create(ctx context.Context, token *models.AccessToken) error {
	const query = `
		INSERT INTO access_tokens (` + accessTokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
	`
	_, err := r.db.ExecContext(ctx, query,
		token.Hash,
		token.ReservationID,
		string(token.Status),
		token.IssuedAt,
		token.TTLSeconds,
		token.ExpiresAt,
	)
	return err
}

// GetByHash loads a token by digest.
func (r *AccessTokenRepository) GetByHash(ctx context.Context, hash string) (*models.AccessToken, error) {
	query := `SELECT ` + accessTokenColumns + ` FROM access_tokens WHERE token_hash = $1`
	t, err := scanAccessToken(r.db.QueryRowContext(ctx, query, hash))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// MarkUsed performs the one-way active to used transition for a token that has not expired.
func (r *AccessTokenRepository) MarkUsed(ctx context.Context, hash string, now time.Time) (*models.AccessToken, error) {
	query := `
		UPDATE access_tokens
		SET status = 'used', used_at = $2
		WHERE token_hash = $1 AND status = 'active' AND expires_at > $2
		RETURNING ` + accessTokenColumns
	t, err := scanAccessToken(r.db.QueryRowContext(ctx, query, hash, now))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if _, getErr := r.GetByHash(ctx, hash); getErr != nil {
		return nil, getErr
	}
	return nil, ErrStatusMismatch
}

// ExpireBefore flags active tokens whose lifetime ended at or before now.
func (r *AccessTokenRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE access_tokens
		SET status = 'expired'
		WHERE status = 'active' AND expires_at <= $1
	`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
