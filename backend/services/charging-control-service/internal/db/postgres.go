package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	libdb "evcsms/backend/libs/db"
)

//go:embed schema.sql
var schema string

// NewPostgres opens the service database.
func NewPostgres(dsn string, pool libdb.PoolOptions) (*sql.DB, error) {
	return libdb.NewPostgresDB(dsn, pool)
}

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("db: apply schema: %w", err)
	}
	return nil
}
