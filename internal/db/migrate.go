package db

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed migrations/schema.sql
var schemaSQL string

// Migrate applies the embedded schema. Every statement is idempotent, so it is
// safe to run on each cold start when DB_AUTO_MIGRATE is set.
func Migrate(ctx context.Context, db DBTX) error {
	// No arguments: pgx sends this over the simple protocol, which accepts
	// multiple statements.
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
