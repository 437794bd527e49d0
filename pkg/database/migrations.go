package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These indexes enable efficient full-text search on task descriptions and
// results from operator tooling.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_tasks_description_gin
		ON tasks USING gin(to_tsvector('english', description))`)
	if err != nil {
		return fmt.Errorf("failed to create task description GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_tasks_result_gin
		ON tasks USING gin(to_tsvector('english', COALESCE(result, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create task result GIN index: %w", err)
	}

	return nil
}
