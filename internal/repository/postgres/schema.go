package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the schema for the configured table prefix if it
// doesn't exist yet. Idempotent, runs at startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				title VARCHAR(255) NOT NULL DEFAULT '',
				active_checkpoint_id UUID,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)
		`, tables.Threads),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				thread_id UUID NOT NULL REFERENCES %s(id),
				parent_id UUID,
				role VARCHAR(16) NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				model VARCHAR(128),
				metadata JSONB,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)
		`, tables.Checkpoints, tables.Threads),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s_thread_idx ON %s (thread_id, created_at)
		`, tables.Checkpoints, tables.Checkpoints),
		fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s_parent_idx ON %s (parent_id)
		`, tables.Checkpoints, tables.Checkpoints),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				checkpoint_id UUID PRIMARY KEY,
				thread_id UUID NOT NULL,
				x DOUBLE PRECISION NOT NULL,
				y DOUBLE PRECISION NOT NULL
			)
		`, tables.Positions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}

	return nil
}
