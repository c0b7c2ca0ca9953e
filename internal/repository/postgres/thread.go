package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"crucible/internal/domain"
	"crucible/internal/domain/models"
	"crucible/internal/domain/repositories"
)

// ThreadRepository implements repositories.ThreadRepository using PostgreSQL
type ThreadRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewThreadRepository creates a new ThreadRepository
func NewThreadRepository(config *RepositoryConfig) repositories.ThreadRepository {
	return &ThreadRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Create inserts a new thread
func (r *ThreadRepository) Create(ctx context.Context, thread *models.Thread) error {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	now := time.Now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now

	query := fmt.Sprintf(`
		INSERT INTO %s (id, title, active_checkpoint_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.tables.Threads)

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		thread.ID,
		thread.Title,
		thread.ActiveCheckpointID,
		thread.CreatedAt,
		thread.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("thread %s: %w", thread.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create thread: %w", err)
	}

	return nil
}

// Get retrieves a thread by ID
func (r *ThreadRepository) Get(ctx context.Context, id string) (*models.Thread, error) {
	query := fmt.Sprintf(`
		SELECT id, title, active_checkpoint_id, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, r.tables.Threads)

	var thread models.Thread
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, id).Scan(
		&thread.ID,
		&thread.Title,
		&thread.ActiveCheckpointID,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get thread: %w", err)
	}

	return &thread, nil
}

// List returns all threads, most recently updated first
func (r *ThreadRepository) List(ctx context.Context) ([]*models.Thread, error) {
	query := fmt.Sprintf(`
		SELECT id, title, active_checkpoint_id, created_at, updated_at
		FROM %s
		ORDER BY updated_at DESC
	`, r.tables.Threads)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		var thread models.Thread
		if err := rows.Scan(
			&thread.ID,
			&thread.Title,
			&thread.ActiveCheckpointID,
			&thread.CreatedAt,
			&thread.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, &thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}

	if threads == nil {
		threads = []*models.Thread{}
	}

	return threads, nil
}

// Rename updates the title and bumps updated_at
func (r *ThreadRepository) Rename(ctx context.Context, id string, title string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET title = $1, updated_at = $2
		WHERE id = $3
	`, r.tables.Threads)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, title, time.Now(), id)
	if err != nil {
		return fmt.Errorf("rename thread: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// SetActiveCheckpoint moves the thread's active pointer
func (r *ThreadRepository) SetActiveCheckpoint(ctx context.Context, id string, checkpointID *string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET active_checkpoint_id = $1, updated_at = $2
		WHERE id = $3
	`, r.tables.Threads)

	executor := GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, checkpointID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("set active checkpoint: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// Delete removes the thread and cascades to its checkpoints and positions
func (r *ThreadRepository) Delete(ctx context.Context, id string) error {
	executor := GetExecutor(ctx, r.pool)

	// Positions first, then checkpoints, then the thread row. No FK
	// cascade is assumed so the same order works on a fresh schema.
	posQuery := fmt.Sprintf(`
		DELETE FROM %s
		WHERE checkpoint_id IN (SELECT id FROM %s WHERE thread_id = $1)
	`, r.tables.Positions, r.tables.Checkpoints)
	if _, err := executor.Exec(ctx, posQuery, id); err != nil {
		return fmt.Errorf("delete thread positions: %w", err)
	}

	cpQuery := fmt.Sprintf(`DELETE FROM %s WHERE thread_id = $1`, r.tables.Checkpoints)
	if _, err := executor.Exec(ctx, cpQuery, id); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}

	threadQuery := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Threads)
	result, err := executor.Exec(ctx, threadQuery, id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
	}

	return nil
}
