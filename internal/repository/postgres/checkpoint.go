package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"crucible/internal/domain"
	"crucible/internal/domain/models"
	"crucible/internal/domain/repositories"
)

const (
	// MaxRecursionDepth bounds recursive CTE traversals of the
	// checkpoint tree. Paths deeper than this indicate a cycle or a
	// corrupted parent chain.
	MaxRecursionDepth = 100
)

// CheckpointRepository implements repositories.CheckpointRepository using PostgreSQL
type CheckpointRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewCheckpointRepository creates a new CheckpointRepository
func NewCheckpointRepository(config *RepositoryConfig) repositories.CheckpointRepository {
	return &CheckpointRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// checkpointColumns is the shared select list. Positions are joined in
// so saved layout coordinates ride along with each node.
func (r *CheckpointRepository) checkpointColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.thread_id, %[1]s.parent_id, %[1]s.role, %[1]s.content,
		       %[1]s.model, p.x, p.y, %[1]s.metadata, %[1]s.created_at`, alias)
}

// scanner is implemented by both pgx.Row and pgx.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanCheckpointRow scans a database row into a Checkpoint struct
func (r *CheckpointRepository) scanCheckpointRow(row scanner) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	err := row.Scan(
		&cp.ID,
		&cp.ThreadID,
		&cp.ParentID,
		&cp.Role,
		&cp.Content,
		&cp.Model,
		&cp.PosX,
		&cp.PosY,
		&cp.Metadata, // pgx handles JSONB -> map
		&cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Create inserts a checkpoint after validating its parent
func (r *CheckpointRepository) Create(ctx context.Context, cp *models.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	// Validate parent exists in the same thread if provided
	if cp.ParentID != nil {
		exists, err := r.checkpointExists(ctx, cp.ThreadID, *cp.ParentID)
		if err != nil {
			return fmt.Errorf("validate parent checkpoint: %w", err)
		}
		if !exists {
			return &domain.ValidationError{
				Message: fmt.Sprintf("parent checkpoint %s: %v", *cp.ParentID, domain.ErrUnknownParent),
			}
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, parent_id, role, content, model, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.tables.Checkpoints)

	executor := GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		cp.ID,
		cp.ThreadID,
		cp.ParentID,
		cp.Role,
		cp.Content,
		cp.Model,
		cp.Metadata, // pgx handles map -> JSONB (nil becomes NULL)
		cp.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("thread %s: %w", cp.ThreadID, domain.ErrNotFound)
		}
		return fmt.Errorf("create checkpoint: %w", err)
	}

	return nil
}

// checkpointExists checks if a checkpoint exists within a thread
func (r *CheckpointRepository) checkpointExists(ctx context.Context, threadID, id string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1 AND thread_id = $2)`, r.tables.Checkpoints)

	var exists bool
	executor := GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, id, threadID).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// Get retrieves one checkpoint by ID
func (r *CheckpointRepository) Get(ctx context.Context, threadID, id string) (*models.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s c
		LEFT JOIN %s p ON p.checkpoint_id = c.id
		WHERE c.id = $1 AND c.thread_id = $2
	`, r.checkpointColumns("c"), r.tables.Checkpoints, r.tables.Positions)

	executor := GetExecutor(ctx, r.pool)
	cp, err := r.scanCheckpointRow(executor.QueryRow(ctx, query, id, threadID))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("checkpoint %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	return cp, nil
}

// ListByThread returns every checkpoint of a thread in creation order
func (r *CheckpointRepository) ListByThread(ctx context.Context, threadID string) ([]*models.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s c
		LEFT JOIN %s p ON p.checkpoint_id = c.id
		WHERE c.thread_id = $1
		ORDER BY c.created_at, c.id
	`, r.checkpointColumns("c"), r.tables.Checkpoints, r.tables.Positions)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*models.Checkpoint
	for rows.Next() {
		cp, err := r.scanCheckpointRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}

	if checkpoints == nil {
		checkpoints = []*models.Checkpoint{}
	}

	return checkpoints, nil
}

// ListChildren returns the direct children of parentID in creation order.
// A nil parentID selects the root nodes.
func (r *CheckpointRepository) ListChildren(ctx context.Context, threadID string, parentID *string) ([]*models.Checkpoint, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s c
		LEFT JOIN %s p ON p.checkpoint_id = c.id
		WHERE c.thread_id = $1 AND c.parent_id IS NOT DISTINCT FROM $2
		ORDER BY c.created_at, c.id
	`, r.checkpointColumns("c"), r.tables.Checkpoints, r.tables.Positions)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, threadID, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var checkpoints []*models.Checkpoint
	for rows.Next() {
		cp, err := r.scanCheckpointRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}

	if checkpoints == nil {
		checkpoints = []*models.Checkpoint{}
	}

	return checkpoints, nil
}

// GetPath retrieves the chain from the root to the given checkpoint.
// Returns checkpoints in order from root to the specified checkpoint.
func (r *CheckpointRepository) GetPath(ctx context.Context, threadID, id string) ([]*models.Checkpoint, error) {
	// Recursive CTE to traverse from checkpoint to root, then reverse the order
	query := fmt.Sprintf(`
		WITH RECURSIVE checkpoint_path AS (
			-- Base case: start with the specified checkpoint
			SELECT id, thread_id, parent_id, role, content, model, metadata, created_at, 1 as depth
			FROM %s
			WHERE id = $1 AND thread_id = $2

			UNION ALL

			-- Recursive case: walk parent pointers
			SELECT c.id, c.thread_id, c.parent_id, c.role, c.content, c.model, c.metadata, c.created_at, cp.depth + 1
			FROM %s c
			INNER JOIN checkpoint_path cp ON c.id = cp.parent_id
			WHERE cp.depth < %d
		)
		SELECT cp.id, cp.thread_id, cp.parent_id, cp.role, cp.content, cp.model, p.x, p.y, cp.metadata, cp.created_at
		FROM checkpoint_path cp
		LEFT JOIN %s p ON p.checkpoint_id = cp.id
		ORDER BY depth DESC
	`, r.tables.Checkpoints, r.tables.Checkpoints, MaxRecursionDepth, r.tables.Positions)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, id, threadID)
	if err != nil {
		return nil, fmt.Errorf("get checkpoint path: %w", err)
	}
	defer rows.Close()

	var checkpoints []*models.Checkpoint
	for rows.Next() {
		cp, err := r.scanCheckpointRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}

	if len(checkpoints) == 0 {
		return nil, fmt.Errorf("checkpoint %s: %w", id, domain.ErrNotFound)
	}

	return checkpoints, nil
}

// DeleteSubtree removes a checkpoint and all of its descendants,
// returning the deleted ids. Position rows go in the same statement
// batch so a partial delete can't leave orphaned coordinates.
func (r *CheckpointRepository) DeleteSubtree(ctx context.Context, threadID, id string) ([]string, error) {
	executor := GetExecutor(ctx, r.pool)

	// Collect the subtree ids first so callers can fix up pointers.
	collectQuery := fmt.Sprintf(`
		WITH RECURSIVE subtree AS (
			SELECT id, 1 as depth
			FROM %s
			WHERE id = $1 AND thread_id = $2

			UNION ALL

			SELECT c.id, s.depth + 1
			FROM %s c
			INNER JOIN subtree s ON c.parent_id = s.id
			WHERE s.depth < %d
		)
		SELECT id FROM subtree
	`, r.tables.Checkpoints, r.tables.Checkpoints, MaxRecursionDepth)

	rows, err := executor.Query(ctx, collectQuery, id, threadID)
	if err != nil {
		return nil, fmt.Errorf("collect subtree: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var cpID string
		if err := rows.Scan(&cpID); err != nil {
			return nil, fmt.Errorf("scan subtree id: %w", err)
		}
		ids = append(ids, cpID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtree ids: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, fmt.Errorf("checkpoint %s: %w", id, domain.ErrNotFound)
	}

	posQuery := fmt.Sprintf(`DELETE FROM %s WHERE checkpoint_id = ANY($1)`, r.tables.Positions)
	if _, err := executor.Exec(ctx, posQuery, ids); err != nil {
		return nil, fmt.Errorf("delete subtree positions: %w", err)
	}

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1) AND thread_id = $2`, r.tables.Checkpoints)
	if _, err := executor.Exec(ctx, deleteQuery, ids, threadID); err != nil {
		return nil, fmt.Errorf("delete subtree: %w", err)
	}

	return ids, nil
}

// Search returns checkpoints whose content matches the query
// case-insensitively, in creation order, up to limit
func (r *CheckpointRepository) Search(ctx context.Context, threadID, query string, limit int) ([]*models.Checkpoint, error) {
	sqlQuery := fmt.Sprintf(`
		SELECT %s
		FROM %s c
		LEFT JOIN %s p ON p.checkpoint_id = c.id
		WHERE c.thread_id = $1 AND c.content ILIKE $2
		ORDER BY c.created_at, c.id
		LIMIT $3
	`, r.checkpointColumns("c"), r.tables.Checkpoints, r.tables.Positions)

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, sqlQuery, threadID, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*models.Checkpoint
	for rows.Next() {
		cp, err := r.scanCheckpointRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}

	if checkpoints == nil {
		checkpoints = []*models.Checkpoint{}
	}

	return checkpoints, nil
}

// escapeLike escapes LIKE wildcards so user queries match literally
func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

// SavePositions upserts layout coordinates for the given nodes
func (r *CheckpointRepository) SavePositions(ctx context.Context, threadID string, positions []models.NodePosition) error {
	if len(positions) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (checkpoint_id, thread_id, x, y)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (checkpoint_id) DO UPDATE SET x = EXCLUDED.x, y = EXCLUDED.y
	`, r.tables.Positions)

	executor := GetExecutor(ctx, r.pool)
	for _, pos := range positions {
		if _, err := executor.Exec(ctx, query, pos.NodeID, threadID, pos.X, pos.Y); err != nil {
			return fmt.Errorf("save position for %s: %w", pos.NodeID, err)
		}
	}

	return nil
}
