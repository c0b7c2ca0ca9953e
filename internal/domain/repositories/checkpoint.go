package repositories

import (
	"context"

	"crucible/internal/domain/models"
)

// CheckpointRepository persists immutable checkpoint nodes.
//
// Content is write-once: there is deliberately no update method for a
// checkpoint's content or parent. Only layout positions may change
// after insert.
type CheckpointRepository interface {
	// Create inserts a checkpoint. The parent, when set, must already
	// exist in the same thread; a missing parent is a validation error
	// wrapping domain.ErrUnknownParent.
	Create(ctx context.Context, cp *models.Checkpoint) error

	// Get returns one checkpoint by id, or domain.ErrNotFound.
	Get(ctx context.Context, threadID, id string) (*models.Checkpoint, error)

	// ListByThread returns every checkpoint of a thread in creation
	// order (stable sibling ordering for layout).
	ListByThread(ctx context.Context, threadID string) ([]*models.Checkpoint, error)

	// ListChildren returns the direct children of parentID in creation
	// order. A nil parentID selects the root nodes.
	ListChildren(ctx context.Context, threadID string, parentID *string) ([]*models.Checkpoint, error)

	// GetPath returns the root-to-leaf chain ending at id.
	GetPath(ctx context.Context, threadID, id string) ([]*models.Checkpoint, error)

	// DeleteSubtree removes id and all of its descendants, returning
	// the ids that were deleted.
	DeleteSubtree(ctx context.Context, threadID, id string) ([]string, error)

	// Search returns checkpoints whose content matches the query
	// case-insensitively, in creation order, up to limit.
	Search(ctx context.Context, threadID, query string, limit int) ([]*models.Checkpoint, error)

	// SavePositions upserts layout coordinates for the given nodes.
	SavePositions(ctx context.Context, threadID string, positions []models.NodePosition) error
}
