package repositories

import (
	"context"

	"crucible/internal/domain/models"
)

// ThreadRepository persists conversation threads.
type ThreadRepository interface {
	// Create inserts a new thread.
	Create(ctx context.Context, thread *models.Thread) error

	// Get returns a thread by id, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Thread, error)

	// List returns all threads, most recently updated first.
	List(ctx context.Context) ([]*models.Thread, error)

	// Rename updates the title and bumps updated_at.
	Rename(ctx context.Context, id string, title string) error

	// SetActiveCheckpoint moves the thread's active pointer.
	// A nil checkpointID clears it.
	SetActiveCheckpoint(ctx context.Context, id string, checkpointID *string) error

	// Delete removes the thread and cascades to its checkpoints and
	// saved positions.
	Delete(ctx context.Context, id string) error
}
