// Package history implements the checkpoint store service: path
// resolution with ancestor-fetch deduplication, tree views with
// deterministic auto-layout, content search and subtree deletes.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/singleflight"

	"crucible/internal/config"
	"crucible/internal/domain"
	"crucible/internal/domain/models"
	"crucible/internal/domain/repositories"
)

const (
	// MinSearchQueryLength is the minimum query length in runes.
	MinSearchQueryLength = 2

	// MaxSearchResults bounds one search response.
	MaxSearchResults = 20

	// Excerpt window around the first match, in runes.
	excerptBefore = 40
	excerptAfter  = 60
)

// Service is the checkpoint store service.
type Service struct {
	threads     repositories.ThreadRepository
	checkpoints repositories.CheckpointRepository
	txManager   repositories.TransactionManager
	logger      *slog.Logger

	// paths deduplicates concurrent GetPath calls per (thread,
	// checkpoint). Fan-out finalization asks for N sibling leaves that
	// share every ancestor; flights on the shared prefix are joined
	// instead of re-walked.
	paths singleflight.Group
}

// NewService creates a new history service.
func NewService(
	threads repositories.ThreadRepository,
	checkpoints repositories.CheckpointRepository,
	txManager repositories.TransactionManager,
	logger *slog.Logger,
) *Service {
	return &Service{
		threads:     threads,
		checkpoints: checkpoints,
		txManager:   txManager,
		logger:      logger,
	}
}

// EnsureThread returns the thread with the given id, creating it with
// an empty root checkpoint on first use. Thread ids are client-chosen,
// matching the connect-first WebSocket flow.
func (s *Service) EnsureThread(ctx context.Context, threadID string) (*models.Thread, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread id is required", domain.ErrValidation)
	}

	thread, err := s.threads.Get(ctx, threadID)
	if err == nil {
		return thread, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	thread = &models.Thread{ID: threadID, Title: "New Thread"}
	if err := s.threads.Create(ctx, thread); err != nil {
		// Lost a create race; the other writer's thread wins.
		if existing, getErr := s.threads.Get(ctx, threadID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}

	root := &models.Checkpoint{
		ThreadID: threadID,
		Role:     models.RoleUser,
		Content:  "",
	}
	if err := s.checkpoints.Create(ctx, root); err != nil {
		return nil, fmt.Errorf("create root checkpoint: %w", err)
	}
	if err := s.threads.SetActiveCheckpoint(ctx, threadID, &root.ID); err != nil {
		return nil, err
	}
	thread.ActiveCheckpointID = &root.ID

	s.logger.Info("thread created", "thread_id", threadID, "root_checkpoint", root.ID)
	return thread, nil
}

// GetThread returns a thread by id.
func (s *Service) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	return s.threads.Get(ctx, threadID)
}

// ListThreads returns all threads, most recently updated first.
func (s *Service) ListThreads(ctx context.Context) ([]*models.Thread, error) {
	return s.threads.List(ctx)
}

// RenameThread sets a thread's title.
func (s *Service) RenameThread(ctx context.Context, threadID, title string) error {
	if err := validation.Validate(title,
		validation.Required,
		validation.Length(1, config.MaxThreadTitleLength),
	); err != nil {
		return fmt.Errorf("%w: title: %v", domain.ErrValidation, err)
	}
	return s.threads.Rename(ctx, threadID, title)
}

// SetActiveCheckpoint moves a thread's active pointer.
func (s *Service) SetActiveCheckpoint(ctx context.Context, threadID, checkpointID string) error {
	if _, err := s.checkpoints.Get(ctx, threadID, checkpointID); err != nil {
		return err
	}
	return s.threads.SetActiveCheckpoint(ctx, threadID, &checkpointID)
}

// DeleteThread removes a thread and all of its checkpoints.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	return s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		return s.threads.Delete(ctx, threadID)
	})
}

// CreateCheckpointRequest is the DTO for committing a new checkpoint.
type CreateCheckpointRequest struct {
	ThreadID string
	ParentID *string
	Role     string
	Content  string
	Model    *string
	Metadata map[string]any
}

func (s *Service) validateCreateCheckpoint(req *CreateCheckpointRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ThreadID, validation.Required),
		validation.Field(&req.Role,
			validation.Required,
			validation.In(models.RoleUser, models.RoleAI, models.RoleSynthesis),
		),
	)
}

// CreateCheckpoint commits one immutable checkpoint and returns its id.
func (s *Service) CreateCheckpoint(ctx context.Context, req *CreateCheckpointRequest) (string, error) {
	if req.ParentID != nil && *req.ParentID == "" {
		req.ParentID = nil
	}
	if err := s.validateCreateCheckpoint(req); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	cp := &models.Checkpoint{
		ThreadID: req.ThreadID,
		ParentID: req.ParentID,
		Role:     req.Role,
		Content:  req.Content,
		Model:    req.Model,
		Metadata: req.Metadata,
	}
	if err := s.checkpoints.Create(ctx, cp); err != nil {
		return "", err
	}
	return cp.ID, nil
}

// GetCheckpoint returns one checkpoint.
func (s *Service) GetCheckpoint(ctx context.Context, threadID, id string) (*models.Checkpoint, error) {
	return s.checkpoints.Get(ctx, threadID, id)
}

// ListChildren returns the direct children of a checkpoint in creation order.
func (s *Service) ListChildren(ctx context.Context, threadID string, parentID *string) ([]*models.Checkpoint, error) {
	return s.checkpoints.ListChildren(ctx, threadID, parentID)
}

// GetPath returns the root-to-leaf chain ending at id. Concurrent
// requests for overlapping chains share one walk per ancestor: the
// leaf is fetched, then the parent's path is resolved through the same
// singleflight group, so sibling leaves join every shared flight.
//
// Callers must treat the returned slice as read-only; it may be shared
// with other in-flight callers.
func (s *Service) GetPath(ctx context.Context, threadID, id string) ([]*models.Checkpoint, error) {
	key := threadID + "/" + id
	v, err, _ := s.paths.Do(key, func() (interface{}, error) {
		leaf, err := s.checkpoints.Get(ctx, threadID, id)
		if err != nil {
			return nil, err
		}
		if leaf.ParentID == nil {
			return []*models.Checkpoint{leaf}, nil
		}
		parentPath, err := s.GetPath(ctx, threadID, *leaf.ParentID)
		if err != nil {
			return nil, err
		}
		path := make([]*models.Checkpoint, 0, len(parentPath)+1)
		path = append(path, parentPath...)
		path = append(path, leaf)
		return path, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*models.Checkpoint), nil
}

// DeleteCheckpoint removes a checkpoint and its full descendant
// subtree atomically. If the thread's active pointer was inside the
// deleted subtree it moves to the deleted node's former parent.
func (s *Service) DeleteCheckpoint(ctx context.Context, threadID, id string) (int, error) {
	var deletedCount int
	err := s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		target, err := s.checkpoints.Get(ctx, threadID, id)
		if err != nil {
			return err
		}

		deleted, err := s.checkpoints.DeleteSubtree(ctx, threadID, id)
		if err != nil {
			return err
		}
		deletedCount = len(deleted)

		thread, err := s.threads.Get(ctx, threadID)
		if err != nil {
			return err
		}
		if thread.ActiveCheckpointID == nil {
			return nil
		}
		for _, deletedID := range deleted {
			if *thread.ActiveCheckpointID == deletedID {
				return s.threads.SetActiveCheckpoint(ctx, threadID, target.ParentID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deletedCount, nil
}

// SavePositions persists user-dragged layout coordinates. Best effort;
// unknown node ids are skipped.
func (s *Service) SavePositions(ctx context.Context, threadID string, positions []models.NodePosition) error {
	return s.checkpoints.SavePositions(ctx, threadID, positions)
}

// Search returns checkpoints whose content contains the query
// case-insensitively, each with a bounded excerpt around the first
// match. Queries shorter than two runes return no results.
func (s *Service) Search(ctx context.Context, threadID, query string) ([]models.SearchResult, error) {
	trimmed := strings.TrimSpace(query)
	if len([]rune(trimmed)) < MinSearchQueryLength {
		return []models.SearchResult{}, nil
	}

	matches, err := s.checkpoints.Search(ctx, threadID, trimmed, MaxSearchResults)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(matches))
	for _, cp := range matches {
		results = append(results, models.SearchResult{
			CheckpointID: cp.ID,
			Role:         cp.Role,
			Model:        cp.Model,
			Excerpt:      buildExcerpt(cp.Content, trimmed),
		})
	}
	return results, nil
}

// buildExcerpt returns a window of excerptBefore runes before and
// excerptAfter runes after the first case-insensitive match, with
// ellipses marking truncated ends.
func buildExcerpt(content, query string) string {
	text := []rune(content)
	lower := strings.ToLower(content)
	idx := strings.Index(lower, strings.ToLower(query))
	if idx < 0 {
		if len(text) <= excerptBefore+excerptAfter {
			return content
		}
		return string(text[:excerptBefore+excerptAfter]) + "..."
	}

	runeIdx := len([]rune(content[:idx]))
	queryLen := len([]rune(query))

	start := runeIdx - excerptBefore
	if start < 0 {
		start = 0
	}
	end := runeIdx + queryLen + excerptAfter
	if end > len(text) {
		end = len(text)
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(string(text[start:end]))
	if end < len(text) {
		b.WriteString("...")
	}
	return b.String()
}

func isNotFound(err error) bool {
	var nf *domain.NotFoundError
	return errors.As(err, &nf) || errors.Is(err, domain.ErrNotFound)
}
