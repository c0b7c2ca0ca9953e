// Package memory provides in-memory repository implementations used
// when no DATABASE_URL is configured (dev mode) and by tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crucible/internal/domain"
	"crucible/internal/domain/models"
	"crucible/internal/domain/repositories"
)

// Store holds all in-memory state behind one mutex. It implements
// ThreadRepository, CheckpointRepository and TransactionManager.
type Store struct {
	mu          sync.RWMutex
	threads     map[string]*models.Thread
	checkpoints map[string]*models.Checkpoint
	positions   map[string]models.NodePosition // keyed by checkpoint id
	seq         int64                          // tie-breaks identical created_at timestamps
	seqByID     map[string]int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		threads:     make(map[string]*models.Thread),
		checkpoints: make(map[string]*models.Checkpoint),
		positions:   make(map[string]models.NodePosition),
		seqByID:     make(map[string]int64),
	}
}

// Threads returns the store as a ThreadRepository.
func (s *Store) Threads() repositories.ThreadRepository { return (*threadRepo)(s) }

// Checkpoints returns the store as a CheckpointRepository.
func (s *Store) Checkpoints() repositories.CheckpointRepository { return (*checkpointRepo)(s) }

// ExecTx implements repositories.TransactionManager. The store is a
// single process-wide map guarded by one mutex, so fn runs directly;
// callers get atomicity per repository call, not across calls.
func (s *Store) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	return fn(ctx)
}

type threadRepo Store

func (r *threadRepo) Create(ctx context.Context, thread *models.Thread) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if _, ok := s.threads[thread.ID]; ok {
		return fmt.Errorf("thread %s: %w", thread.ID, domain.ErrConflict)
	}
	now := time.Now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now

	cp := *thread
	s.threads[thread.ID] = &cp
	return nil
}

func (r *threadRepo) Get(ctx context.Context, id string) (*models.Thread, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[id]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
	}
	cp := *thread
	return &cp, nil
}

func (r *threadRepo) List(ctx context.Context) ([]*models.Thread, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	threads := make([]*models.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		cp := *t
		threads = append(threads, &cp)
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].UpdatedAt.After(threads[j].UpdatedAt)
	})
	return threads, nil
}

func (r *threadRepo) Rename(ctx context.Context, id string, title string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[id]
	if !ok {
		return fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
	}
	thread.Title = title
	thread.UpdatedAt = time.Now()
	return nil
}

func (r *threadRepo) SetActiveCheckpoint(ctx context.Context, id string, checkpointID *string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[id]
	if !ok {
		return fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
	}
	thread.ActiveCheckpointID = checkpointID
	thread.UpdatedAt = time.Now()
	return nil
}

func (r *threadRepo) Delete(ctx context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[id]; !ok {
		return fmt.Errorf("thread %s: %w", id, domain.ErrNotFound)
	}
	delete(s.threads, id)
	for cpID, cp := range s.checkpoints {
		if cp.ThreadID == id {
			delete(s.checkpoints, cpID)
			delete(s.positions, cpID)
			delete(s.seqByID, cpID)
		}
	}
	return nil
}

type checkpointRepo Store

func (r *checkpointRepo) Create(ctx context.Context, cp *models.Checkpoint) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[cp.ThreadID]; !ok {
		return fmt.Errorf("thread %s: %w", cp.ThreadID, domain.ErrNotFound)
	}
	if cp.ParentID != nil {
		parent, ok := s.checkpoints[*cp.ParentID]
		if !ok || parent.ThreadID != cp.ThreadID {
			return &domain.ValidationError{
				Message: fmt.Sprintf("parent checkpoint %s: %v", *cp.ParentID, domain.ErrUnknownParent),
			}
		}
	}
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	s.seq++
	s.seqByID[cp.ID] = s.seq
	clone := *cp
	s.checkpoints[cp.ID] = &clone
	return nil
}

func (r *checkpointRepo) Get(ctx context.Context, threadID, id string) (*models.Checkpoint, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[id]
	if !ok || cp.ThreadID != threadID {
		return nil, fmt.Errorf("checkpoint %s: %w", id, domain.ErrNotFound)
	}
	return s.withPosition(cp), nil
}

// withPosition clones a checkpoint and fills in any saved coordinates.
// Callers must hold the lock.
func (s *Store) withPosition(cp *models.Checkpoint) *models.Checkpoint {
	clone := *cp
	if pos, ok := s.positions[cp.ID]; ok {
		x, y := pos.X, pos.Y
		clone.PosX = &x
		clone.PosY = &y
	}
	return &clone
}

// sortByCreation orders checkpoints by created_at with insertion
// sequence as the tie-break, matching the postgres creation order.
func (s *Store) sortByCreation(cps []*models.Checkpoint) {
	sort.Slice(cps, func(i, j int) bool {
		if cps[i].CreatedAt.Equal(cps[j].CreatedAt) {
			return s.seqByID[cps[i].ID] < s.seqByID[cps[j].ID]
		}
		return cps[i].CreatedAt.Before(cps[j].CreatedAt)
	})
}

func (r *checkpointRepo) ListByThread(ctx context.Context, threadID string) ([]*models.Checkpoint, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoints := []*models.Checkpoint{}
	for _, cp := range s.checkpoints {
		if cp.ThreadID == threadID {
			checkpoints = append(checkpoints, s.withPosition(cp))
		}
	}
	s.sortByCreation(checkpoints)
	return checkpoints, nil
}

func (r *checkpointRepo) ListChildren(ctx context.Context, threadID string, parentID *string) ([]*models.Checkpoint, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoints := []*models.Checkpoint{}
	for _, cp := range s.checkpoints {
		if cp.ThreadID != threadID {
			continue
		}
		if parentID == nil {
			if cp.ParentID == nil {
				checkpoints = append(checkpoints, s.withPosition(cp))
			}
		} else if cp.ParentID != nil && *cp.ParentID == *parentID {
			checkpoints = append(checkpoints, s.withPosition(cp))
		}
	}
	s.sortByCreation(checkpoints)
	return checkpoints, nil
}

func (r *checkpointRepo) GetPath(ctx context.Context, threadID, id string) ([]*models.Checkpoint, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var path []*models.Checkpoint
	current := id
	for depth := 0; depth < 100; depth++ {
		cp, ok := s.checkpoints[current]
		if !ok || cp.ThreadID != threadID {
			if depth == 0 {
				return nil, fmt.Errorf("checkpoint %s: %w", id, domain.ErrNotFound)
			}
			break
		}
		path = append(path, s.withPosition(cp))
		if cp.ParentID == nil {
			break
		}
		current = *cp.ParentID
	}

	// Reverse to root-first order
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

func (r *checkpointRepo) DeleteSubtree(ctx context.Context, threadID, id string) ([]string, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	root, ok := s.checkpoints[id]
	if !ok || root.ThreadID != threadID {
		return nil, fmt.Errorf("checkpoint %s: %w", id, domain.ErrNotFound)
	}

	children := make(map[string][]string)
	for _, cp := range s.checkpoints {
		if cp.ThreadID == threadID && cp.ParentID != nil {
			children[*cp.ParentID] = append(children[*cp.ParentID], cp.ID)
		}
	}

	var deleted []string
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		deleted = append(deleted, current)
		stack = append(stack, children[current]...)
	}

	for _, cpID := range deleted {
		delete(s.checkpoints, cpID)
		delete(s.positions, cpID)
		delete(s.seqByID, cpID)
	}
	return deleted, nil
}

func (r *checkpointRepo) Search(ctx context.Context, threadID, query string, limit int) ([]*models.Checkpoint, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	matches := []*models.Checkpoint{}
	for _, cp := range s.checkpoints {
		if cp.ThreadID == threadID && strings.Contains(strings.ToLower(cp.Content), needle) {
			matches = append(matches, s.withPosition(cp))
		}
	}
	s.sortByCreation(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *checkpointRepo) SavePositions(ctx context.Context, threadID string, positions []models.NodePosition) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pos := range positions {
		cp, ok := s.checkpoints[pos.NodeID]
		if !ok || cp.ThreadID != threadID {
			continue
		}
		s.positions[pos.NodeID] = pos
	}
	return nil
}
