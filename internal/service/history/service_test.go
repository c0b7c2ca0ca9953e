package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"crucible/internal/domain"
	"crucible/internal/domain/models"
	"crucible/internal/repository/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store.Threads(), store.Checkpoints(), store, logger)
}

// buildChain creates a linear chain of n AI checkpoints under the
// thread's root and returns all ids, root first.
func buildChain(t *testing.T, svc *Service, threadID string, n int) []string {
	t.Helper()
	ctx := context.Background()

	thread, err := svc.EnsureThread(ctx, threadID)
	if err != nil {
		t.Fatalf("EnsureThread: %v", err)
	}
	ids := []string{*thread.ActiveCheckpointID}

	parent := ids[0]
	for i := 0; i < n; i++ {
		model := "m1"
		id, err := svc.CreateCheckpoint(ctx, &CreateCheckpointRequest{
			ThreadID: threadID,
			ParentID: &parent,
			Role:     models.RoleAI,
			Content:  "reply " + strings.Repeat("x", i+1),
			Model:    &model,
			Metadata: map[string]any{"prompt": "question " + strings.Repeat("y", i+1)},
		})
		if err != nil {
			t.Fatalf("CreateCheckpoint %d: %v", i, err)
		}
		ids = append(ids, id)
		parent = id
	}
	return ids
}

func TestEnsureThreadCreatesRoot(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	thread, err := svc.EnsureThread(ctx, "t1")
	if err != nil {
		t.Fatalf("EnsureThread: %v", err)
	}
	if thread.Title != "New Thread" {
		t.Errorf("title = %q, want New Thread", thread.Title)
	}
	if thread.ActiveCheckpointID == nil {
		t.Fatal("no active checkpoint after creation")
	}

	root, err := svc.GetCheckpoint(ctx, "t1", *thread.ActiveCheckpointID)
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if root.Role != models.RoleUser || root.Content != "" || root.ParentID != nil {
		t.Errorf("root = %+v, want empty user root", root)
	}

	// Idempotent: a second ensure returns the same thread.
	again, err := svc.EnsureThread(ctx, "t1")
	if err != nil {
		t.Fatalf("second EnsureThread: %v", err)
	}
	if *again.ActiveCheckpointID != *thread.ActiveCheckpointID {
		t.Error("second ensure created a new root")
	}
}

func TestCreateCheckpointUnknownParent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	svc.EnsureThread(ctx, "t1")

	missing := "00000000-0000-0000-0000-000000000000"
	_, err := svc.CreateCheckpoint(ctx, &CreateCheckpointRequest{
		ThreadID: "t1",
		ParentID: &missing,
		Role:     models.RoleAI,
		Content:  "orphan",
	})
	if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrUnknownParent) {
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("error = %v, want unknown parent rejection", err)
		}
	}
}

func TestGetPathRootFirst(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	ids := buildChain(t, svc, "t1", 3)

	path, err := svc.GetPath(ctx, "t1", ids[len(ids)-1])
	if err != nil {
		t.Fatalf("GetPath: %v", err)
	}
	if len(path) != len(ids) {
		t.Fatalf("path length = %d, want %d", len(path), len(ids))
	}
	for i, cp := range path {
		if cp.ID != ids[i] {
			t.Errorf("path[%d] = %s, want %s", i, cp.ID, ids[i])
		}
	}
}

func TestGetPathConcurrentSiblings(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	ids := buildChain(t, svc, "t1", 5)

	// Two siblings off the deepest node.
	var leaves []string
	parent := ids[len(ids)-1]
	for i := 0; i < 2; i++ {
		id, err := svc.CreateCheckpoint(ctx, &CreateCheckpointRequest{
			ThreadID: "t1", ParentID: &parent, Role: models.RoleAI, Content: "sibling",
		})
		if err != nil {
			t.Fatalf("CreateCheckpoint: %v", err)
		}
		leaves = append(leaves, id)
	}

	errs := make(chan error, len(leaves))
	for _, leaf := range leaves {
		leaf := leaf
		go func() {
			path, err := svc.GetPath(ctx, "t1", leaf)
			if err == nil && path[len(path)-1].ID != leaf {
				err = errors.New("path does not end at requested leaf")
			}
			errs <- err
		}()
	}
	for range leaves {
		if err := <-errs; err != nil {
			t.Errorf("concurrent GetPath: %v", err)
		}
	}
}

func TestDeleteCheckpointMovesActivePointer(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	ids := buildChain(t, svc, "t1", 3)

	// Point active at the leaf, then delete the middle node.
	leaf := ids[len(ids)-1]
	if err := svc.SetActiveCheckpoint(ctx, "t1", leaf); err != nil {
		t.Fatalf("SetActiveCheckpoint: %v", err)
	}

	middle := ids[2]
	deleted, err := svc.DeleteCheckpoint(ctx, "t1", middle)
	if err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted %d checkpoints, want 2 (node and its subtree)", deleted)
	}

	thread, _ := svc.GetThread(ctx, "t1")
	if thread.ActiveCheckpointID == nil || *thread.ActiveCheckpointID != ids[1] {
		t.Errorf("active = %v, want former parent %s", thread.ActiveCheckpointID, ids[1])
	}

	// The deleted subtree is gone.
	if _, err := svc.GetCheckpoint(ctx, "t1", leaf); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("leaf still reachable after subtree delete: %v", err)
	}
}

func TestDeleteCheckpointOutsideActivePath(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	ids := buildChain(t, svc, "t1", 2)

	// Branch off the root; active stays on the chain.
	root := ids[0]
	branch, err := svc.CreateCheckpoint(ctx, &CreateCheckpointRequest{
		ThreadID: "t1", ParentID: &root, Role: models.RoleAI, Content: "side branch",
	})
	if err != nil {
		t.Fatalf("CreateCheckpoint: %v", err)
	}
	if err := svc.SetActiveCheckpoint(ctx, "t1", ids[len(ids)-1]); err != nil {
		t.Fatalf("SetActiveCheckpoint: %v", err)
	}

	if _, err := svc.DeleteCheckpoint(ctx, "t1", branch); err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}

	thread, _ := svc.GetThread(ctx, "t1")
	if *thread.ActiveCheckpointID != ids[len(ids)-1] {
		t.Error("active pointer moved although it was outside the deleted subtree")
	}
}

func TestRenameThreadValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	svc.EnsureThread(ctx, "t1")

	tests := []struct {
		name    string
		title   string
		wantErr bool
	}{
		{"valid", "Research Notes", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 256), true},
		{"max length", strings.Repeat("a", 255), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.RenameThread(ctx, "t1", tt.title)
			if tt.wantErr && !errors.Is(err, domain.ErrValidation) {
				t.Errorf("error = %v, want validation error", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	thread, _ := svc.EnsureThread(ctx, "t1")
	root := *thread.ActiveCheckpointID

	long := strings.Repeat("a", 200) + " NEEDLE " + strings.Repeat("b", 200)
	for _, content := range []string{"short needle here", long, "nothing relevant"} {
		if _, err := svc.CreateCheckpoint(ctx, &CreateCheckpointRequest{
			ThreadID: "t1", ParentID: &root, Role: models.RoleAI, Content: content,
		}); err != nil {
			t.Fatalf("CreateCheckpoint: %v", err)
		}
	}

	t.Run("case insensitive with excerpts", func(t *testing.T) {
		results, err := svc.Search(ctx, "t1", "needle")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
		for _, res := range results {
			if !strings.Contains(strings.ToLower(res.Excerpt), "needle") {
				t.Errorf("excerpt %q does not contain the match", res.Excerpt)
			}
		}
	})

	t.Run("long content is windowed", func(t *testing.T) {
		results, _ := svc.Search(ctx, "t1", "NEEDLE")
		for _, res := range results {
			if len([]rune(res.Excerpt)) > excerptBefore+excerptAfter+len("NEEDLE")+6 {
				t.Errorf("excerpt too long: %d runes", len([]rune(res.Excerpt)))
			}
		}
	})

	t.Run("short query returns nothing", func(t *testing.T) {
		results, err := svc.Search(ctx, "t1", "n")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 0 {
			t.Errorf("got %d results for 1-rune query, want 0", len(results))
		}
	})

	t.Run("whitespace trimmed", func(t *testing.T) {
		results, err := svc.Search(ctx, "t1", "  needle  ")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 2 {
			t.Errorf("got %d results, want 2", len(results))
		}
	})
}

func TestBuildExcerptMarkers(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		query      string
		wantPrefix bool
		wantSuffix bool
	}{
		{"match at start", "needle then lots of following text", "needle", false, false},
		{"match in middle of long text", strings.Repeat("a", 100) + "needle" + strings.Repeat("b", 100), "needle", true, true},
		{"match near end", strings.Repeat("a", 100) + "needle", "needle", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			excerpt := buildExcerpt(tt.content, tt.query)
			if got := strings.HasPrefix(excerpt, "..."); got != tt.wantPrefix {
				t.Errorf("prefix ellipsis = %v, want %v (%q)", got, tt.wantPrefix, excerpt)
			}
			if got := strings.HasSuffix(excerpt, "..."); got != tt.wantSuffix {
				t.Errorf("suffix ellipsis = %v, want %v (%q)", got, tt.wantSuffix, excerpt)
			}
			if !strings.Contains(excerpt, tt.query) {
				t.Errorf("excerpt %q missing match", excerpt)
			}
		})
	}
}
