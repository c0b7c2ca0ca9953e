package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"crucible/internal/domain"
	"crucible/internal/domain/models"
	llmSvc "crucible/internal/domain/services/llm"
	"crucible/internal/repository/memory"
	"crucible/internal/service/history"
)

// fakeProvider streams scripted tokens per model. Models containing
// "fail" error after failAfter tokens; models with a gate block before
// finishing until the gate is closed.
type fakeProvider struct {
	mu        sync.Mutex
	tokens    map[string][]string
	failAfter map[string]int
	gates     map[string]chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		tokens:    make(map[string][]string),
		failAfter: make(map[string]int),
		gates:     make(map[string]chan struct{}),
	}
}

func (p *fakeProvider) script(model string, tokens ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[model] = tokens
}

func (p *fakeProvider) failAt(model string, after int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAfter[model] = after
}

func (p *fakeProvider) gate(model string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	gate := make(chan struct{})
	p.gates[model] = gate
	return gate
}

func (p *fakeProvider) Name() string              { return "fake" }
func (p *fakeProvider) SupportsModel(string) bool { return true }

func (p *fakeProvider) StreamResponse(ctx context.Context, req *llmSvc.GenerateRequest) (<-chan llmSvc.StreamEvent, error) {
	p.mu.Lock()
	tokens := p.tokens[req.Model]
	failAfter, failing := p.failAfter[req.Model]
	gate := p.gates[req.Model]
	p.mu.Unlock()

	events := make(chan llmSvc.StreamEvent, len(tokens)+2)
	go func() {
		defer close(events)
		for i, tok := range tokens {
			if failing && i == failAfter {
				events <- llmSvc.StreamEvent{Error: fmt.Errorf("scripted failure for %s", req.Model)}
				return
			}
			select {
			case <-ctx.Done():
				events <- llmSvc.StreamEvent{Error: ctx.Err()}
				return
			default:
			}
			events <- llmSvc.StreamEvent{Token: tok}
		}
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				events <- llmSvc.StreamEvent{Error: ctx.Err()}
				return
			}
		}
		events <- llmSvc.StreamEvent{Metadata: &llmSvc.StreamMetadata{Model: req.Model, FinishReason: "stop"}}
	}()
	return events, nil
}

type fakeGetter struct{ provider llmSvc.ModelProvider }

func (g fakeGetter) GetProvider(string) (llmSvc.ModelProvider, error) { return g.provider, nil }

// fakeTransport records every event sent to the client.
type fakeTransport struct {
	mu     sync.Mutex
	events []models.WSEvent
}

func (t *fakeTransport) Send(event models.WSEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
	return nil
}

func (t *fakeTransport) byType(eventType string) []models.WSEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.WSEvent
	for _, e := range t.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) (*Manager, *history.Service, *fakeProvider) {
	t.Helper()
	store := memory.NewStore()
	hist := history.NewService(store.Threads(), store.Checkpoints(), store, testLogger())
	provider := newFakeProvider()
	return NewManager(hist, fakeGetter{provider}, testLogger()), hist, provider
}

func waitDone(t *testing.T, session *Session) {
	t.Helper()
	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finalize in time")
	}
}

func TestFanOutCommitsSiblingCheckpoints(t *testing.T) {
	ctx := context.Background()
	mgr, hist, provider := newTestManager(t)
	provider.script("m1", "alpha ", "beta")
	provider.script("m2", "gamma")
	provider.script("m3", "delta ", "epsilon ", "zeta")

	thread, err := hist.EnsureThread(ctx, "t1")
	if err != nil {
		t.Fatalf("EnsureThread: %v", err)
	}
	rootID := *thread.ActiveCheckpointID

	transport := &fakeTransport{}
	session, err := mgr.Start(ctx, &Request{
		ThreadID: "t1",
		Message:  "hello world",
		Models:   []string{"m1", "m2", "m3"},
	}, transport)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, session)

	children, err := hist.ListChildren(ctx, "t1", &rootID)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("got %d children, want 3", len(children))
	}

	wantContent := map[string]string{
		"m1": "alpha beta",
		"m2": "gamma",
		"m3": "delta epsilon zeta",
	}
	for _, cp := range children {
		if cp.Role != models.RoleAI {
			t.Errorf("child %s role = %q, want %q", cp.ID, cp.Role, models.RoleAI)
		}
		if cp.ParentID == nil || *cp.ParentID != rootID {
			t.Errorf("child %s not parented to root", cp.ID)
		}
		if cp.Prompt() != "hello world" {
			t.Errorf("child %s prompt = %q, want %q", cp.ID, cp.Prompt(), "hello world")
		}
		if cp.Model == nil {
			t.Fatalf("child %s has no model", cp.ID)
		}
		if got := cp.Content; got != wantContent[*cp.Model] {
			t.Errorf("model %s content = %q, want %q", *cp.Model, got, wantContent[*cp.Model])
		}
	}

	// Active pointer moved to one of the new children.
	thread, err = hist.GetThread(ctx, "t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	found := false
	for _, cp := range children {
		if thread.ActiveCheckpointID != nil && *thread.ActiveCheckpointID == cp.ID {
			found = true
		}
	}
	if !found {
		t.Error("active checkpoint is not one of the committed children")
	}

	if starts := transport.byType(models.WSEventStreamStart); len(starts) != 3 {
		t.Errorf("got %d stream_start events, want 3", len(starts))
	}
	if ends := transport.byType(models.WSEventStreamEnd); len(ends) != 3 {
		t.Errorf("got %d stream_end events, want 3", len(ends))
	}
	if updates := transport.byType(models.WSEventChatUpdate); len(updates) != 1 {
		t.Errorf("got %d chat_update events, want 1", len(updates))
	}
	if trees := transport.byType(models.WSEventTreeUpdate); len(trees) != 1 {
		t.Errorf("got %d tree_update events, want 1", len(trees))
	}
}

func TestFanOutTokenStreamMatchesCommittedContent(t *testing.T) {
	ctx := context.Background()
	mgr, hist, provider := newTestManager(t)
	provider.script("m1", "one ", "two ", "three")

	thread, _ := hist.EnsureThread(ctx, "t1")
	rootID := *thread.ActiveCheckpointID

	transport := &fakeTransport{}
	session, err := mgr.Start(ctx, &Request{ThreadID: "t1", Message: "go", Models: []string{"m1"}}, transport)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, session)

	var streamed strings.Builder
	for _, e := range transport.byType(models.WSEventStreamToken) {
		streamed.WriteString(e.Token)
	}

	children, _ := hist.ListChildren(ctx, "t1", &rootID)
	if len(children) != 1 {
		t.Fatalf("got %d children, want 1", len(children))
	}
	if streamed.String() != children[0].Content {
		t.Errorf("streamed %q != committed %q", streamed.String(), children[0].Content)
	}
}

func TestFanOutFailureIsolation(t *testing.T) {
	ctx := context.Background()
	mgr, hist, provider := newTestManager(t)
	provider.script("m-ok", "fine")
	provider.script("m-bad", "partial ", "output")
	provider.failAt("m-bad", 1)

	thread, _ := hist.EnsureThread(ctx, "t1")
	rootID := *thread.ActiveCheckpointID

	transport := &fakeTransport{}
	session, err := mgr.Start(ctx, &Request{ThreadID: "t1", Message: "q", Models: []string{"m-ok", "m-bad"}}, transport)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, session)

	children, _ := hist.ListChildren(ctx, "t1", &rootID)
	if len(children) != 1 {
		t.Fatalf("got %d children, want 1 (failed model must not commit)", len(children))
	}
	if *children[0].Model != "m-ok" {
		t.Errorf("committed model = %q, want m-ok", *children[0].Model)
	}

	errs := transport.byType(models.WSEventError)
	if len(errs) != 1 {
		t.Fatalf("got %d error events, want 1", len(errs))
	}
	if errs[0].Model != "m-bad" {
		t.Errorf("error event model = %q, want m-bad", errs[0].Model)
	}

	thread, _ = hist.GetThread(ctx, "t1")
	if thread.ActiveCheckpointID == nil || *thread.ActiveCheckpointID != children[0].ID {
		t.Error("active checkpoint should be the surviving commit")
	}
}

func TestFanOutAllFailedLeavesTreeUnchanged(t *testing.T) {
	ctx := context.Background()
	mgr, hist, provider := newTestManager(t)
	provider.script("m1", "x")
	provider.failAt("m1", 0)
	provider.script("m2", "y")
	provider.failAt("m2", 0)

	thread, _ := hist.EnsureThread(ctx, "t1")
	rootID := *thread.ActiveCheckpointID

	transport := &fakeTransport{}
	session, err := mgr.Start(ctx, &Request{ThreadID: "t1", Message: "q", Models: []string{"m1", "m2"}}, transport)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, session)

	children, _ := hist.ListChildren(ctx, "t1", &rootID)
	if len(children) != 0 {
		t.Fatalf("got %d children, want 0", len(children))
	}
	thread, _ = hist.GetThread(ctx, "t1")
	if thread.ActiveCheckpointID == nil || *thread.ActiveCheckpointID != rootID {
		t.Error("active checkpoint moved despite no commits")
	}
	if updates := transport.byType(models.WSEventChatUpdate); len(updates) != 0 {
		t.Errorf("got %d chat_update events, want 0", len(updates))
	}
}

func TestConcurrentTurnRejected(t *testing.T) {
	ctx := context.Background()
	mgr, hist, provider := newTestManager(t)
	provider.script("m1", "slow")
	gate := provider.gate("m1")

	hist.EnsureThread(ctx, "t1")

	transport := &fakeTransport{}
	session, err := mgr.Start(ctx, &Request{ThreadID: "t1", Message: "q", Models: []string{"m1"}}, transport)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err = mgr.Start(ctx, &Request{ThreadID: "t1", Message: "again", Models: []string{"m1"}}, transport)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second Start error = %v, want conflict", err)
	}

	// Another thread is unaffected.
	hist.EnsureThread(ctx, "t2")
	other, err := mgr.Start(ctx, &Request{ThreadID: "t2", Message: "q", Models: []string{"m2"}}, transport)
	if err != nil {
		t.Fatalf("Start on second thread: %v", err)
	}
	waitDone(t, other)

	close(gate)
	waitDone(t, session)

	if mgr.Active("t1") {
		t.Error("session still registered after finalize")
	}
}

func TestStopRacingStartSeesInitializedCancel(t *testing.T) {
	// A Stop that observes the session in the map must also observe its
	// cancel function; a nil cancel here panics the stopping goroutine.
	ctx := context.Background()
	mgr, hist, provider := newTestManager(t)
	provider.script("m1", "tok")

	for i := 0; i < 50; i++ {
		threadID := fmt.Sprintf("race-%d", i)
		hist.EnsureThread(ctx, threadID)

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					mgr.Stop(threadID)
				}
			}
		}()

		session, err := mgr.Start(ctx, &Request{
			ThreadID: threadID,
			Message:  "q",
			Models:   []string{"m1"},
		}, &fakeTransport{})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		close(stop)
		wg.Wait()
		waitDone(t, session)
	}
}

func TestStopCancelsStreamingButKeepsCommits(t *testing.T) {
	ctx := context.Background()
	mgr, hist, provider := newTestManager(t)
	provider.script("m-fast", "done")
	provider.script("m-stuck", "never")
	gate := provider.gate("m-stuck")
	defer close(gate)

	thread, _ := hist.EnsureThread(ctx, "t1")
	rootID := *thread.ActiveCheckpointID

	transport := &fakeTransport{}
	session, err := mgr.Start(ctx, &Request{ThreadID: "t1", Message: "q", Models: []string{"m-fast", "m-stuck"}}, transport)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for the fast model's commit before stopping.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if ends := transport.byType(models.WSEventStreamEnd); len(ends) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("fast model never committed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !mgr.Stop("t1") {
		t.Fatal("Stop returned false with a session in flight")
	}
	waitDone(t, session)

	children, _ := hist.ListChildren(ctx, "t1", &rootID)
	if len(children) != 1 {
		t.Fatalf("got %d children, want 1 (cancelled model must not commit)", len(children))
	}
	if *children[0].Model != "m-fast" {
		t.Errorf("surviving commit from %q, want m-fast", *children[0].Model)
	}

	thread, _ = hist.GetThread(ctx, "t1")
	if thread.ActiveCheckpointID == nil || *thread.ActiveCheckpointID != children[0].ID {
		t.Error("active checkpoint should be the retained commit")
	}

	if mgr.Stop("t1") {
		t.Error("Stop should return false with no session in flight")
	}
}

func TestSynthesisCommitsSiblingOfReplies(t *testing.T) {
	ctx := context.Background()
	mgr, hist, provider := newTestManager(t)
	provider.script("judge", "merged ", "verdict")

	thread, _ := hist.EnsureThread(ctx, "t1")
	rootID := *thread.ActiveCheckpointID

	for _, m := range []string{"m1", "m2"} {
		model := m
		_, err := hist.CreateCheckpoint(ctx, &history.CreateCheckpointRequest{
			ThreadID: "t1",
			ParentID: &rootID,
			Role:     models.RoleAI,
			Content:  "answer from " + model,
			Model:    &model,
			Metadata: map[string]any{"prompt": "the question"},
		})
		if err != nil {
			t.Fatalf("CreateCheckpoint: %v", err)
		}
	}

	transport := &fakeTransport{}
	session, err := mgr.Synthesize(ctx, &SynthesisRequest{
		ThreadID:           "t1",
		Model:              "judge",
		ParentCheckpointID: &rootID,
	}, transport)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	waitDone(t, session)

	children, _ := hist.ListChildren(ctx, "t1", &rootID)
	if len(children) != 3 {
		t.Fatalf("got %d children of root, want 3", len(children))
	}

	var synth *models.Checkpoint
	for _, cp := range children {
		if cp.Role == models.RoleSynthesis {
			synth = cp
		}
	}
	if synth == nil {
		t.Fatal("no synthesis checkpoint committed")
	}
	if synth.ParentID == nil || *synth.ParentID != rootID {
		t.Error("synthesis node must parent the shared parent, not a reply")
	}
	if synth.Content != "merged verdict" {
		t.Errorf("synthesis content = %q", synth.Content)
	}
	if synth.Prompt() != "" {
		t.Error("synthesis prompt must not leak into transcript metadata")
	}
	if v, _ := synth.Metadata["synthesis"].(bool); !v {
		t.Error("synthesis metadata flag missing")
	}
}

func TestSynthesisRequiresTwoReplies(t *testing.T) {
	ctx := context.Background()
	mgr, hist, _ := newTestManager(t)

	thread, _ := hist.EnsureThread(ctx, "t1")
	rootID := *thread.ActiveCheckpointID

	model := "m1"
	hist.CreateCheckpoint(ctx, &history.CreateCheckpointRequest{
		ThreadID: "t1", ParentID: &rootID, Role: models.RoleAI, Content: "only one", Model: &model,
	})

	_, err := mgr.Synthesize(ctx, &SynthesisRequest{
		ThreadID: "t1", Model: "judge", ParentCheckpointID: &rootID,
	}, &fakeTransport{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("error = %v, want validation error", err)
	}
}

func TestAutoTitleOnFirstExchange(t *testing.T) {
	ctx := context.Background()
	mgr, hist, provider := newTestManager(t)
	provider.script("m1", "reply")

	hist.EnsureThread(ctx, "t1")

	transport := &fakeTransport{}
	session, err := mgr.Start(ctx, &Request{
		ThreadID: "t1",
		Message:  "Explain the Standard Model of particle physics in detail",
		Models:   []string{"m1"},
	}, transport)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, session)

	thread, _ := hist.GetThread(ctx, "t1")
	if thread.Title == "New Thread" {
		t.Fatal("thread was not auto-titled")
	}
	titles := transport.byType(models.WSEventTitleUpdate)
	if len(titles) != 1 {
		t.Fatalf("got %d title_update events, want 1", len(titles))
	}
	if titles[0].Title != thread.Title {
		t.Errorf("title event %q != stored title %q", titles[0].Title, thread.Title)
	}

	// A user rename is never overwritten by a later turn.
	if err := hist.RenameThread(ctx, "t1", "My Research"); err != nil {
		t.Fatalf("RenameThread: %v", err)
	}
	provider.script("m1", "more")
	session, err = mgr.Start(ctx, &Request{ThreadID: "t1", Message: "follow up question", Models: []string{"m1"}}, transport)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	waitDone(t, session)

	thread, _ = hist.GetThread(ctx, "t1")
	if thread.Title != "My Research" {
		t.Errorf("title = %q, want user rename preserved", thread.Title)
	}
}

func TestStartValidation(t *testing.T) {
	ctx := context.Background()
	mgr, hist, _ := newTestManager(t)
	hist.EnsureThread(ctx, "t1")

	tests := []struct {
		name string
		req  *Request
	}{
		{"missing thread", &Request{Models: []string{"m1"}}},
		{"no models", &Request{ThreadID: "t1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.Start(ctx, tt.req, &fakeTransport{})
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("error = %v, want validation error", err)
			}
		})
	}
}

func TestExplicitParentBranches(t *testing.T) {
	ctx := context.Background()
	mgr, hist, provider := newTestManager(t)
	provider.script("m1", "first")

	thread, _ := hist.EnsureThread(ctx, "t1")
	rootID := *thread.ActiveCheckpointID

	transport := &fakeTransport{}
	session, _ := mgr.Start(ctx, &Request{ThreadID: "t1", Message: "a", Models: []string{"m1"}}, transport)
	waitDone(t, session)

	// Branch again from the root instead of the new active leaf.
	provider.script("m1", "second")
	session, err := mgr.Start(ctx, &Request{
		ThreadID:           "t1",
		Message:            "b",
		Models:             []string{"m1"},
		ParentCheckpointID: &rootID,
	}, transport)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, session)

	children, _ := hist.ListChildren(ctx, "t1", &rootID)
	if len(children) != 2 {
		t.Fatalf("got %d children of root, want 2 branches", len(children))
	}
}
