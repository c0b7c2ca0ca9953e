package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"crucible/internal/domain/models"
	llmSvc "crucible/internal/domain/services/llm"
	"crucible/internal/service/history"
)

// terminalCommit records one successfully committed checkpoint with
// the monotonic sequence assigned when its terminal event arrived.
// The lowest sequence wins the active pointer, which makes the
// first-to-finish rule deterministic under goroutine interleaving.
type terminalCommit struct {
	checkpointID string
	seq          int
}

// Session is one in-flight turn: N model tasks fanning out from a
// shared parent checkpoint and joining on N terminal events.
//
// Each model's token buffer is owned exclusively by that model's
// goroutine. The only cross-task state is the finished counter
// (atomic) and the commit list (mutex).
type Session struct {
	manager    *Manager
	threadID   string
	parentID   string
	expected   int
	commitRole string

	prompt       string
	documents    []models.AttachedDocument
	toggles      map[string]bool
	deliberation bool
	// storePrompt embeds the user prompt in committed checkpoint
	// metadata for transcript reconstruction. Synthesis turns leave it
	// off so the technical prompt never shows up in transcripts.
	storePrompt bool
	// systemPrompt overrides the default system prompt when set.
	systemPrompt string

	transport Transport
	logger    *slog.Logger
	cancel    context.CancelFunc

	finished atomic.Int32
	mu       sync.Mutex
	seq      int
	commits  []terminalCommit

	done chan struct{}
}

// Done is closed when the session has finalized.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// send pushes one event to the client. Transport failures are logged
// and dropped: a dead client must not stall server-side commits.
func (s *Session) send(event models.WSEvent) {
	if err := s.transport.Send(event); err != nil {
		s.logger.Debug("transport send failed",
			"thread_id", s.threadID,
			"event", event.Type,
			"error", err,
		)
	}
}

// runModel is one model's task: resolve context, stream, commit on
// success, then record the terminal event. Exactly one terminal event
// is recorded per task regardless of outcome.
func (s *Session) runModel(ctx context.Context, model string) {
	content, err := s.stream(ctx, model)

	var checkpointID string
	if err == nil {
		// Commit survives a cancel that lands after streaming ended;
		// the task is already past its terminal point.
		checkpointID, err = s.commit(context.WithoutCancel(ctx), model, content)
	}

	switch {
	case err == nil:
		s.send(models.WSEvent{
			Type:         models.WSEventStreamEnd,
			Model:        model,
			CheckpointID: checkpointID,
		})
	case errors.Is(err, context.Canceled):
		// Stopped by the user; nothing to report.
	default:
		s.logger.Error("model task failed",
			"thread_id", s.threadID,
			"model", model,
			"error", err,
		)
		s.send(models.WSEvent{
			Type:    models.WSEventError,
			Model:   model,
			Message: err.Error(),
		})
	}

	s.recordTerminal(checkpointID, err)
}

// stream drives one provider stream to completion, forwarding tokens
// and accumulating them in a task-local buffer.
func (s *Session) stream(ctx context.Context, model string) (string, error) {
	provider, err := s.manager.providers.GetProvider(model)
	if err != nil {
		return "", err
	}

	messages, systemPrompt, err := s.buildContext(ctx, model)
	if err != nil {
		return "", err
	}

	s.send(models.WSEvent{Type: models.WSEventStreamStart, Model: model})

	events, err := provider.StreamResponse(ctx, &llmSvc.GenerateRequest{
		Messages:     messages,
		Model:        model,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	for event := range events {
		if event.Error != nil {
			return "", event.Error
		}
		if event.Token != "" {
			buf.WriteString(event.Token)
			s.send(models.WSEvent{
				Type:  models.WSEventStreamToken,
				Model: model,
				Token: event.Token,
			})
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// commit stores the accumulated response as a new child of the shared
// parent.
func (s *Session) commit(ctx context.Context, model, content string) (string, error) {
	metadata := map[string]any{}
	if s.storePrompt {
		metadata["prompt"] = s.prompt
	}
	if s.deliberation {
		metadata["deliberation"] = true
	}
	if len(s.toggles) > 0 {
		metadata["toggles"] = s.toggles
	}
	if s.commitRole == models.RoleSynthesis {
		metadata["synthesis"] = true
		metadata["preview"] = previewOf(content)
	}

	parent := s.parentID
	return s.manager.history.CreateCheckpoint(ctx, &history.CreateCheckpointRequest{
		ThreadID: s.threadID,
		ParentID: &parent,
		Role:     s.commitRole,
		Content:  content,
		Model:    &model,
		Metadata: metadata,
	})
}

// recordTerminal counts one terminal event and finalizes the session
// when the last task reports in. The finalize step runs on whichever
// goroutine closes the count.
func (s *Session) recordTerminal(checkpointID string, err error) {
	s.mu.Lock()
	s.seq++
	if err == nil && checkpointID != "" {
		s.commits = append(s.commits, terminalCommit{checkpointID: checkpointID, seq: s.seq})
	}
	s.mu.Unlock()

	if int(s.finished.Add(1)) == s.expected {
		s.finalize()
	}
}

// finalize picks the new active checkpoint (first committed by arrival
// sequence), pushes the refreshed transcript and tree signal, and
// destroys the session. Runs exactly once.
func (s *Session) finalize() {
	defer close(s.done)
	s.manager.release(s)

	ctx := context.Background()

	s.mu.Lock()
	var active *terminalCommit
	for i := range s.commits {
		if active == nil || s.commits[i].seq < active.seq {
			active = &s.commits[i]
		}
	}
	committed := len(s.commits)
	s.mu.Unlock()

	s.logger.Info("turn finalized",
		"thread_id", s.threadID,
		"expected", s.expected,
		"committed", committed,
	)

	if active == nil {
		// Every task failed or was cancelled; the tree is unchanged.
		s.send(models.WSEvent{Type: models.WSEventTreeUpdate})
		return
	}

	if err := s.manager.history.SetActiveCheckpoint(ctx, s.threadID, active.checkpointID); err != nil {
		s.logger.Error("set active checkpoint failed",
			"thread_id", s.threadID,
			"checkpoint_id", active.checkpointID,
			"error", err,
		)
	}

	messages, err := s.manager.history.Messages(ctx, s.threadID, active.checkpointID)
	if err != nil {
		s.logger.Error("transcript rebuild failed", "thread_id", s.threadID, "error", err)
	} else {
		s.send(models.WSEvent{
			Type:         models.WSEventChatUpdate,
			Messages:     messages,
			CheckpointID: active.checkpointID,
		})
	}
	s.send(models.WSEvent{Type: models.WSEventTreeUpdate})

	s.maybeAutoTitle(ctx)
}

// previewOf returns a short content preview for synthesis metadata.
func previewOf(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) > 50 {
		return string(runes[:50])
	}
	return string(runes)
}
