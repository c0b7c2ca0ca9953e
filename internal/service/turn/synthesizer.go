package turn

import (
	"context"
	"fmt"
	"strings"

	"crucible/internal/domain"
	"crucible/internal/domain/models"
)

const synthesisSystemPrompt = "You are a synthesis engine. Several models answered the same " +
	"prompt independently. Produce one consolidated answer: merge points of agreement, " +
	"resolve or flag contradictions, and keep the strongest reasoning from each response."

// SynthesisRequest asks for a consensus checkpoint over sibling
// replies. The parent is the checkpoint the siblings branched from;
// when omitted it is derived from the thread's active checkpoint.
type SynthesisRequest struct {
	ThreadID           string
	Model              string
	ParentCheckpointID *string
}

// Synthesize starts a single-task session that reads every
// non-synthesis child of the shared parent and commits one synthesis
// checkpoint as their sibling. The synthesis node parents the shared
// parent, not any individual reply.
func (m *Manager) Synthesize(ctx context.Context, req *SynthesisRequest, transport Transport) (*Session, error) {
	if req.ThreadID == "" {
		return nil, fmt.Errorf("%w: thread id is required", domain.ErrValidation)
	}
	model := req.Model
	if model == "" {
		return nil, fmt.Errorf("%w: synthesis model is required", domain.ErrValidation)
	}

	parentID, err := m.resolveSynthesisParent(ctx, req)
	if err != nil {
		return nil, err
	}

	siblings, err := m.history.ListChildren(ctx, req.ThreadID, &parentID)
	if err != nil {
		return nil, err
	}
	replies := make([]*models.Checkpoint, 0, len(siblings))
	for _, cp := range siblings {
		if cp.Role != models.RoleSynthesis && cp.Content != "" {
			replies = append(replies, cp)
		}
	}
	if len(replies) < 2 {
		return nil, fmt.Errorf("%w: synthesis needs at least two sibling replies, found %d",
			domain.ErrValidation, len(replies))
	}

	session := &Session{
		manager:      m,
		threadID:     req.ThreadID,
		parentID:     parentID,
		expected:     1,
		commitRole:   models.RoleSynthesis,
		prompt:       synthesisPrompt(replies),
		systemPrompt: synthesisSystemPrompt,
		transport:    transport,
		logger:       m.logger,
		done:         make(chan struct{}),
	}

	if err := m.launch(session, []string{model}); err != nil {
		return nil, err
	}

	m.logger.Info("synthesis started",
		"thread_id", req.ThreadID,
		"parent_checkpoint", parentID,
		"model", model,
		"replies", len(replies),
	)
	return session, nil
}

// resolveSynthesisParent finds the checkpoint the sibling replies
// branched from. With no explicit parent, the active checkpoint is
// assumed to be one of the replies and its parent is used.
func (m *Manager) resolveSynthesisParent(ctx context.Context, req *SynthesisRequest) (string, error) {
	if req.ParentCheckpointID != nil && *req.ParentCheckpointID != "" {
		cp, err := m.history.GetCheckpoint(ctx, req.ThreadID, *req.ParentCheckpointID)
		if err != nil {
			return "", err
		}
		return cp.ID, nil
	}

	thread, err := m.history.GetThread(ctx, req.ThreadID)
	if err != nil {
		return "", err
	}
	if thread.ActiveCheckpointID == nil {
		return "", fmt.Errorf("%w: thread %s has no active checkpoint", domain.ErrValidation, thread.ID)
	}
	active, err := m.history.GetCheckpoint(ctx, req.ThreadID, *thread.ActiveCheckpointID)
	if err != nil {
		return "", err
	}
	if active.ParentID == nil {
		return "", fmt.Errorf("%w: active checkpoint has no parent to synthesize under", domain.ErrValidation)
	}
	return *active.ParentID, nil
}

// synthesisPrompt enumerates the sibling replies in creation order so
// the synthesizing model can cite them by ordinal.
func synthesisPrompt(replies []*models.Checkpoint) string {
	var b strings.Builder
	b.WriteString("Synthesize the following responses into one consolidated answer.\n")
	for i, cp := range replies {
		name := "unknown"
		if cp.Model != nil && *cp.Model != "" {
			name = *cp.Model
		}
		fmt.Fprintf(&b, "\nModel %d (%s):\n%s\n", i+1, name, cp.Content)
	}
	return b.String()
}
