// Package turn implements the fan-out/fan-in turn orchestrator: one
// ephemeral session per in-flight turn, one goroutine per selected
// model, finalization when every task reaches a terminal state.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"crucible/internal/domain"
	"crucible/internal/domain/models"
	llmSvc "crucible/internal/domain/services/llm"
	"crucible/internal/service/history"
)

// Transport delivers server events to the client. Implementations must
// serialize writes; the session calls Send from every model goroutine.
type Transport interface {
	Send(event models.WSEvent) error
}

// ProviderGetter resolves a model identifier to its backend provider.
type ProviderGetter interface {
	GetProvider(model string) (llmSvc.ModelProvider, error)
}

// Compressor is the context-compression hook applied to the resolved
// path before dispatch. The default caps per-message and total size by
// character count.
type Compressor func(messages []llmSvc.Message, model string) []llmSvc.Message

// Manager owns at most one live session per thread. A second start
// while one is in flight is rejected with a conflict, never queued,
// so the finished-count accounting of the live session stays sound.
type Manager struct {
	history   *history.Service
	providers ProviderGetter
	compress  Compressor
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a turn manager.
func NewManager(historySvc *history.Service, providers ProviderGetter, logger *slog.Logger) *Manager {
	return &Manager{
		history:   historySvc,
		providers: providers,
		compress:  capByChars,
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// SetCompressor replaces the context-compression hook.
func (m *Manager) SetCompressor(c Compressor) {
	if c != nil {
		m.compress = c
	}
}

// Request describes one user turn to fan out.
type Request struct {
	ThreadID           string
	Message            string
	Models             []string
	ParentCheckpointID *string
	Toggles            map[string]bool
	Documents          []models.AttachedDocument
	IsDeliberation     bool
}

func (m *Manager) validateRequest(req *Request) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ThreadID, validation.Required),
		validation.Field(&req.Models, validation.Required, validation.Length(1, 0)),
	)
}

// Start begins a fan-out turn. It returns once the session is
// registered and all model tasks are spawned; streaming continues in
// the background against the given transport.
func (m *Manager) Start(ctx context.Context, req *Request, transport Transport) (*Session, error) {
	if err := m.validateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	thread, err := m.history.EnsureThread(ctx, req.ThreadID)
	if err != nil {
		return nil, err
	}

	parentID, err := m.resolveParent(ctx, thread, req.ParentCheckpointID)
	if err != nil {
		return nil, err
	}

	session := &Session{
		manager:      m,
		threadID:     req.ThreadID,
		parentID:     parentID,
		expected:     len(req.Models),
		commitRole:   models.RoleAI,
		prompt:       req.Message,
		documents:    req.Documents,
		toggles:      req.Toggles,
		deliberation: req.IsDeliberation,
		storePrompt:  true,
		transport:    transport,
		logger:       m.logger,
		done:         make(chan struct{}),
	}

	if err := m.launch(session, req.Models); err != nil {
		return nil, err
	}

	m.logger.Info("turn started",
		"thread_id", req.ThreadID,
		"parent_checkpoint", parentID,
		"models", req.Models,
		"deliberation", req.IsDeliberation,
	)
	return session, nil
}

// launch registers the session and spawns one task per model. A thread
// with a session already in flight rejects the new one; it is never
// queued.
func (m *Manager) launch(session *Session, modelIDs []string) error {
	// The session outlives the triggering request, like any background
	// streaming turn: it runs on its own context and is cancelled only
	// by an explicit stop. cancel must be assigned before the session
	// becomes visible in the map, or a concurrent Stop could read it
	// as nil.
	sessionCtx, cancel := context.WithCancel(context.Background())
	session.cancel = cancel

	m.mu.Lock()
	if _, active := m.sessions[session.threadID]; active {
		m.mu.Unlock()
		cancel()
		return &domain.ConflictError{
			Message:      fmt.Sprintf("a turn is already in flight for thread %s", session.threadID),
			ResourceType: "session",
			ResourceID:   session.threadID,
		}
	}
	m.sessions[session.threadID] = session
	m.mu.Unlock()

	for _, model := range modelIDs {
		go session.runModel(sessionCtx, model)
	}
	return nil
}

// Stop cancels the in-flight session for a thread, if any. Checkpoints
// already committed are retained; still-streaming tasks terminate
// without committing.
func (m *Manager) Stop(threadID string) bool {
	m.mu.Lock()
	session := m.sessions[threadID]
	m.mu.Unlock()

	if session == nil {
		return false
	}
	m.logger.Info("turn stop requested", "thread_id", threadID)
	session.cancel()
	return true
}

// Active reports whether a session is in flight for the thread.
func (m *Manager) Active(threadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[threadID] != nil
}

// release removes a finalized session. Only the finalizing task calls
// this, exactly once per session.
func (m *Manager) release(session *Session) {
	m.mu.Lock()
	if m.sessions[session.threadID] == session {
		delete(m.sessions, session.threadID)
	}
	m.mu.Unlock()
}

// resolveParent picks the checkpoint the turn extends: the explicit
// parent when given, otherwise the thread's active pointer.
func (m *Manager) resolveParent(ctx context.Context, thread *models.Thread, explicit *string) (string, error) {
	if explicit != nil && *explicit != "" {
		cp, err := m.history.GetCheckpoint(ctx, thread.ID, *explicit)
		if err != nil {
			return "", err
		}
		return cp.ID, nil
	}
	if thread.ActiveCheckpointID == nil {
		return "", fmt.Errorf("%w: thread %s has no active checkpoint", domain.ErrValidation, thread.ID)
	}
	return *thread.ActiveCheckpointID, nil
}
