package handler

import (
	"log/slog"
	"net/http"

	"crucible/internal/domain/models"
	"crucible/internal/httputil"
	"crucible/internal/service/history"
)

// HistoryHandler serves the checkpoint tree endpoints: graph views,
// transcripts, positions, subtree deletes and search.
type HistoryHandler struct {
	history *history.Service
	logger  *slog.Logger
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(historySvc *history.Service, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{history: historySvc, logger: logger}
}

// GetTree handles GET /api/threads/{thread_id}/tree
// Optional ?checkpoint_id= overrides which node renders as current.
func (h *HistoryHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	graph, err := h.history.GetGraph(r.Context(), r.PathValue("thread_id"), optionalQuery(r, "checkpoint_id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, graph)
}

// GetMessages handles GET /api/threads/{thread_id}/messages
// Returns the transcript of the path ending at ?checkpoint_id=, or at
// the thread's active checkpoint when omitted.
func (h *HistoryHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID := r.PathValue("thread_id")

	checkpointID := r.URL.Query().Get("checkpoint_id")
	if checkpointID == "" {
		thread, err := h.history.GetThread(ctx, threadID)
		if err != nil {
			handleError(w, err)
			return
		}
		if thread.ActiveCheckpointID == nil {
			httputil.RespondJSON(w, http.StatusOK, map[string]any{"messages": []models.ChatMessage{}})
			return
		}
		checkpointID = *thread.ActiveCheckpointID
	}

	messages, err := h.history.Messages(ctx, threadID, checkpointID)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"messages":      messages,
		"checkpoint_id": checkpointID,
	})
}

// SetActiveCheckpoint handles POST /api/threads/{thread_id}/checkpoint
// Moves the active pointer, switching which branch the chat follows.
func (h *HistoryHandler) SetActiveCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CheckpointID string `json:"checkpoint_id"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	threadID := r.PathValue("thread_id")
	if err := h.history.SetActiveCheckpoint(r.Context(), threadID, req.CheckpointID); err != nil {
		handleError(w, err)
		return
	}

	messages, err := h.history.Messages(r.Context(), threadID, req.CheckpointID)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"messages":      messages,
		"checkpoint_id": req.CheckpointID,
	})
}

// DeleteCheckpoint handles DELETE /api/threads/{thread_id}/checkpoints/{checkpoint_id}
// Removes the checkpoint and its whole subtree.
func (h *HistoryHandler) DeleteCheckpoint(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")
	checkpointID := r.PathValue("checkpoint_id")

	deleted, err := h.history.DeleteCheckpoint(r.Context(), threadID, checkpointID)
	if err != nil {
		handleError(w, err)
		return
	}

	h.logger.Info("checkpoint subtree deleted",
		"thread_id", threadID,
		"checkpoint_id", checkpointID,
		"deleted", deleted,
	)
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"deleted_count": deleted})
}

// SavePositions handles POST /api/threads/{thread_id}/positions
func (h *HistoryHandler) SavePositions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Positions []models.NodePosition `json:"positions"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.history.SavePositions(r.Context(), r.PathValue("thread_id"), req.Positions); err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"saved": len(req.Positions)})
}

// Search handles GET /api/threads/{thread_id}/search?q=
func (h *HistoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	results, err := h.history.Search(r.Context(), r.PathValue("thread_id"), r.URL.Query().Get("q"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"results": results})
}
