package handler

import (
	"log/slog"
	"net/http"

	"crucible/internal/httputil"
	"crucible/internal/service/history"
)

// ThreadHandler serves thread CRUD endpoints.
type ThreadHandler struct {
	history *history.Service
	logger  *slog.Logger
}

// NewThreadHandler creates a thread handler.
func NewThreadHandler(historySvc *history.Service, logger *slog.Logger) *ThreadHandler {
	return &ThreadHandler{history: historySvc, logger: logger}
}

// ListThreads handles GET /api/threads
func (h *ThreadHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.history.ListThreads(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

// GetThread handles GET /api/threads/{thread_id}
func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := h.history.GetThread(r.Context(), r.PathValue("thread_id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, thread)
}

// EnsureThread handles POST /api/threads/{thread_id}, creating the
// thread with its root checkpoint if it does not exist yet.
func (h *ThreadHandler) EnsureThread(w http.ResponseWriter, r *http.Request) {
	thread, err := h.history.EnsureThread(r.Context(), r.PathValue("thread_id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, thread)
}

// RenameThread handles PATCH /api/threads/{thread_id}
func (h *ThreadHandler) RenameThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	threadID := r.PathValue("thread_id")
	if err := h.history.RenameThread(r.Context(), threadID, req.Title); err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"title":     req.Title,
	})
}

// DeleteThread handles DELETE /api/threads/{thread_id}
func (h *ThreadHandler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")
	if err := h.history.DeleteThread(r.Context(), threadID); err != nil {
		handleError(w, err)
		return
	}
	h.logger.Info("thread deleted", "thread_id", threadID)
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"deleted": threadID})
}
