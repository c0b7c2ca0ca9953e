package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"crucible/internal/config"
	"crucible/internal/domain/models"
	"crucible/internal/middleware"
	"crucible/internal/service/turn"
)

// WSHandler upgrades chat connections and bridges client frames to the
// turn manager.
type WSHandler struct {
	turns    *turn.Manager
	cfg      *config.Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a WebSocket handler. Origins are checked against
// the configured CORS origins; "*" disables the check.
func NewWSHandler(turns *turn.Manager, cfg *config.Config, logger *slog.Logger) *WSHandler {
	h := &WSHandler{turns: turns, cfg: cfg, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range strings.Split(h.cfg.CORSOrigins, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// wsTransport serializes JSON writes to one connection. gorilla
// connections support one concurrent writer, and every model goroutine
// of a session sends through this.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) Send(event models.WSEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(event)
}

// Serve handles GET /ws/{thread_id}. It reads client frames until the
// connection closes: fan-out requests, synthesis requests and stop
// commands. Streams started here keep running on their own context if
// the socket drops; committed checkpoints are never lost to a
// disconnect.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread_id")
	if threadID == "" {
		http.Error(w, "thread id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "thread_id", threadID, "error", err)
		return
	}
	defer conn.Close()

	h.logger.Info("websocket connected",
		"thread_id", threadID,
		"remote", r.RemoteAddr,
		"subject", middleware.Subject(r.Context()),
	)
	transport := &wsTransport{conn: conn}

	for {
		var msg models.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "thread_id", threadID, "error", err)
			}
			return
		}
		h.dispatch(r.Context(), threadID, &msg, transport)
	}
}

// dispatch routes one client frame. Errors are reported in-band as
// error events; the connection stays open.
func (h *WSHandler) dispatch(ctx context.Context, threadID string, msg *models.ClientMessage, transport *wsTransport) {
	switch msg.Type {
	case models.WSClientStop:
		if !h.turns.Stop(threadID) {
			h.sendError(transport, "no turn in flight")
		}

	case models.WSClientSynthesis:
		model := msg.Model
		if model == "" {
			model = h.cfg.DefaultModel
		}
		_, err := h.turns.Synthesize(ctx, &turn.SynthesisRequest{
			ThreadID:           threadID,
			Model:              model,
			ParentCheckpointID: msg.ParentCheckpointID,
		}, transport)
		if err != nil {
			h.sendError(transport, err.Error())
		}

	default:
		selected := msg.SelectedModels()
		if len(selected) == 0 {
			selected = []string{h.cfg.DefaultModel}
		}
		_, err := h.turns.Start(ctx, &turn.Request{
			ThreadID:           threadID,
			Message:            msg.Message,
			Models:             selected,
			ParentCheckpointID: msg.ParentCheckpointID,
			Toggles:            msg.Toggles,
			Documents:          msg.Documents,
			IsDeliberation:     msg.IsDeliberation,
		}, transport)
		if err != nil {
			h.sendError(transport, err.Error())
		}
	}
}

func (h *WSHandler) sendError(transport *wsTransport, message string) {
	if err := transport.Send(models.WSEvent{Type: models.WSEventError, Message: message}); err != nil {
		h.logger.Debug("error frame send failed", "error", err)
	}
}
