package models

// WebSocket event type constants (server -> client)
const (
	WSEventStreamStart = "stream_start" // A model's stream has begun
	WSEventStreamToken = "stream_token" // Incremental token for one model
	WSEventStreamEnd   = "stream_end"   // A model's stream finished and committed
	WSEventError       = "error"        // Per-model or session-level failure
	WSEventChatUpdate  = "chat_update"  // Linearized transcript of the new active path
	WSEventTitleUpdate = "title_update" // Thread was auto-titled
	WSEventTreeUpdate  = "tree_update"  // Tree changed, client should refetch
)

// WSEvent is the envelope for every server->client frame.
// Only the fields relevant to Type are populated.
type WSEvent struct {
	Type         string        `json:"type"`
	Model        string        `json:"model,omitempty"`
	Token        string        `json:"token,omitempty"`
	CheckpointID string        `json:"checkpoint_id,omitempty"`
	Message      string        `json:"message,omitempty"`
	Messages     []ChatMessage `json:"messages,omitempty"`
	ThreadID     string        `json:"thread_id,omitempty"`
	Title        string        `json:"title,omitempty"`
}

// Client message type constants (client -> server). An absent or empty
// type means a fan-out request.
const (
	WSClientSynthesis = "synthesis"
	WSClientStop      = "stop"
)

// ClientMessage is one client->server WebSocket frame: a fan-out
// request, a synthesis request or a stop command.
type ClientMessage struct {
	Type               string             `json:"type,omitempty"`
	Message            string             `json:"message,omitempty"`
	Model              string             `json:"model,omitempty"`
	Models             []string           `json:"models,omitempty"`
	ParentCheckpointID *string            `json:"parent_checkpoint_id,omitempty"`
	Toggles            map[string]bool    `json:"toggles,omitempty"`
	Documents          []AttachedDocument `json:"documents,omitempty"`
	IsDeliberation     bool               `json:"is_deliberation,omitempty"`
}

// SelectedModels normalizes the singular/plural model fields into one
// list, preserving client order.
func (m *ClientMessage) SelectedModels() []string {
	if len(m.Models) > 0 {
		return m.Models
	}
	if m.Model != "" {
		return []string{m.Model}
	}
	return nil
}

// AttachedDocument is an uploaded document included with a fan-out
// request. Content is the extracted plain text, not the raw bytes.
type AttachedDocument struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}
