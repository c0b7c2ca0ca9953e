package models

import (
	"time"
)

// Checkpoint roles. Synthesis nodes are tagged by role so they can be
// excluded from future synthesis input without sniffing content.
const (
	RoleUser      = "user"
	RoleAI        = "ai"
	RoleSynthesis = "synthesis"
)

// Checkpoint is one immutable node in a thread's conversation tree.
// Checkpoints form a forest via ParentID; edits and regenerations are
// new sibling nodes, never in-place updates.
type Checkpoint struct {
	ID        string         `json:"id" db:"id"`
	ThreadID  string         `json:"thread_id" db:"thread_id"`
	ParentID  *string        `json:"parent_id,omitempty" db:"parent_id"`
	Role      string         `json:"role" db:"role"` // "user", "ai" or "synthesis"
	Content   string         `json:"content" db:"content"`
	Model     *string        `json:"model,omitempty" db:"model"` // attribution for ai/synthesis nodes
	PosX      *float64       `json:"pos_x,omitempty" db:"pos_x"`
	PosY      *float64       `json:"pos_y,omitempty" db:"pos_y"`
	Metadata  map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Prompt returns the user prompt that produced this checkpoint, if any.
// Fan-out stores the prompt in metadata so sibling AI replies to the
// same question share a parent without a synthetic user node between.
func (c *Checkpoint) Prompt() string {
	if c.Metadata == nil {
		return ""
	}
	if p, ok := c.Metadata["prompt"].(string); ok {
		return p
	}
	return ""
}

// NodePosition is a saved layout coordinate for one checkpoint.
type NodePosition struct {
	NodeID string  `json:"node_id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// SearchResult is one match from a checkpoint content search.
type SearchResult struct {
	CheckpointID string  `json:"checkpoint_id"`
	Role         string  `json:"role"`
	Model        *string `json:"model,omitempty"`
	Excerpt      string  `json:"excerpt"`
}
