package models

// GraphNode is one renderable node of a thread's checkpoint tree.
// Position is either the saved coordinate or the deterministic
// auto-layout slot computed from depth and sibling order.
type GraphNode struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id,omitempty"`
	Role     string  `json:"role"`
	Label    string  `json:"label"`
	Model    *string `json:"model,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Active   bool    `json:"active"`
}

// GraphEdge connects a parent checkpoint to one of its children.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the full tree view for one thread.
type Graph struct {
	Nodes             []GraphNode `json:"nodes"`
	Edges             []GraphEdge `json:"edges"`
	CurrentCheckpoint *string     `json:"current_checkpoint,omitempty"`
}

// ChatMessage is one entry of a linearized root-to-leaf transcript.
type ChatMessage struct {
	Role    string  `json:"role"` // "user" or "assistant"
	Content string  `json:"content"`
	Model   *string `json:"model,omitempty"`
}
