package history

import (
	"context"
	"strings"

	"crucible/internal/domain/models"
)

// Auto-layout geometry. Depth maps to rows, sibling order to columns;
// rows are centered around x=0 when the user has saved no positions.
const (
	levelHeight   = 140.0
	columnWidth   = 240.0
	centerSpacing = 220.0

	// nodeLabelLength is the display cap for node labels.
	nodeLabelLength = 30
)

// GetGraph returns the full tree view for a thread. The current
// checkpoint is the thread's active pointer unless overridden.
func (s *Service) GetGraph(ctx context.Context, threadID string, checkpointOverride *string) (*models.Graph, error) {
	thread, err := s.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}

	checkpoints, err := s.checkpoints.ListByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	current := thread.ActiveCheckpointID
	if checkpointOverride != nil && *checkpointOverride != "" {
		current = checkpointOverride
	}

	graph := buildGraph(checkpoints, current)
	return graph, nil
}

// buildGraph lays out checkpoints deterministically: depth-first from
// the roots in creation order, one row per depth, siblings assigned
// columns in visit order. Saved positions override computed slots;
// centering is skipped entirely once any node has a saved position so
// user-arranged trees don't shift under new nodes.
func buildGraph(checkpoints []*models.Checkpoint, current *string) *models.Graph {
	graph := &models.Graph{
		Nodes:             []models.GraphNode{},
		Edges:             []models.GraphEdge{},
		CurrentCheckpoint: current,
	}
	if len(checkpoints) == 0 {
		return graph
	}

	byID := make(map[string]*models.Checkpoint, len(checkpoints))
	children := make(map[string][]string)
	var roots []string
	for _, cp := range checkpoints {
		byID[cp.ID] = cp
		if cp.ParentID == nil {
			roots = append(roots, cp.ID)
		} else {
			children[*cp.ParentID] = append(children[*cp.ParentID], cp.ID)
		}
	}

	anySaved := false
	for _, cp := range checkpoints {
		if cp.PosX != nil && cp.PosY != nil {
			anySaved = true
			break
		}
	}

	levelCounts := make(map[int]int)
	levelOf := make(map[string]int)

	var layout func(id string, level int)
	layout = func(id string, level int) {
		cp := byID[id]
		var x, y float64
		if cp.PosX != nil && cp.PosY != nil {
			x, y = *cp.PosX, *cp.PosY
		} else {
			y = float64(level) * levelHeight
			x = float64(levelCounts[level]) * columnWidth
			levelCounts[level]++
		}
		levelOf[id] = level

		graph.Nodes = append(graph.Nodes, models.GraphNode{
			ID:       cp.ID,
			ParentID: cp.ParentID,
			Role:     cp.Role,
			Label:    nodeLabel(cp),
			Model:    cp.Model,
			X:        x,
			Y:        y,
			Active:   current != nil && *current == cp.ID,
		})
		if cp.ParentID != nil {
			graph.Edges = append(graph.Edges, models.GraphEdge{
				Source: *cp.ParentID,
				Target: cp.ID,
			})
		}
		for _, childID := range children[id] {
			layout(childID, level+1)
		}
	}
	for _, rootID := range roots {
		layout(rootID, 0)
	}

	// Center each computed row around x=0.
	if !anySaved {
		for i := range graph.Nodes {
			node := &graph.Nodes[i]
			total := levelCounts[levelOf[node.ID]]
			if total > 1 {
				node.X -= float64(total-1) * centerSpacing / 2
			}
		}
	}

	return graph
}

// nodeLabel derives a display label from the checkpoint content. The
// empty root renders as "Start".
func nodeLabel(cp *models.Checkpoint) string {
	text := cp.Content
	if text == "" {
		if prompt := cp.Prompt(); prompt != "" {
			text = prompt
		} else {
			return "Start"
		}
	}
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > nodeLabelLength {
		return string(runes[:nodeLabelLength]) + "..."
	}
	return text
}
