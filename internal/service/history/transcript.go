package history

import (
	"context"

	"crucible/internal/domain/models"
)

// Messages linearizes the root-to-leaf path ending at checkpointID
// into a transcript. AI checkpoints store the user prompt that
// produced them in metadata, so each one expands to the prompt
// followed by the model's reply; sibling replies to the same prompt
// would repeat it, but a path contains at most one sibling.
func (s *Service) Messages(ctx context.Context, threadID, checkpointID string) ([]models.ChatMessage, error) {
	path, err := s.GetPath(ctx, threadID, checkpointID)
	if err != nil {
		return nil, err
	}
	return TranscriptFromPath(path), nil
}

// TranscriptFromPath converts a checkpoint path into chat messages,
// oldest first. Empty nodes (the root) contribute nothing.
func TranscriptFromPath(path []*models.Checkpoint) []models.ChatMessage {
	messages := []models.ChatMessage{}
	for _, cp := range path {
		if prompt := cp.Prompt(); prompt != "" {
			messages = append(messages, models.ChatMessage{
				Role:    models.RoleUser,
				Content: prompt,
			})
		}
		if cp.Content == "" {
			continue
		}
		role := "assistant"
		if cp.Role == models.RoleUser {
			role = models.RoleUser
		}
		messages = append(messages, models.ChatMessage{
			Role:    role,
			Content: cp.Content,
			Model:   cp.Model,
		})
	}
	return messages
}
