package turn

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"crucible/internal/config"
	"crucible/internal/domain/models"
	llmSvc "crucible/internal/domain/services/llm"
	"crucible/internal/service/history"
)

const (
	defaultSystemPrompt = "You are an academic research assistant."

	deliberationSystemPrompt = "You are a critical reviewer in a multi-model deliberation. " +
		"The conversation so far includes responses from other models, each attributed " +
		"by name. Review their reasoning, challenge weak arguments, and give your own " +
		"independent analysis."

	fallbackPrompt             = "Please continue."
	fallbackDeliberationPrompt = "Please review the conversation and provide your analysis."

	truncationMarker = "\n\n[... truncated ...]"
)

// buildContext resolves the path ending at the session's parent and
// renders it as provider messages plus the new user prompt, then runs
// the compression hook.
func (s *Session) buildContext(ctx context.Context, model string) ([]llmSvc.Message, string, error) {
	path, err := s.manager.history.GetPath(ctx, s.threadID, s.parentID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve context path: %w", err)
	}
	transcript := history.TranscriptFromPath(path)

	prompt := s.prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = fallbackPrompt
		if s.deliberation {
			prompt = fallbackDeliberationPrompt
		}
	}
	prompt = appendDocuments(prompt, s.documents)

	var messages []llmSvc.Message
	systemPrompt := defaultSystemPrompt
	if s.systemPrompt != "" {
		systemPrompt = s.systemPrompt
	}
	if s.deliberation {
		// Deliberation flattens attributed history into user-role
		// messages so the model sees who said what.
		messages = deliberationMessages(transcript)
		systemPrompt = deliberationSystemPrompt
	} else {
		messages = make([]llmSvc.Message, 0, len(transcript)+1)
		for _, msg := range transcript {
			messages = append(messages, llmSvc.Message{Role: msg.Role, Content: msg.Content})
		}
	}
	messages = append(messages, llmSvc.Message{Role: models.RoleUser, Content: prompt})

	return s.manager.compress(messages, model), systemPrompt, nil
}

// appendDocuments embeds attached documents inline after the prompt.
func appendDocuments(prompt string, docs []models.AttachedDocument) string {
	if len(docs) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	for _, doc := range docs {
		b.WriteString("\n\n--- Attached Document: ")
		b.WriteString(doc.Filename)
		b.WriteString(" ---\n")
		b.WriteString(doc.Content)
	}
	return b.String()
}

// deliberationMessages renders the transcript as attributed user-role
// lines. Model attribution uses the model id when present.
func deliberationMessages(transcript []models.ChatMessage) []llmSvc.Message {
	messages := make([]llmSvc.Message, 0, len(transcript))
	for _, msg := range transcript {
		var line string
		if msg.Role == models.RoleUser {
			line = "[User]: " + msg.Content
		} else {
			name := "assistant"
			if msg.Model != nil && *msg.Model != "" {
				name = *msg.Model
			}
			line = "[" + name + "]: " + msg.Content
		}
		messages = append(messages, llmSvc.Message{Role: models.RoleUser, Content: line})
	}
	return messages
}

// capByChars is the default Compressor. Each message is capped at
// MaxMessageChars; then whole oldest messages are dropped until the
// total fits MaxContextChars. The final message is never dropped.
func capByChars(messages []llmSvc.Message, model string) []llmSvc.Message {
	if len(messages) == 0 {
		return messages
	}

	capped := make([]llmSvc.Message, len(messages))
	total := 0
	for i, msg := range messages {
		content := msg.Content
		if len(content) > config.MaxMessageChars {
			cut := config.MaxMessageChars
			// Back up so the cut never splits a rune.
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut] + truncationMarker
		}
		capped[i] = llmSvc.Message{Role: msg.Role, Content: content}
		total += len(content)
	}

	drop := 0
	for total > config.MaxContextChars && drop < len(capped)-1 {
		total -= len(capped[drop].Content)
		drop++
	}
	return capped[drop:]
}

// maybeAutoTitle derives a thread title from the first prompt of the
// thread. It fires only while the thread still carries the default
// title, so a user rename is never overwritten.
func (s *Session) maybeAutoTitle(ctx context.Context) {
	if !s.storePrompt || strings.TrimSpace(s.prompt) == "" {
		return
	}
	thread, err := s.manager.history.GetThread(ctx, s.threadID)
	if err != nil || thread.Title != "New Thread" {
		return
	}

	title := deriveTitle(s.prompt)
	if title == "" {
		return
	}
	if err := s.manager.history.RenameThread(ctx, s.threadID, title); err != nil {
		s.logger.Error("auto-title failed", "thread_id", s.threadID, "error", err)
		return
	}
	s.send(models.WSEvent{
		Type:     models.WSEventTitleUpdate,
		ThreadID: s.threadID,
		Title:    title,
	})
}

// deriveTitle takes the first line of the prompt, cut at a word
// boundary when it exceeds the cap.
func deriveTitle(prompt string) string {
	line := strings.TrimSpace(prompt)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	runes := []rune(line)
	if len(runes) <= config.AutoTitleMaxLength {
		return line
	}
	cut := string(runes[:config.AutoTitleMaxLength])
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "…"
}
