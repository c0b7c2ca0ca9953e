// Package openai streams completions through the OpenAI chat API. The
// same provider also fronts OpenAI-compatible gateways (set a custom
// base URL) which is how claude-* models are reached.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"crucible/internal/domain/models"
	llmSvc "crucible/internal/domain/services/llm"
)

// Provider wraps a go-openai client.
type Provider struct {
	client   *goopenai.Client
	name     string
	prefixes []string
}

// NewProvider creates a provider against the official OpenAI endpoint,
// serving gpt-* and o* models.
func NewProvider(apiKey string) *Provider {
	return &Provider{
		client:   goopenai.NewClient(apiKey),
		name:     "openai",
		prefixes: []string{"gpt-", "o1", "o3", "o4"},
	}
}

// NewCompatProvider creates a provider against an OpenAI-compatible
// gateway at baseURL, serving the given model prefixes.
func NewCompatProvider(apiKey, baseURL, name string, prefixes []string) *Provider {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Provider{
		client:   goopenai.NewClientWithConfig(cfg),
		name:     name,
		prefixes: prefixes,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.name
}

// SupportsModel matches the configured model prefixes.
func (p *Provider) SupportsModel(model string) bool {
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// StreamResponse opens a streaming chat completion and forwards
// content deltas as tokens.
func (p *Provider) StreamResponse(ctx context.Context, req *llmSvc.GenerateRequest) (<-chan llmSvc.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model %q is not supported by %s provider", req.Model, p.name)
	}

	chatMessages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		chatMessages = append(chatMessages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, msg := range req.Messages {
		role := goopenai.ChatMessageRoleAssistant
		if msg.Role == models.RoleUser {
			role = goopenai.ChatMessageRoleUser
		}
		chatMessages = append(chatMessages, goopenai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: chatMessages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}

	events := make(chan llmSvc.StreamEvent, 10)
	go func() {
		defer close(events)
		defer stream.Close()

		finishReason := "stop"
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				events <- llmSvc.StreamEvent{Error: fmt.Errorf("receive completion chunk: %w", err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				events <- llmSvc.StreamEvent{Token: choice.Delta.Content}
			}
		}

		events <- llmSvc.StreamEvent{
			Metadata: &llmSvc.StreamMetadata{
				Model:        req.Model,
				FinishReason: finishReason,
			},
		}
	}()

	return events, nil
}
