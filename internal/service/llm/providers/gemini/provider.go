// Package gemini streams completions from the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"crucible/internal/domain/models"
	llmSvc "crucible/internal/domain/services/llm"
)

// Provider wraps a genai client serving gemini-* models.
type Provider struct {
	client *genai.Client
}

// NewProvider creates a Gemini provider.
func NewProvider(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "gemini"
}

// SupportsModel returns true for model names starting with "gemini-".
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "gemini-")
}

// StreamResponse streams generated content, forwarding each chunk's
// text as a token.
func (p *Provider) StreamResponse(ctx context.Context, req *llmSvc.GenerateRequest) (<-chan llmSvc.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model %q is not supported by gemini provider", req.Model)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := genai.Role(genai.RoleModel)
		if msg.Role == models.RoleUser {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	var config *genai.GenerateContentConfig
	if req.SystemPrompt != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		}
	}

	events := make(chan llmSvc.StreamEvent, 10)
	go func() {
		defer close(events)

		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if err != nil {
				events <- llmSvc.StreamEvent{Error: fmt.Errorf("receive content chunk: %w", err)}
				return
			}
			if text := resp.Text(); text != "" {
				events <- llmSvc.StreamEvent{Token: text}
			}
		}

		events <- llmSvc.StreamEvent{
			Metadata: &llmSvc.StreamMetadata{
				Model:        req.Model,
				FinishReason: "stop",
			},
		}
	}()

	return events, nil
}
