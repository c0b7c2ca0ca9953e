// Package lorem is a mock provider that streams lorem ipsum text.
// Used for development and tests without real API keys.
package lorem

import (
	"context"
	"fmt"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	llmSvc "crucible/internal/domain/services/llm"
)

// Provider generates lorem ipsum token streams. Model name variants
// control behavior:
//   - lorem-slow:  2 words/second
//   - lorem-fast:  30 words/second
//   - lorem-error: fails mid-stream after a few tokens
//   - anything else: 10 words/second
type Provider struct {
	generator *loremgen.Lorem
}

// NewProvider creates a new lorem provider.
func NewProvider() *Provider {
	return &Provider{generator: loremgen.New()}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "lorem"
}

// SupportsModel returns true for model names starting with "lorem-".
func (p *Provider) SupportsModel(model string) bool {
	return strings.HasPrefix(model, "lorem-")
}

// streamDelay returns the inter-word delay for a model variant.
func streamDelay(model string) time.Duration {
	if strings.Contains(model, "slow") {
		return 500 * time.Millisecond
	}
	if strings.Contains(model, "fast") {
		return 33 * time.Millisecond
	}
	return 100 * time.Millisecond
}

// errorAfterTokens is where lorem-error models fail.
const errorAfterTokens = 5

// StreamResponse streams generated words as individual tokens.
func (p *Provider) StreamResponse(ctx context.Context, req *llmSvc.GenerateRequest) (<-chan llmSvc.StreamEvent, error) {
	if !p.SupportsModel(req.Model) {
		return nil, fmt.Errorf("model %q is not supported by lorem provider", req.Model)
	}

	events := make(chan llmSvc.StreamEvent, 10)
	failing := strings.Contains(req.Model, "error")
	delay := streamDelay(req.Model)

	go func() {
		defer close(events)

		text := p.generator.Paragraph(2, 4)
		words := strings.Fields(text)

		for i, word := range words {
			select {
			case <-ctx.Done():
				events <- llmSvc.StreamEvent{Error: ctx.Err()}
				return
			default:
			}

			if failing && i >= errorAfterTokens {
				events <- llmSvc.StreamEvent{Error: fmt.Errorf("simulated provider failure for model %q", req.Model)}
				return
			}

			events <- llmSvc.StreamEvent{Token: word + " "}
			time.Sleep(delay)
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
