package llm

import (
	"context"
)

// ModelProvider defines the interface that all model backends implement.
// This abstraction allows supporting multiple providers (OpenAI, Gemini,
// mock) while the turn session stays provider-agnostic.
type ModelProvider interface {
	// StreamResponse starts generation and returns a channel of stream
	// events. The channel is closed when the stream ends; a terminal
	// Error event means the stream failed and nothing should commit.
	StreamResponse(ctx context.Context, req *GenerateRequest) (<-chan StreamEvent, error)

	// Name returns the provider name (e.g., "openai", "gemini", "lorem")
	Name() string

	// SupportsModel returns true if the provider supports the given model.
	SupportsModel(model string) bool
}

// GenerateRequest contains the parameters for one generation request.
type GenerateRequest struct {
	// Messages contains the conversation history, oldest first.
	Messages []Message

	// Model is the model identifier (e.g., "gpt-4o-mini")
	Model string

	// SystemPrompt is an optional instruction prepended provider-side.
	SystemPrompt string
}

// Message represents a single message in the conversation.
type Message struct {
	// Role is either "user" or "assistant"
	Role string

	// Content is the plain-text content of the message
	Content string
}

// StreamEvent is one unit of streamed provider output. Exactly one of
// Token, Metadata and Error is meaningful per event.
type StreamEvent struct {
	// Token is an incremental chunk of response text
	Token string

	// Metadata is sent once, after the final token
	Metadata *StreamMetadata

	// Error terminates the stream without metadata
	Error error
}

// StreamMetadata carries end-of-stream information.
type StreamMetadata struct {
	Model        string
	FinishReason string
}
