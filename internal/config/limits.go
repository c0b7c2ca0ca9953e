package config

const (
	// MaxThreadTitleLength is the maximum length for thread titles.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255) and provide
	// reasonable UX (titles should be short and descriptive).
	MaxThreadTitleLength = 255

	// MaxMessageChars caps a single message's contribution to provider
	// context. Longer content is truncated before dispatch.
	MaxMessageChars = 100_000

	// MaxContextChars caps the total character count of a rendered
	// provider context across all messages.
	MaxContextChars = 1_200_000

	// AutoTitleMaxLength is the display cap for auto-generated thread
	// titles, applied on a word boundary with an ellipsis.
	AutoTitleMaxLength = 40
)
