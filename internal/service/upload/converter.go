// Package upload turns uploaded files into plain text attachments.
package upload

import "context"

// ContentConverter converts one file format to plain text.
type ContentConverter interface {
	Convert(ctx context.Context, input []byte) (string, error)

	// SupportedExtensions lists the file extensions this converter
	// handles, with leading dot.
	SupportedExtensions() []string

	// Name returns the converter name for logging.
	Name() string
}

// textConverter passes plain text through unchanged.
type textConverter struct{}

// NewTextConverter creates a plain text converter.
func NewTextConverter() ContentConverter {
	return &textConverter{}
}

func (c *textConverter) Convert(ctx context.Context, input []byte) (string, error) {
	return string(input), nil
}

func (c *textConverter) SupportedExtensions() []string {
	return []string{".txt", ".text"}
}

func (c *textConverter) Name() string {
	return "plaintext"
}

// markdownConverter passes markdown through unchanged; markdown is
// already readable as attachment text.
type markdownConverter struct{}

// NewMarkdownConverter creates a markdown passthrough converter.
func NewMarkdownConverter() ContentConverter {
	return &markdownConverter{}
}

func (c *markdownConverter) Convert(ctx context.Context, input []byte) (string, error) {
	return string(input), nil
}

func (c *markdownConverter) SupportedExtensions() []string {
	return []string{".md", ".markdown"}
}

func (c *markdownConverter) Name() string {
	return "markdown"
}
