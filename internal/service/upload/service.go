package upload

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"crucible/internal/domain"
)

// PreviewLength caps the content preview returned to the client.
const PreviewLength = 500

// Result is a processed upload, ready to attach to a turn.
type Result struct {
	Filename       string `json:"filename"`
	ContentPreview string `json:"content_preview"`
	FullContent    string `json:"full_content"`
}

// Service converts uploads to attachable text.
type Service struct {
	registry *ConverterRegistry
	logger   *slog.Logger
}

// NewService creates an upload service with the standard converters.
func NewService(logger *slog.Logger) *Service {
	return &Service{
		registry: NewConverterRegistry(),
		logger:   logger,
	}
}

// Registry exposes the converter registry for custom registrations.
func (s *Service) Registry() *ConverterRegistry {
	return s.registry
}

// Process converts one uploaded file and returns its text with a
// bounded preview.
func (s *Service) Process(ctx context.Context, filename string, content []byte) (*Result, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("%w: filename is required", domain.ErrValidation)
	}

	text, err := s.registry.Convert(ctx, filename, content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	s.logger.Info("file processed", "filename", filename, "bytes", len(content))

	return &Result{
		Filename:       filename,
		ContentPreview: preview(text),
		FullContent:    text,
	}, nil
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) > PreviewLength {
		return string(runes[:PreviewLength])
	}
	return text
}
