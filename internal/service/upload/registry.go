package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// ConverterRegistry routes files to converters by extension.
// Thread-safe for concurrent access.
type ConverterRegistry struct {
	mu         sync.RWMutex
	converters map[string]ContentConverter
}

// NewConverterRegistry creates a registry with the standard converters
// pre-registered.
func NewConverterRegistry() *ConverterRegistry {
	registry := &ConverterRegistry{
		converters: make(map[string]ContentConverter),
	}
	registry.Register(NewMarkdownConverter())
	registry.Register(NewTextConverter())
	return registry
}

// Register adds a converter under each of its extensions, normalized
// to lowercase with a leading dot.
func (r *ConverterRegistry) Register(converter ContentConverter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ext := range converter.SupportedExtensions() {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.converters[ext] = converter
	}
}

// GetConverter retrieves the converter for a file extension, or nil.
// Lookup is case-insensitive.
func (r *ConverterRegistry) GetConverter(fileExt string) ContentConverter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.converters[strings.ToLower(fileExt)]
}

// Convert selects a converter by the filename's extension and runs it.
func (r *ConverterRegistry) Convert(ctx context.Context, filename string, content []byte) (string, error) {
	ext := filepath.Ext(filename)
	converter := r.GetConverter(ext)
	if converter == nil {
		return "", fmt.Errorf("unsupported file type: %s", ext)
	}
	return converter.Convert(ctx, content)
}

// SupportedExtensions returns all registered extensions.
func (r *ConverterRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.converters))
	for ext := range r.converters {
		exts = append(exts, ext)
	}
	return exts
}
