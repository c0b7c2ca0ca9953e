// Package llm routes model identifiers to streaming providers.
package llm

import (
	"fmt"
	"sync"

	llmSvc "crucible/internal/domain/services/llm"
)

// Registry resolves a model identifier to the provider that serves it.
// Providers are matched in registration order by SupportsModel, with a
// per-model cache in front.
type Registry struct {
	mu        sync.RWMutex
	providers []llmSvc.ModelProvider
	cache     map[string]llmSvc.ModelProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[string]llmSvc.ModelProvider),
	}
}

// Register appends a provider. Registration order is match priority.
func (r *Registry) Register(provider llmSvc.ModelProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, provider)
}

// GetProvider returns the provider serving the given model.
func (r *Registry) GetProvider(model string) (llmSvc.ModelProvider, error) {
	if model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	r.mu.RLock()
	if cached, ok := r.cache[model]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[model]; ok {
		return cached, nil
	}
	for _, provider := range r.providers {
		if provider.SupportsModel(model) {
			r.cache[model] = provider
			return provider, nil
		}
	}
	return nil, fmt.Errorf("no provider registered for model %q", model)
}

// Names returns the registered provider names in match order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for _, provider := range r.providers {
		names = append(names, provider.Name())
	}
	return names
}
