// Package capabilities holds the embedded model catalog: which model
// families exist, their display metadata, and which API key gates each
// one.
package capabilities

import (
	"embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config/*.yaml
var configFiles embed.FS

// Registry is the loaded model catalog.
type Registry struct {
	mu       sync.RWMutex
	families []Family
}

// NewRegistry loads the embedded catalog.
func NewRegistry() (*Registry, error) {
	data, err := configFiles.ReadFile("config/models.yaml")
	if err != nil {
		return nil, fmt.Errorf("read model catalog: %w", err)
	}

	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal model catalog: %w", err)
	}
	if len(c.Families) == 0 {
		return nil, fmt.Errorf("model catalog is empty")
	}

	return &Registry{families: c.Families}, nil
}

// Families returns all families in catalog order.
func (r *Registry) Families() []Family {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.families
}

// Lookup finds a model by id, returning its entry and family name.
func (r *Registry) Lookup(modelID string) (*ModelInfo, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for fi := range r.families {
		family := &r.families[fi]
		for mi := range family.Models {
			if family.Models[mi].ID == modelID {
				return &family.Models[mi], family.Name, nil
			}
		}
	}
	return nil, "", fmt.Errorf("unknown model: %s", modelID)
}
