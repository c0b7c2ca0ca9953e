package capabilities

import "gopkg.in/yaml.v3"

// ModelInfo is the catalog entry for one selectable model.
type ModelInfo struct {
	// Model identifier (set during YAML unmarshaling)
	ID string `yaml:"-" json:"id"`

	DisplayName string `yaml:"display_name" json:"display_name"`
	Description string `yaml:"description" json:"description"`

	// Limits
	ContextWindow int `yaml:"context_window" json:"context_window"`
	MaxOutput     int `yaml:"max_output" json:"max_output"`
}

// Family groups the models served by one upstream vendor, with the
// display metadata the client uses to render the model picker.
type Family struct {
	// Family key (set during YAML unmarshaling)
	Name string `yaml:"-" json:"name"`

	Label string `yaml:"label" json:"label"`
	Color string `yaml:"color" json:"color"`

	// EnvKey is the API-key environment variable gating availability.
	EnvKey string `yaml:"env_key" json:"-"`

	Models []ModelInfo `yaml:"-" json:"models"`
}

// catalog is the YAML document root.
type catalog struct {
	Families []Family
}

// UnmarshalYAML preserves family and model order from the YAML file.
func (c *catalog) UnmarshalYAML(node *yaml.Node) error {
	var familiesNode *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "families" {
			familiesNode = node.Content[i+1]
			break
		}
	}
	if familiesNode == nil {
		return nil
	}

	for i := 0; i+1 < len(familiesNode.Content); i += 2 {
		name := familiesNode.Content[i].Value
		familyNode := familiesNode.Content[i+1]

		var family Family
		if err := familyNode.Decode(&family); err != nil {
			return err
		}
		family.Name = name

		type modelsOnly struct {
			Models map[string]ModelInfo `yaml:"models"`
		}
		var m modelsOnly
		if err := familyNode.Decode(&m); err != nil {
			return err
		}

		// Model keys in YAML order.
		for j := 0; j+1 < len(familyNode.Content); j += 2 {
			if familyNode.Content[j].Value != "models" {
				continue
			}
			modelsNode := familyNode.Content[j+1]
			for k := 0; k+1 < len(modelsNode.Content); k += 2 {
				modelID := modelsNode.Content[k].Value
				if model, ok := m.Models[modelID]; ok {
					model.ID = modelID
					family.Models = append(family.Models, model)
				}
			}
			break
		}

		c.Families = append(c.Families, family)
	}
	return nil
}
