package capabilities

import "testing"

func TestNewRegistryLoadsCatalog(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	families := registry.Families()
	if len(families) == 0 {
		t.Fatal("no families loaded")
	}

	// Family order follows the YAML file.
	wantOrder := []string{"openai", "anthropic", "google", "mock"}
	if len(families) != len(wantOrder) {
		t.Fatalf("got %d families, want %d", len(families), len(wantOrder))
	}
	for i, want := range wantOrder {
		if families[i].Name != want {
			t.Errorf("families[%d] = %q, want %q", i, families[i].Name, want)
		}
	}

	for _, family := range families {
		if family.Label == "" || family.Color == "" {
			t.Errorf("family %s missing display metadata", family.Name)
		}
		if len(family.Models) == 0 {
			t.Errorf("family %s has no models", family.Name)
		}
		for _, model := range family.Models {
			if model.ID == "" || model.DisplayName == "" {
				t.Errorf("family %s has model with missing id or name", family.Name)
			}
			if model.ContextWindow <= 0 {
				t.Errorf("model %s has no context window", model.ID)
			}
		}
	}

	// The mock family must not be gated by an API key.
	mock := families[len(families)-1]
	if mock.EnvKey != "" {
		t.Errorf("mock family env key = %q, want none", mock.EnvKey)
	}
}

func TestRegistryLookup(t *testing.T) {
	registry, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	model, family, err := registry.Lookup("lorem-fast")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if family != "mock" {
		t.Errorf("family = %q, want mock", family)
	}
	if model.ID != "lorem-fast" {
		t.Errorf("model id = %q", model.ID)
	}

	if _, _, err := registry.Lookup("no-such-model"); err == nil {
		t.Error("unknown model lookup should fail")
	}
}
