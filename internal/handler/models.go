package handler

import (
	"net/http"
	"os"

	"crucible/internal/capabilities"
	"crucible/internal/config"
	"crucible/internal/httputil"
)

// ModelsHandler serves the model catalog.
type ModelsHandler struct {
	registry *capabilities.Registry
	cfg      *config.Config
}

// NewModelsHandler creates a models handler.
func NewModelsHandler(registry *capabilities.Registry, cfg *config.Config) *ModelsHandler {
	return &ModelsHandler{registry: registry, cfg: cfg}
}

// familyView is a catalog family decorated with runtime availability.
type familyView struct {
	capabilities.Family
	Available bool `json:"available"`
}

// ListModels handles GET /api/models
// Families whose API key is absent are returned with available=false
// so the client can grey them out rather than hide them.
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	families := h.registry.Families()
	views := make([]familyView, 0, len(families))
	for _, family := range families {
		views = append(views, familyView{
			Family:    family,
			Available: family.EnvKey == "" || os.Getenv(family.EnvKey) != "",
		})
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"families":      views,
		"default_model": h.cfg.DefaultModel,
	})
}
