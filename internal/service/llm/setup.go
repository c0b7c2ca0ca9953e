package llm

import (
	"context"
	"fmt"
	"log/slog"

	"crucible/internal/config"
	"crucible/internal/service/llm/providers/gemini"
	"crucible/internal/service/llm/providers/lorem"
	"crucible/internal/service/llm/providers/openai"
)

// SetupProviders builds the provider registry from config. Providers
// whose API keys are absent are simply not registered; the lorem mock
// is always available so the system works without any keys.
func SetupProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	registry := NewRegistry()

	if cfg.OpenAIAPIKey != "" {
		registry.Register(openai.NewProvider(cfg.OpenAIAPIKey))
		logger.Info("provider available", "name", "openai", "models", "gpt-*, o*")
	} else {
		logger.Warn("OPENAI_API_KEY not set - OpenAI provider not available")
	}

	if cfg.OpenAICompatBaseURL != "" {
		// claude-* models are served through an OpenAI-compatible
		// gateway rather than a native SDK.
		registry.Register(openai.NewCompatProvider(
			cfg.OpenAIAPIKey,
			cfg.OpenAICompatBaseURL,
			"anthropic",
			[]string{"claude-"},
		))
		logger.Info("provider available", "name", "anthropic", "models", "claude-*", "base_url", cfg.OpenAICompatBaseURL)
	}

	if cfg.GeminiAPIKey != "" {
		provider, err := gemini.NewProvider(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("setup gemini provider: %w", err)
		}
		registry.Register(provider)
		logger.Info("provider available", "name", "gemini", "models", "gemini-*")
	} else {
		logger.Warn("GOOGLE_API_KEY not set - Gemini provider not available")
	}

	registry.Register(lorem.NewProvider())
	logger.Info("provider available", "name", "lorem", "models", "lorem-*")

	logger.Info("provider registry ready", "providers", registry.Names())
	return registry, nil
}
