// Package providers builds the configured models.AIProvider.
package providers

import (
	"fmt"

	"github.com/kiranshivaraju/textpulse/internal/ai"
	"github.com/kiranshivaraju/textpulse/internal/ai/anthropic"
	"github.com/kiranshivaraju/textpulse/internal/ai/mock"
	"github.com/kiranshivaraju/textpulse/internal/ai/ollama"
	"github.com/kiranshivaraju/textpulse/internal/ai/openai"
	"github.com/kiranshivaraju/textpulse/internal/config"
	"github.com/kiranshivaraju/textpulse/pkg/models"
)

// New creates an AIProvider based on the configured provider name and wraps
// it in an outbound throttle when AI_MAX_RPS is set.
func New(cfg config.AIConfig) (models.AIProvider, error) {
	var p models.AIProvider
	switch cfg.Provider {
	case "ollama":
		p = ollama.NewProvider(cfg.Ollama, cfg.SystemPrompt)
	case "vllm":
		p = openai.NewCompatible("vllm", cfg.VLLM.BaseURL, "", cfg.SystemPrompt)
	case "openai":
		p = openai.NewProvider(cfg.OpenAI, cfg.SystemPrompt)
	case "anthropic":
		p = anthropic.NewProvider(cfg.Anthropic, cfg.SystemPrompt)
	case "mock":
		p = mock.NewMockProvider()
	default:
		return nil, fmt.Errorf("unsupported AI provider: %q", cfg.Provider)
	}
	return ai.NewThrottled(p, cfg.MaxRPS), nil
}
