package embedding

import (
	"fmt"

	"github.com/nikhilbhutani/docqa/internal/config"
	"github.com/nikhilbhutani/docqa/internal/llm"
)

// NewBackend selects the backend named by cfg.Backend. The gateway backends
// need gw to have the matching provider configured.
func NewBackend(cfg config.EmbeddingConfig, gw llm.Gateway) (Backend, error) {
	switch cfg.Backend {
	case "", "hash":
		return NewHashBackend(cfg.Dimension), nil
	case "openai", "ollama":
		if gw == nil {
			return nil, fmt.Errorf("embedding backend %s: %w", cfg.Backend, llm.ErrNotConfigured)
		}
		return NewGatewayBackend(gw, cfg.Backend, cfg.Model, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}
