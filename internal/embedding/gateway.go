package embedding

import (
	"context"
	"fmt"

	"github.com/nikhilbhutani/docqa/internal/llm"
)

var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
}

var defaultModels = map[string]string{
	"openai": "text-embedding-3-small",
	"ollama": "nomic-embed-text",
}

// GatewayBackend embeds through an LLM provider (OpenAI or Ollama).
type GatewayBackend struct {
	gateway  llm.Gateway
	provider string
	model    string
	dim      int
}

// NewGatewayBackend resolves the model's dimension from the known models,
// falling back to dim for anything else.
func NewGatewayBackend(gw llm.Gateway, provider, model string, dim int) (*GatewayBackend, error) {
	if model == "" {
		model = defaultModels[provider]
	}
	if model == "" {
		return nil, fmt.Errorf("no embedding model configured for provider %q", provider)
	}
	if known, ok := modelDimensions[model]; ok {
		dim = known
	}
	if dim <= 0 {
		return nil, fmt.Errorf("unknown dimension for embedding model %q", model)
	}
	return &GatewayBackend{gateway: gw, provider: provider, model: model, dim: dim}, nil
}

func (b *GatewayBackend) Name() string { return b.provider + ":" + b.model }

func (b *GatewayBackend) Dimension() int { return b.dim }

func (b *GatewayBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := b.gateway.Embed(ctx, llm.EmbeddingRequest{
		Provider: b.provider,
		Model:    b.model,
		Input:    texts,
	})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}
