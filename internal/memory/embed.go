package memory

import (
	"fmt"
	"strings"

	"github.com/philippgille/chromem-go"
)

// EmbedderConfig selects an embedding backend.
type EmbedderConfig struct {
	// Kind is "openai" or "ollama".
	Kind    string
	Model   string
	APIKey  string
	BaseURL string
}

// NewEmbeddingFunc returns the chromem embedding function for cfg.
func NewEmbeddingFunc(cfg EmbedderConfig) (chromem.EmbeddingFunc, error) {
	switch cfg.Kind {
	case "openai":
		if cfg.BaseURL != "" {
			model := cfg.Model
			if model == "" {
				model = string(chromem.EmbeddingModelOpenAI3Small)
			}
			return chromem.NewEmbeddingFuncOpenAICompat(strings.TrimRight(cfg.BaseURL, "/"), cfg.APIKey, model, nil), nil
		}
		model := chromem.EmbeddingModelOpenAI3Small
		if cfg.Model != "" {
			model = chromem.EmbeddingModelOpenAI(cfg.Model)
		}
		return chromem.NewEmbeddingFuncOpenAI(cfg.APIKey, model), nil
	case "ollama":
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		base := strings.TrimRight(cfg.BaseURL, "/")
		if base != "" && !strings.HasSuffix(base, "/api") {
			base += "/api"
		}
		return chromem.NewEmbeddingFuncOllama(model, base), nil
	default:
		return nil, fmt.Errorf("unknown embedder %q (valid: openai, ollama)", cfg.Kind)
	}
}
