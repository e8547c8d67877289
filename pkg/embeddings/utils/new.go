// Package embeddingutils picks the embeddings.Embedder named in the config.
package embeddingutils

import (
	"fmt"

	"github.com/papercomputeco/reverie/pkg/config"
	"github.com/papercomputeco/reverie/pkg/embeddings"
	"github.com/papercomputeco/reverie/pkg/embeddings/ollama"
	"github.com/papercomputeco/reverie/pkg/embeddings/openai"
)

// FromConfig builds the embedder for ec. The openai provider takes its key
// from $OPENAI_API_KEY.
func FromConfig(ec config.EmbeddingConfig) (embeddings.Embedder, error) {
	switch ec.Provider {
	case "ollama":
		return ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL: ec.Target,
			Model:   ec.Model,
		})
	case "openai":
		return openai.NewEmbedder(openai.EmbedderConfig{
			BaseURL: ec.Target,
			Model:   ec.Model,
		})
	}
	return nil, fmt.Errorf("unsupported embedding provider: %q", ec.Provider)
}
