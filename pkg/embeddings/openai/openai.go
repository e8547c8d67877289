// Package openai embeds summary records through an OpenAI-compatible
// /embeddings endpoint.
package openai

import (
	"context"
	"fmt"
	"os"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/papercomputeco/reverie/pkg/embeddings"
	"github.com/papercomputeco/reverie/pkg/vector"
)

// DefaultEmbeddingModel is used when no model is configured.
const DefaultEmbeddingModel = "text-embedding-3-small"

// EmbedderConfig holds configuration for the OpenAI embedder.
type EmbedderConfig struct {
	// BaseURL overrides the API endpoint, e.g. for a local gateway.
	BaseURL string

	// APIKey defaults to $OPENAI_API_KEY.
	APIKey string

	Model string
}

// Embedder wraps the OpenAI embeddings API.
type Embedder struct {
	client oai.Client
	model  string
}

// NewEmbedder creates an Embedder.
func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedder requires an API key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultEmbeddingModel
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Embedder{
		client: oai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Embed converts text into a vector embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: oai.EmbeddingModel(e.model),
		Input: oai.EmbeddingNewParamsInputUnion{OfString: oai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrEmbedding, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", vector.ErrEmbedding)
	}

	out := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// Close is a no-op.
func (e *Embedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
