// Package embeddings turns archival records into vectors for the summary
// index.
package embeddings

import "context"

// Embedder maps text to a fixed-size vector. The size must match the
// dimensions the vector index was opened with.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}
