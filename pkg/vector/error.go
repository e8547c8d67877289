package vector

import "errors"

var (
	// ErrEmbedding wraps failures of the embedding provider.
	ErrEmbedding = errors.New("embedding failed")

	// ErrConnection wraps failures reaching the vector store.
	ErrConnection = errors.New("vector store connection failed")

	// ErrDimensionMismatch is returned for embeddings whose length differs
	// from the index dimensions.
	ErrDimensionMismatch = errors.New("embedding dimensions do not match the index")
)
