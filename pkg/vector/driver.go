// Package vector defines the similarity index archived summaries are
// searched through.
package vector

import "context"

// Document is one indexed summary.
type Document struct {
	// ID is the summary id.
	ID string

	// AgentID is the archive the summary belongs to. Queries never cross it.
	AgentID string

	// Content is the serialized archival record.
	Content string

	Embedding []float32
}

// QueryResult is a Document ranked against a query embedding.
type QueryResult struct {
	Document

	// Score is the cosine similarity to the query, higher is closer.
	Score float32
}

// VectorDriver is a per-agent nearest-neighbour index of summaries.
type VectorDriver interface {
	// Add indexes docs, replacing any document already stored under the
	// same ID.
	Add(ctx context.Context, docs []Document) error

	// Query ranks agentID's documents against embedding and returns at most
	// topK of them, best first.
	Query(ctx context.Context, agentID string, embedding []float32, topK int) ([]QueryResult, error)

	// Get loads the documents among ids that exist.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// Delete removes ids. Unknown ids are not an error.
	Delete(ctx context.Context, ids []string) error

	Close() error
}
