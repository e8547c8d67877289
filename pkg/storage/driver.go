// Package storage defines the persistence contracts of the memory pipeline:
// the archival summary store, rollup cursors, the reflection dead-letter
// log, and the core-memory blocks that live conversations read.
package storage

import (
	"context"
	"time"

	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/memory"
)

// DefaultSearchLimit is used when a search query does not set a limit.
const DefaultSearchLimit = 10

// SearchQuery selects summaries of one kind for one agent.
type SearchQuery struct {
	AgentID string
	Kind    memory.Kind
	Text    string
	Limit   int
}

// ArchiveStore is the append-only summary archive.
type ArchiveStore interface {
	// Append stores a summary. It returns true if the summary was newly
	// inserted and false if a summary with the same id already exists, in
	// which case the store is unchanged.
	Append(ctx context.Context, s *memory.Summary) (bool, error)

	// Get retrieves a summary by id. It returns NotFoundError if there is
	// none.
	Get(ctx context.Context, agentID, id string) (*memory.Summary, error)

	// Search returns up to q.Limit summaries of q.Kind, most relevant first.
	Search(ctx context.Context, q SearchQuery) ([]memory.Summary, error)

	// Recent returns summaries whose period ends at or after since, newest
	// first. An empty kind matches every kind. A limit <= 0 is unlimited.
	Recent(ctx context.Context, agentID string, kind memory.Kind, since time.Time, limit int) ([]memory.Summary, error)

	// Since returns summaries of kind whose period ends strictly after
	// after, oldest first.
	Since(ctx context.Context, agentID string, kind memory.Kind, after time.Time) ([]memory.Summary, error)

	// Agents lists every agent with at least one stored summary.
	Agents(ctx context.Context) ([]string, error)
}

// CursorStore persists rollup progress.
type CursorStore interface {
	// GetCursor returns the cursor for agentID and target, positioned at
	// memory.Epoch if none was stored yet.
	GetCursor(ctx context.Context, agentID string, target memory.Kind) (memory.RollupCursor, error)

	// AdvanceCursor stores c if its high-water mark is strictly after the
	// stored one. It returns false and leaves the store unchanged otherwise.
	AdvanceCursor(ctx context.Context, c memory.RollupCursor) (bool, error)
}

// DeadLetter is a reflection job that exhausted its retries. It keeps the
// full job so that it can be replayed.
//
// Payloads rejected before any attempt carry the raw bytes in Payload and a
// jobqueue reason in Reason. Job then holds whatever could be read from them.
type DeadLetter struct {
	ID        string                 `json:"id"`
	Job       jobqueue.ReflectionJob `json:"job"`
	Attempts  int                    `json:"attempts"`
	LastError string                 `json:"last_error"`
	FailedAt  time.Time              `json:"failed_at"`
	Reason    string                 `json:"reason,omitempty"`
	Payload   []byte                 `json:"payload,omitempty"`
}

// DeadLetterStore keeps failed reflection jobs.
type DeadLetterStore interface {
	PutDeadLetter(ctx context.Context, dl *DeadLetter) error
	GetDeadLetter(ctx context.Context, id string) (*DeadLetter, error)

	// ListDeadLetters returns entries oldest first.
	ListDeadLetters(ctx context.Context) ([]DeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id string) error
}

// Block is a labelled core-memory value read synchronously by live
// conversations.
type Block struct {
	AgentID   string    `json:"agent_id"`
	Label     string    `json:"label"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlockStore keeps core-memory blocks. SetBlock replaces the whole value.
type BlockStore interface {
	SetBlock(ctx context.Context, b Block) error
	GetBlock(ctx context.Context, agentID, label string) (*Block, error)
}

// Driver is a storage backend implementing every store.
type Driver interface {
	ArchiveStore
	CursorStore
	DeadLetterStore
	BlockStore

	// Close closes the store and releases any resources.
	Close() error
}
