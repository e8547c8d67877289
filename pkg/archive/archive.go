// Package archive layers semantic search over a storage.ArchiveStore.
//
// IndexedStore embeds the serialized archival record of every newly
// appended summary into a vector index. Free-text searches query the index,
// over-fetch, and keep only hits whose record carries the requested kind
// marker, then load the full summaries from the underlying store. Anything
// the index cannot answer falls back to the store's own search, and short
// result lists are topped up from it.
//
// A summary whose indexing fails stays pending and is retried by Run. On
// start Run also backfills summaries of the last BackfillWindow that are
// missing from the index, since pending entries do not survive a restart.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/papercomputeco/reverie/pkg/embeddings"
	"github.com/papercomputeco/reverie/pkg/logger"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/storage"
	"github.com/papercomputeco/reverie/pkg/vector"
)

const (
	// DefaultOverfetch is how many index hits are requested per wanted result.
	DefaultOverfetch = 4

	DefaultRetryInterval  = 10 * time.Minute
	DefaultBackfillWindow = 7 * 24 * time.Hour

	backfillBatch = 64
)

// Config wires an IndexedStore.
type Config struct {
	Store    storage.ArchiveStore
	Index    vector.VectorDriver
	Embedder embeddings.Embedder

	// Overfetch multiplies the search limit when querying the index.
	Overfetch int

	RetryInterval  time.Duration
	BackfillWindow time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

// IndexedStore is a storage.ArchiveStore whose Search is vector-ranked.
type IndexedStore struct {
	store          storage.ArchiveStore
	index          vector.VectorDriver
	embedder       embeddings.Embedder
	overfetch      int
	retryInterval  time.Duration
	backfillWindow time.Duration
	clock          func() time.Time
	logger         *slog.Logger

	mu      sync.Mutex
	pending map[pendingKey]struct{}
}

type pendingKey struct {
	agentID string
	id      string
}

// New creates an IndexedStore.
func New(c Config) (*IndexedStore, error) {
	if c.Store == nil || c.Index == nil || c.Embedder == nil {
		return nil, fmt.Errorf("archive requires a store, an index and an embedder")
	}
	if c.Overfetch <= 0 {
		c.Overfetch = DefaultOverfetch
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.BackfillWindow <= 0 {
		c.BackfillWindow = DefaultBackfillWindow
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	return &IndexedStore{
		store:          c.Store,
		index:          c.Index,
		embedder:       c.Embedder,
		overfetch:      c.Overfetch,
		retryInterval:  c.RetryInterval,
		backfillWindow: c.BackfillWindow,
		clock:          c.Clock,
		logger:         c.Logger.With("component", "archive"),
		pending:        make(map[pendingKey]struct{}),
	}, nil
}

// Append stores the summary and, if it was new, indexes its record.
// Indexing failures are logged; the archive itself stays authoritative.
func (s *IndexedStore) Append(ctx context.Context, sum *memory.Summary) (bool, error) {
	inserted, err := s.store.Append(ctx, sum)
	if err != nil || !inserted {
		return inserted, err
	}

	if err := s.indexSummary(ctx, sum); err != nil {
		s.setPending(pendingKey{agentID: sum.AgentID, id: sum.ID}, true)
		s.logger.Warn("failed to index summary, will retry",
			"agent_id", sum.AgentID,
			"summary_id", sum.ID,
			"error", err,
		)
	}
	return true, nil
}

// Reindex re-embeds a stored summary, for summaries appended while the
// index was unavailable.
func (s *IndexedStore) Reindex(ctx context.Context, agentID, id string) error {
	key := pendingKey{agentID: agentID, id: id}

	sum, err := s.store.Get(ctx, agentID, id)
	if storage.IsNotFound(err) {
		s.setPending(key, false)
		return err
	}
	if err != nil {
		return err
	}
	if err := s.indexSummary(ctx, sum); err != nil {
		return err
	}
	s.setPending(key, false)
	return nil
}

// Pending returns the number of summaries waiting to be indexed.
func (s *IndexedStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *IndexedStore) setPending(key pendingKey, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pending {
		s.pending[key] = struct{}{}
	} else {
		delete(s.pending, key)
	}
}

// RetryPending reindexes every pending summary and returns how many were
// indexed. Summaries that fail again stay pending.
func (s *IndexedStore) RetryPending(ctx context.Context) int {
	s.mu.Lock()
	keys := make([]pendingKey, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	var indexed int
	for _, k := range keys {
		if ctx.Err() != nil {
			break
		}
		if err := s.Reindex(ctx, k.agentID, k.id); err != nil {
			s.logger.Warn("reindex failed",
				"agent_id", k.agentID,
				"summary_id", k.id,
				"error", err,
			)
			continue
		}
		indexed++
	}
	return indexed
}

// Backfill indexes agentID's summaries ending at or after since that the
// index does not hold, and returns how many it indexed.
func (s *IndexedStore) Backfill(ctx context.Context, agentID string, since time.Time) (int, error) {
	sums, err := s.store.Recent(ctx, agentID, "", since, 0)
	if err != nil {
		return 0, fmt.Errorf("listing summaries of %s: %w", agentID, err)
	}

	var indexed int
	for start := 0; start < len(sums); start += backfillBatch {
		batch := sums[start:min(start+backfillBatch, len(sums))]
		ids := make([]string, len(batch))
		for i := range batch {
			ids[i] = batch[i].ID
		}

		docs, err := s.index.Get(ctx, ids)
		if err != nil {
			return indexed, fmt.Errorf("reading index: %w", err)
		}
		have := make(map[string]bool, len(docs))
		for _, d := range docs {
			have[d.ID] = d.AgentID == agentID
		}

		for i := range batch {
			sum := &batch[i]
			if have[sum.ID] {
				continue
			}
			if err := s.indexSummary(ctx, sum); err != nil {
				s.setPending(pendingKey{agentID: agentID, id: sum.ID}, true)
				return indexed, fmt.Errorf("indexing %s: %w", sum.ID, err)
			}
			s.setPending(pendingKey{agentID: agentID, id: sum.ID}, false)
			indexed++
		}
	}
	return indexed, nil
}

// Run backfills recent summaries of every stored agent once, then retries
// pending summaries on the retry interval until ctx is done.
func (s *IndexedStore) Run(ctx context.Context) {
	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	s.backfillAll(ctx, s.clock().Add(-s.backfillWindow))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.RetryPending(ctx); n > 0 {
				s.logger.Info("reindexed pending summaries", "count", n, "remaining", s.Pending())
			}
		}
	}
}

func (s *IndexedStore) backfillAll(ctx context.Context, since time.Time) {
	agents, err := s.store.Agents(ctx)
	if err != nil {
		s.logger.Error("listing agents for backfill", "error", err)
		return
	}
	for _, agentID := range agents {
		n, err := s.Backfill(ctx, agentID, since)
		if err != nil {
			s.logger.Warn("index backfill incomplete", "agent_id", agentID, "indexed", n, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Info("backfilled summary index", "agent_id", agentID, "indexed", n)
		}
	}
}

func (s *IndexedStore) indexSummary(ctx context.Context, sum *memory.Summary) error {
	record := memory.SerializeRecord(sum)
	emb, err := s.embedder.Embed(ctx, record)
	if err != nil {
		return err
	}

	return s.index.Add(ctx, []vector.Document{{
		ID:        sum.ID,
		AgentID:   sum.AgentID,
		Content:   record,
		Embedding: emb,
	}})
}

// Search ranks by embedding similarity when q has text. Empty queries and
// index failures are answered by the underlying store.
func (s *IndexedStore) Search(ctx context.Context, q storage.SearchQuery) ([]memory.Summary, error) {
	if q.Text == "" {
		return s.store.Search(ctx, q)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = storage.DefaultSearchLimit
	}

	results, err := s.searchIndex(ctx, q, limit)
	if err != nil {
		s.logger.Warn("vector search failed, falling back to archive search",
			"agent_id", q.AgentID,
			"error", err,
		)
		return s.store.Search(ctx, q)
	}
	if len(results) < limit {
		return s.topUp(ctx, q, limit, results)
	}
	return results, nil
}

// topUp appends archive search hits not already in results, so summaries
// missing from the index are still found.
func (s *IndexedStore) topUp(ctx context.Context, q storage.SearchQuery, limit int, results []memory.Summary) ([]memory.Summary, error) {
	q.Limit = limit
	extra, err := s.store.Search(ctx, q)
	if err != nil {
		s.logger.Warn("archive search failed, returning index hits only",
			"agent_id", q.AgentID,
			"error", err,
		)
		return results, nil
	}

	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		seen[r.ID] = struct{}{}
	}
	for _, e := range extra {
		if len(results) == limit {
			break
		}
		if _, ok := seen[e.ID]; ok {
			continue
		}
		results = append(results, e)
	}
	return results, nil
}

func (s *IndexedStore) searchIndex(ctx context.Context, q storage.SearchQuery, limit int) ([]memory.Summary, error) {
	emb, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Query(ctx, q.AgentID, emb, limit*s.overfetch)
	if err != nil {
		return nil, err
	}

	out := make([]memory.Summary, 0, limit)
	for _, hit := range hits {
		if len(out) == limit {
			break
		}
		if hit.AgentID != q.AgentID || !memory.HasKindMarker(hit.Content, q.Kind) {
			continue
		}

		sum, err := s.store.Get(ctx, q.AgentID, hit.ID)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// The marker filter is best-effort; the stored kind is authoritative.
		if sum.Kind != q.Kind {
			continue
		}
		out = append(out, *sum)
	}
	return out, nil
}

// Get delegates to the underlying store.
func (s *IndexedStore) Get(ctx context.Context, agentID, id string) (*memory.Summary, error) {
	return s.store.Get(ctx, agentID, id)
}

// Recent delegates to the underlying store.
func (s *IndexedStore) Recent(ctx context.Context, agentID string, kind memory.Kind, since time.Time, limit int) ([]memory.Summary, error) {
	return s.store.Recent(ctx, agentID, kind, since, limit)
}

// Since delegates to the underlying store.
func (s *IndexedStore) Since(ctx context.Context, agentID string, kind memory.Kind, after time.Time) ([]memory.Summary, error) {
	return s.store.Since(ctx, agentID, kind, after)
}

// Agents delegates to the underlying store.
func (s *IndexedStore) Agents(ctx context.Context) ([]string, error) {
	return s.store.Agents(ctx)
}

var _ storage.ArchiveStore = (*IndexedStore)(nil)
