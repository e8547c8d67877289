// Package inmemory provides a storage.Driver kept entirely in process memory.
package inmemory

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/storage"
)

type cursorKey struct {
	agentID string
	target  memory.Kind
}

type blockKey struct {
	agentID string
	label   string
}

// Driver implements storage.Driver using in-memory maps.
type Driver struct {
	// mu guards every map below
	mu sync.RWMutex

	// summaries is keyed by summary id
	summaries   map[string]memory.Summary
	cursors     map[cursorKey]memory.RollupCursor
	deadLetters map[string]storage.DeadLetter
	blocks      map[blockKey]storage.Block
}

// NewDriver creates a new in-memory store.
func NewDriver() *Driver {
	return &Driver{
		summaries:   make(map[string]memory.Summary),
		cursors:     make(map[cursorKey]memory.RollupCursor),
		deadLetters: make(map[string]storage.DeadLetter),
		blocks:      make(map[blockKey]storage.Block),
	}
}

// Append stores a summary. Returns true if the summary was newly inserted,
// false if one with the same id already existed.
func (d *Driver) Append(_ context.Context, s *memory.Summary) (bool, error) {
	if s == nil {
		return false, storage.ErrNilSummary
	}
	if err := s.Validate(); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.summaries[s.ID]; ok {
		return false, nil
	}

	d.summaries[s.ID] = s.Clone()
	return true, nil
}

// Get retrieves a summary by id.
func (d *Driver) Get(_ context.Context, agentID, id string) (*memory.Summary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.summaries[id]
	if !ok || s.AgentID != agentID {
		return nil, storage.NotFoundError{Resource: "summary", ID: id}
	}

	cp := s.Clone()
	return &cp, nil
}

// Search ranks every summary of the agent against the query.
func (d *Driver) Search(_ context.Context, q storage.SearchQuery) ([]memory.Summary, error) {
	d.mu.RLock()
	candidates := d.collect(func(s *memory.Summary) bool {
		return s.AgentID == q.AgentID && s.Kind == q.Kind
	})
	d.mu.RUnlock()

	return storage.Rank(candidates, q), nil
}

// Recent returns summaries ending at or after since, newest first.
func (d *Driver) Recent(_ context.Context, agentID string, kind memory.Kind, since time.Time, limit int) ([]memory.Summary, error) {
	d.mu.RLock()
	out := d.collect(func(s *memory.Summary) bool {
		return s.AgentID == agentID &&
			(kind == "" || s.Kind == kind) &&
			!s.PeriodEnd.Before(since)
	})
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b memory.Summary) int {
		return b.PeriodEnd.Compare(a.PeriodEnd)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Since returns summaries ending strictly after after, oldest first.
func (d *Driver) Since(_ context.Context, agentID string, kind memory.Kind, after time.Time) ([]memory.Summary, error) {
	d.mu.RLock()
	out := d.collect(func(s *memory.Summary) bool {
		return s.AgentID == agentID && s.Kind == kind && s.PeriodEnd.After(after)
	})
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b memory.Summary) int {
		if c := a.PeriodEnd.Compare(b.PeriodEnd); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Agents lists every agent with a stored summary.
func (d *Driver) Agents(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, s := range d.summaries {
		seen[s.AgentID] = struct{}{}
	}

	agents := make([]string, 0, len(seen))
	for id := range seen {
		agents = append(agents, id)
	}
	sort.Strings(agents)
	return agents, nil
}

// GetCursor returns the stored cursor or one positioned at memory.Epoch.
func (d *Driver) GetCursor(_ context.Context, agentID string, target memory.Kind) (memory.RollupCursor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.cursors[cursorKey{agentID, target}]
	if !ok {
		return memory.NewRollupCursor(agentID, target), nil
	}
	return c, nil
}

// AdvanceCursor stores c if it moves the high-water mark forward.
func (d *Driver) AdvanceCursor(_ context.Context, c memory.RollupCursor) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := cursorKey{c.AgentID, c.TargetKind}
	current, ok := d.cursors[key]
	if !ok {
		current = memory.NewRollupCursor(c.AgentID, c.TargetKind)
	}
	if !c.HighWaterMark.After(current.HighWaterMark) {
		return false, nil
	}

	c.HighWaterMark = c.HighWaterMark.UTC()
	d.cursors[key] = c
	return true, nil
}

// PutDeadLetter stores or replaces a dead-letter entry.
func (d *Driver) PutDeadLetter(_ context.Context, dl *storage.DeadLetter) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deadLetters[dl.ID] = *dl
	return nil
}

// GetDeadLetter retrieves a dead-letter entry by id.
func (d *Driver) GetDeadLetter(_ context.Context, id string) (*storage.DeadLetter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	dl, ok := d.deadLetters[id]
	if !ok {
		return nil, storage.NotFoundError{Resource: "dead letter", ID: id}
	}
	return &dl, nil
}

// ListDeadLetters returns every entry, oldest first.
func (d *Driver) ListDeadLetters(_ context.Context) ([]storage.DeadLetter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]storage.DeadLetter, 0, len(d.deadLetters))
	for _, dl := range d.deadLetters {
		out = append(out, dl)
	}
	slices.SortFunc(out, func(a, b storage.DeadLetter) int {
		if c := a.FailedAt.Compare(b.FailedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// DeleteDeadLetter removes an entry. Deleting a missing entry is a no-op.
func (d *Driver) DeleteDeadLetter(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.deadLetters, id)
	return nil
}

// SetBlock replaces the value of a block.
func (d *Driver) SetBlock(_ context.Context, b storage.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.blocks[blockKey{b.AgentID, b.Label}] = b
	return nil
}

// GetBlock returns the current value of a block.
func (d *Driver) GetBlock(_ context.Context, agentID, label string) (*storage.Block, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.blocks[blockKey{agentID, label}]
	if !ok {
		return nil, storage.NotFoundError{Resource: "block", ID: agentID + "/" + label}
	}
	return &b, nil
}

// Close is a no-op for the in-memory store.
func (d *Driver) Close() error {
	return nil
}

// collect returns clones of the summaries matching keep. Callers hold mu.
func (d *Driver) collect(keep func(*memory.Summary) bool) []memory.Summary {
	var out []memory.Summary
	for _, s := range d.summaries {
		if keep(&s) {
			out = append(out, s.Clone())
		}
	}
	return out
}

var _ storage.Driver = (*Driver)(nil)
