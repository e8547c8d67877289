// Package bgcontext maintains each agent's background context block: a
// small, size-bounded digest of recent summaries that live conversations
// read synchronously.
//
// A refresh rebuilds the block from scratch. The previous value is kept
// whenever a refresh fails or would publish an empty block.
package bgcontext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/papercomputeco/reverie/pkg/eventstream"
	"github.com/papercomputeco/reverie/pkg/eventstream/nop"
	"github.com/papercomputeco/reverie/pkg/logger"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/storage"
)

const (
	DefaultRefreshInterval = 5 * time.Minute
	DefaultTopicWindow     = 24 * time.Hour
)

// ErrEmptyContext is returned by Refresh when there is nothing to publish.
var ErrEmptyContext = errors.New("background context is empty")

// Config configures a Builder.
type Config struct {
	Archive storage.ArchiveStore
	Blocks  storage.BlockStore

	// Agents lists the agents refreshed by Run, in addition to every agent
	// with stored summaries.
	Agents *memory.AgentSet

	// PersistentContext returns the fixed entries rendered for an agent.
	PersistentContext func(agentID string) []string

	Events eventstream.Publisher

	// MaxChars defaults to memory.DefaultMaxContextChars.
	MaxChars        int
	RefreshInterval time.Duration

	// TopicWindow is how far back active topics are collected.
	TopicWindow time.Duration

	// RecentLookback bounds how old the recent session summary may be.
	// Zero means unbounded.
	RecentLookback time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

// Snapshot is the last published context of an agent.
type Snapshot struct {
	Context memory.BackgroundContext `json:"context"`
	Text    string                   `json:"text"`
}

// Builder refreshes and caches background contexts.
type Builder struct {
	archive           storage.ArchiveStore
	blocks            storage.BlockStore
	agents            *memory.AgentSet
	persistentContext func(string) []string
	events            eventstream.Publisher
	maxChars          int
	refreshInterval   time.Duration
	topicWindow       time.Duration
	recentLookback    time.Duration
	clock             func() time.Time
	logger            *slog.Logger

	flight singleflight.Group

	mu    sync.RWMutex
	cache map[string]Snapshot
}

// NewBuilder creates a Builder.
func NewBuilder(c Config) (*Builder, error) {
	if c.Archive == nil || c.Blocks == nil {
		return nil, errors.New("background context builder requires an archive and a block store")
	}
	if c.Agents == nil {
		c.Agents = memory.NewAgentSet()
	}
	if c.PersistentContext == nil {
		c.PersistentContext = func(string) []string { return nil }
	}
	if c.Events == nil {
		c.Events = nop.NewPublisher()
	}
	if c.MaxChars <= 0 {
		c.MaxChars = memory.DefaultMaxContextChars
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.TopicWindow <= 0 {
		c.TopicWindow = DefaultTopicWindow
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	return &Builder{
		archive:           c.Archive,
		blocks:            c.Blocks,
		agents:            c.Agents,
		persistentContext: c.PersistentContext,
		events:            c.Events,
		maxChars:          c.MaxChars,
		refreshInterval:   c.RefreshInterval,
		topicWindow:       c.TopicWindow,
		recentLookback:    c.RecentLookback,
		clock:             c.Clock,
		logger:            c.Logger.With("component", "background_context"),
		cache:             make(map[string]Snapshot),
	}, nil
}

// Get returns the last published context of agentID.
func (b *Builder) Get(agentID string) (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.cache[agentID]
	return s, ok
}

// Refresh rebuilds and publishes agentID's background context. On error
// the previously published value stays in place. Concurrent refreshes of
// one agent share a single run.
func (b *Builder) Refresh(ctx context.Context, agentID string) (Snapshot, error) {
	v, err, _ := b.flight.Do(agentID, func() (any, error) {
		return b.refresh(ctx, agentID)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (b *Builder) refresh(ctx context.Context, agentID string) (Snapshot, error) {
	now := b.clock().UTC()

	bc, err := b.build(ctx, agentID, now)
	if err != nil {
		return Snapshot{}, err
	}

	text := memory.Render(bc, b.maxChars)
	if text == "" {
		return Snapshot{}, ErrEmptyContext
	}

	err = b.blocks.SetBlock(ctx, storage.Block{
		AgentID:   agentID,
		Label:     memory.BackgroundContextLabel,
		Value:     text,
		UpdatedAt: now,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("publishing background context: %w", err)
	}

	snap := Snapshot{Context: bc, Text: text}
	b.mu.Lock()
	b.cache[agentID] = snap
	b.mu.Unlock()

	event := eventstream.NewEvent(eventstream.EventTypeContextRefreshed, agentID)
	event.ContextChars = utf8.RuneCountInString(text)
	if err := b.events.Publish(ctx, event); err != nil {
		b.logger.Warn("failed to publish memory event",
			"event_type", event.EventType,
			"agent_id", agentID,
			"error", err,
		)
	}

	return snap, nil
}

func (b *Builder) build(ctx context.Context, agentID string, now time.Time) (memory.BackgroundContext, error) {
	bc := memory.BackgroundContext{
		LastUpdated:       now,
		ActiveTopics:      []string{},
		PersistentContext: b.persistentContext(agentID),
	}

	since := memory.Epoch
	if b.recentLookback > 0 {
		since = now.Add(-b.recentLookback)
	}
	sessions, err := b.archive.Recent(ctx, agentID, memory.KindSession, since, 1)
	if err != nil {
		return bc, fmt.Errorf("loading recent session summary: %w", err)
	}
	if len(sessions) > 0 {
		body := sessions[0].Body
		bc.RecentSummary = &body
	}

	recent, err := b.archive.Recent(ctx, agentID, "", now.Add(-b.topicWindow), 0)
	if err != nil {
		return bc, fmt.Errorf("loading active topics: %w", err)
	}
	topics := make([][]string, 0, len(recent))
	for _, s := range recent {
		topics = append(topics, s.Topics)
	}
	bc.ActiveTopics = memory.UnionSets(topics...)

	return bc, nil
}

// Run refreshes every known agent on the configured interval until ctx is
// done, starting immediately.
func (b *Builder) Run(ctx context.Context) {
	ticker := time.NewTicker(b.refreshInterval)
	defer ticker.Stop()

	b.RefreshAll(ctx)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("background context builder stopping")
			return
		case <-ticker.C:
			b.RefreshAll(ctx)
		}
	}
}

// RefreshAll refreshes every known agent, logging failures.
func (b *Builder) RefreshAll(ctx context.Context) {
	set := memory.NewAgentSet(b.agents.List()...)
	stored, err := b.archive.Agents(ctx)
	if err != nil {
		b.logger.Error("listing agents", "error", err)
	}
	for _, id := range stored {
		set.Add(id)
	}

	for _, agentID := range set.List() {
		if ctx.Err() != nil {
			return
		}
		if _, err := b.Refresh(ctx, agentID); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, ErrEmptyContext) {
				level = slog.LevelDebug
			}
			b.logger.Log(ctx, level, "background context not refreshed, keeping previous value",
				"agent_id", agentID,
				"error", err,
			)
		}
	}
}
