// Package rollup aggregates lower-tier summaries into daily and weekly
// rollups.
//
// Each (agent, target kind) pair has a persisted cursor. A run reads the
// source summaries ending after the cursor, groups them into UTC calendar
// windows, and emits one rollup per window once that window has closed and
// settled. The cursor only moves after the rollup is stored, so a crash
// between the two re-runs the window and the deterministic rollup id turns
// the second append into a no-op.
//
// Windows behind the cursor are re-read for a reconcile span. A source that
// reaches the archive after its window was rolled up is missing from the
// stored lineage and gets a supplementary rollup with id "<base>.<n>".
package rollup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/papercomputeco/reverie/pkg/eventstream"
	"github.com/papercomputeco/reverie/pkg/eventstream/nop"
	"github.com/papercomputeco/reverie/pkg/logger"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/reflection"
	"github.com/papercomputeco/reverie/pkg/reflector"
	"github.com/papercomputeco/reverie/pkg/storage"
)

const (
	DefaultDailyInterval  = time.Hour
	DefaultWeeklyInterval = 6 * time.Hour

	// DefaultSettle covers a session timeout plus reflection retries.
	DefaultSettle    = 15 * time.Minute
	DefaultReconcile = 14 * 24 * time.Hour
)

// Config configures a Scheduler.
type Config struct {
	Archive   storage.ArchiveStore
	Cursors   storage.CursorStore
	Reflector reflector.Reflector

	// Agents are rolled up in addition to every agent found in the archive.
	Agents *memory.AgentSet

	// ReflectorFor returns the reflector agent id used for an agent's
	// rollups. Optional.
	ReflectorFor func(agentID string) string

	Events eventstream.Publisher

	DailyInterval  time.Duration
	WeeklyInterval time.Duration

	// Settle is how long after a window closes it stays open for summaries
	// of sessions that ended just before the boundary.
	Settle time.Duration

	// Reconcile is how far behind the cursor windows are re-read for late
	// sources.
	Reconcile time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

// Result describes one RunOnce.
type Result struct {
	// Created lists the ids of newly stored rollups.
	Created []string

	// Existing lists rollup ids that were already stored.
	Existing []string

	// Supplements lists the created ids that cover late sources of a window
	// rolled up earlier.
	Supplements []string

	// OpenWindow is set when sources remain in a window that has not closed.
	OpenWindow bool

	Cursor memory.RollupCursor
}

// Scheduler produces rollups.
type Scheduler struct {
	archive        storage.ArchiveStore
	cursors        storage.CursorStore
	reflector      reflector.Reflector
	agents         *memory.AgentSet
	reflectorFor   func(string) string
	events         eventstream.Publisher
	dailyInterval  time.Duration
	weeklyInterval time.Duration
	settle         time.Duration
	reconcile      time.Duration
	clock          func() time.Time
	logger         *slog.Logger

	flight singleflight.Group
}

// NewScheduler creates a Scheduler.
func NewScheduler(c Config) (*Scheduler, error) {
	if c.Archive == nil || c.Cursors == nil || c.Reflector == nil {
		return nil, errors.New("rollup scheduler requires an archive, a cursor store and a reflector")
	}
	if c.Agents == nil {
		c.Agents = memory.NewAgentSet()
	}
	if c.ReflectorFor == nil {
		c.ReflectorFor = func(string) string { return "" }
	}
	if c.Events == nil {
		c.Events = nop.NewPublisher()
	}
	if c.DailyInterval <= 0 {
		c.DailyInterval = DefaultDailyInterval
	}
	if c.WeeklyInterval <= 0 {
		c.WeeklyInterval = DefaultWeeklyInterval
	}
	if c.Settle <= 0 {
		c.Settle = DefaultSettle
	}
	if c.Reconcile <= 0 {
		c.Reconcile = DefaultReconcile
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	return &Scheduler{
		archive:        c.Archive,
		cursors:        c.Cursors,
		reflector:      c.Reflector,
		agents:         c.Agents,
		reflectorFor:   c.ReflectorFor,
		events:         c.Events,
		dailyInterval:  c.DailyInterval,
		weeklyInterval: c.WeeklyInterval,
		settle:         c.Settle,
		reconcile:      c.Reconcile,
		clock:          c.Clock,
		logger:         c.Logger.With("component", "rollup"),
	}, nil
}

// RunOnce rolls up the closed windows of target for agentID at now.
// Concurrent calls for the same agent and target share one run.
func (s *Scheduler) RunOnce(ctx context.Context, agentID string, target memory.Kind, now time.Time) (*Result, error) {
	if _, ok := target.RollupSource(); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRollupKind, target)
	}

	v, err, _ := s.flight.Do(agentID+"/"+string(target), func() (any, error) {
		return s.run(ctx, agentID, target, now)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (s *Scheduler) run(ctx context.Context, agentID string, target memory.Kind, now time.Time) (*Result, error) {
	source, _ := target.RollupSource()
	log := s.logger.With("agent_id", agentID, "target_kind", target)

	cursor, err := s.cursors.GetCursor(ctx, agentID, target)
	if err != nil {
		return nil, fmt.Errorf("loading cursor: %w", err)
	}
	result := &Result{Cursor: cursor}

	from := cursor.HighWaterMark
	if floor := now.Add(-s.reconcile); floor.Before(from) {
		from = floor
	}
	sources, err := s.archive.Since(ctx, agentID, source, from)
	if err != nil {
		return nil, fmt.Errorf("loading %s summaries: %w", source, err)
	}
	if len(sources) == 0 {
		return result, nil
	}

	settled := now.Add(-s.settle)
	for _, group := range groupByWindow(target, sources) {
		if !group.window.Closed(settled) {
			result.OpenWindow = true
			break
		}

		baseID := SummaryID(target, agentID, group.window)
		covered, next, err := s.lineage(ctx, agentID, baseID)
		if err != nil {
			return result, fmt.Errorf("loading lineage of %s: %w", baseID, err)
		}

		missing := group.uncovered(covered)
		if len(missing) == 0 {
			if group.end().After(cursor.HighWaterMark) {
				result.Existing = append(result.Existing, baseID)
			}
			if err := s.advance(ctx, result, agentID, target, group.end()); err != nil {
				return result, err
			}
			continue
		}

		id := baseID
		if next > 1 {
			id = SupplementID(baseID, next)
		}
		rollup, err := s.build(ctx, id, agentID, target, windowGroup{window: group.window, sources: missing}, now)
		if err != nil {
			return result, fmt.Errorf("building %s: %w", id, err)
		}

		inserted, err := s.archive.Append(ctx, rollup)
		if err != nil {
			return result, fmt.Errorf("storing %s: %w", id, err)
		}
		if inserted {
			result.Created = append(result.Created, id)
			if next > 1 {
				result.Supplements = append(result.Supplements, id)
			}
			log.Info("stored rollup",
				"summary_id", id,
				"sources", len(rollup.SourceSummaryIDs),
				"supplement", next > 1,
			)
			event := eventstream.NewEvent(eventstream.EventTypeRollupStored, agentID)
			event.Summary = eventstream.NewSummaryMeta(rollup)
			s.publish(ctx, event)
		} else {
			// Another run stored this id first. Anything it left out is
			// picked up by the next reconcile.
			result.Existing = append(result.Existing, id)
			log.Warn("rollup already stored by another run", "summary_id", id)
		}

		if err := s.advance(ctx, result, agentID, target, group.end()); err != nil {
			return result, err
		}
	}

	return result, nil
}

// lineage returns the source ids covered by the rollups already stored for
// baseID and the sequence number of the next rollup for that window. The
// base rollup is number 1.
func (s *Scheduler) lineage(ctx context.Context, agentID, baseID string) (map[string]struct{}, int, error) {
	covered := map[string]struct{}{}
	for n := 1; ; n++ {
		id := baseID
		if n > 1 {
			id = SupplementID(baseID, n)
		}
		stored, err := s.archive.Get(ctx, agentID, id)
		if storage.IsNotFound(err) {
			return covered, n, nil
		}
		if err != nil {
			return nil, 0, err
		}
		for _, src := range stored.SourceSummaryIDs {
			covered[src] = struct{}{}
		}
	}
}

func (s *Scheduler) advance(ctx context.Context, result *Result, agentID string, target memory.Kind, hwm time.Time) error {
	if !hwm.After(result.Cursor.HighWaterMark) {
		return nil
	}
	next := memory.RollupCursor{AgentID: agentID, TargetKind: target, HighWaterMark: hwm}
	if _, err := s.cursors.AdvanceCursor(ctx, next); err != nil {
		return fmt.Errorf("advancing %s cursor to %s: %w", target, hwm.Format(time.RFC3339), err)
	}
	result.Cursor = next
	return nil
}

func (s *Scheduler) build(ctx context.Context, id, agentID string, target memory.Kind, g windowGroup, now time.Time) (*memory.Summary, error) {
	text, err := s.reflector.Reflect(ctx, reflector.Request{
		ReflectorAgentID: s.reflectorFor(agentID),
		Prompt:           reflection.RollupPrompt(target, g.window.Start, g.window.End, g.sources),
	})
	if err != nil {
		return nil, err
	}

	rollup := &memory.Summary{
		ID:          id,
		Kind:        target,
		AgentID:     agentID,
		PeriodStart: g.sources[0].PeriodStart,
		PeriodEnd:   g.sources[0].PeriodEnd,
		Body:        reflection.Extract(text).Body,
		CreatedAt:   now.UTC(),
	}

	var topics, entities [][]string
	ids := make([]string, 0, len(g.sources))
	for _, src := range g.sources {
		if src.PeriodStart.Before(rollup.PeriodStart) {
			rollup.PeriodStart = src.PeriodStart
		}
		if src.PeriodEnd.After(rollup.PeriodEnd) {
			rollup.PeriodEnd = src.PeriodEnd
		}
		topics = append(topics, src.Topics)
		entities = append(entities, src.Entities)
		ids = append(ids, src.ID)
		rollup.TurnCount += src.TurnCount
	}
	slices.Sort(ids)

	rollup.Topics = memory.UnionSets(topics...)
	rollup.Entities = memory.UnionSets(entities...)
	rollup.SourceSummaryIDs = ids
	return rollup, nil
}

// Run rolls up every known agent on the configured intervals until ctx is
// done. Each kind runs once immediately. Weekly runs are preceded by a daily
// run so the last day of a week is rolled up before the week is.
func (s *Scheduler) Run(ctx context.Context) {
	daily := time.NewTicker(s.dailyInterval)
	defer daily.Stop()
	weekly := time.NewTicker(s.weeklyInterval)
	defer weekly.Stop()

	s.RunAll(ctx, memory.KindDaily)
	s.RunAll(ctx, memory.KindWeekly)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rollup scheduler stopping")
			return
		case <-daily.C:
			s.RunAll(ctx, memory.KindDaily)
		case <-weekly.C:
			s.RunAll(ctx, memory.KindDaily)
			s.RunAll(ctx, memory.KindWeekly)
		}
	}
}

// RunAll runs target for every known agent. Failures are logged per agent.
func (s *Scheduler) RunAll(ctx context.Context, target memory.Kind) {
	agents, err := s.KnownAgents(ctx)
	if err != nil {
		s.logger.Error("listing agents", "error", err)
	}

	now := s.clock()
	for _, agentID := range agents {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunOnce(ctx, agentID, target, now); err != nil {
			s.logger.Error("rollup failed, cursor left in place",
				"agent_id", agentID,
				"target_kind", target,
				"error", err,
			)
		}
	}
}

// KnownAgents returns the configured agents and every agent with stored
// summaries.
func (s *Scheduler) KnownAgents(ctx context.Context) ([]string, error) {
	stored, err := s.archive.Agents(ctx)
	set := memory.NewAgentSet(s.agents.List()...)
	for _, id := range stored {
		set.Add(id)
	}
	return set.List(), err
}

func (s *Scheduler) publish(ctx context.Context, event *eventstream.MemoryEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish memory event",
			"event_type", event.EventType,
			"agent_id", event.AgentID,
			"error", err,
		)
	}
}

type windowGroup struct {
	window  Window
	sources []memory.Summary
}

// groupByWindow partitions sources, sorted by period end, into consecutive
// windows by period end.
func groupByWindow(target memory.Kind, sources []memory.Summary) []windowGroup {
	var groups []windowGroup
	for _, src := range sources {
		w, err := WindowFor(target, src.PeriodEnd)
		if err != nil {
			continue
		}
		if n := len(groups); n > 0 && groups[n-1].window.Start.Equal(w.Start) {
			groups[n-1].sources = append(groups[n-1].sources, src)
			continue
		}
		groups = append(groups, windowGroup{window: w, sources: []memory.Summary{src}})
	}
	return groups
}

// uncovered returns the sources whose ids are not in covered.
func (g windowGroup) uncovered(covered map[string]struct{}) []memory.Summary {
	var out []memory.Summary
	for _, src := range g.sources {
		if _, ok := covered[src.ID]; !ok {
			out = append(out, src)
		}
	}
	return out
}

// end is the latest period end in the group.
func (g windowGroup) end() time.Time {
	var end time.Time
	for _, src := range g.sources {
		if src.PeriodEnd.After(end) {
			end = src.PeriodEnd
		}
	}
	return end
}
