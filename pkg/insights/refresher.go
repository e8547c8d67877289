// Package insights keeps an agent's insights block relevant to the
// conversation it is having right now.
//
// On every tick the Refresher looks at the live sessions, takes the latest
// turns of each agent's most recently active one, and asks the reflector
// whether the current insights still support that conversation. The block is
// only rewritten when the reflector returns new insights.
package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/papercomputeco/reverie/pkg/eventstream"
	"github.com/papercomputeco/reverie/pkg/eventstream/nop"
	"github.com/papercomputeco/reverie/pkg/logger"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/reflector"
	"github.com/papercomputeco/reverie/pkg/storage"
)

const (
	DefaultInterval    = time.Minute
	DefaultRecentTurns = 10

	// NoUpdate is the reply that keeps the current insights.
	NoUpdate = "NO_UPDATE"
)

// ErrNoActivity is returned by Refresh when there is no new turn to review.
var ErrNoActivity = errors.New("no new conversation activity")

// SessionSource lists live sessions. *session.Tracker satisfies it.
type SessionSource interface {
	Active() []memory.Session
}

// Config configures a Refresher.
type Config struct {
	Sessions  SessionSource
	Blocks    storage.BlockStore
	Reflector reflector.Reflector

	// ReflectorFor returns the reflector agent id that reviews an agent's
	// insights. Optional.
	ReflectorFor func(agentID string) string

	Events eventstream.Publisher

	Interval    time.Duration
	RecentTurns int

	Clock  func() time.Time
	Logger *slog.Logger
}

// Outcome describes one review.
type Outcome struct {
	AgentID   string
	SessionID string
	Turns     int
	Updated   bool
}

// Refresher reviews the insights of agents with live conversations.
type Refresher struct {
	sessions     SessionSource
	blocks       storage.BlockStore
	reflector    reflector.Reflector
	reflectorFor func(string) string
	events       eventstream.Publisher
	interval     time.Duration
	recentTurns  int
	clock        func() time.Time
	logger       *slog.Logger

	flight singleflight.Group

	mu       sync.Mutex
	reviewed map[string]time.Time
}

// NewRefresher creates a Refresher.
func NewRefresher(c Config) (*Refresher, error) {
	if c.Sessions == nil || c.Blocks == nil || c.Reflector == nil {
		return nil, errors.New("insights refresher requires a session source, a block store and a reflector")
	}
	if c.ReflectorFor == nil {
		c.ReflectorFor = func(string) string { return "" }
	}
	if c.Events == nil {
		c.Events = nop.NewPublisher()
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.RecentTurns <= 0 {
		c.RecentTurns = DefaultRecentTurns
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	return &Refresher{
		sessions:     c.Sessions,
		blocks:       c.Blocks,
		reflector:    c.Reflector,
		reflectorFor: c.ReflectorFor,
		events:       c.Events,
		interval:     c.Interval,
		recentTurns:  c.RecentTurns,
		clock:        c.Clock,
		logger:       c.Logger.With("component", "insights"),
		reviewed:     make(map[string]time.Time),
	}, nil
}

// Live returns the most recently active live session of every agent that
// has at least one turn.
func (r *Refresher) Live() map[string]memory.Session {
	live := make(map[string]memory.Session)
	for _, s := range r.sessions.Active() {
		if len(s.Turns) == 0 {
			continue
		}
		if cur, ok := live[s.AgentID]; ok && !s.LastActivity.After(cur.LastActivity) {
			continue
		}
		live[s.AgentID] = s
	}
	return live
}

// Refresh reviews agentID's insights against session s. A session whose
// latest turn was already reviewed returns ErrNoActivity without calling the
// reflector. Concurrent refreshes of one agent share a single run.
func (r *Refresher) Refresh(ctx context.Context, s memory.Session) (*Outcome, error) {
	v, err, _ := r.flight.Do(s.AgentID, func() (any, error) {
		return r.refresh(ctx, s)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Outcome), nil
}

func (r *Refresher) refresh(ctx context.Context, s memory.Session) (*Outcome, error) {
	last := s.Turns[len(s.Turns)-1].Timestamp
	r.mu.Lock()
	seen, ok := r.reviewed[s.AgentID]
	r.mu.Unlock()
	if ok && !last.After(seen) {
		return nil, ErrNoActivity
	}

	current, err := r.current(ctx, s.AgentID)
	if err != nil {
		return nil, err
	}

	turns := s.Turns
	if len(turns) > r.recentTurns {
		turns = turns[len(turns)-r.recentTurns:]
	}

	reply, err := r.reflector.Reflect(ctx, reflector.Request{
		ReflectorAgentID: r.reflectorFor(s.AgentID),
		Prompt:           Prompt(current, turns),
	})
	if err != nil {
		return nil, fmt.Errorf("reviewing insights: %w", err)
	}

	out := &Outcome{AgentID: s.AgentID, SessionID: s.SessionID, Turns: len(turns)}
	if text := strings.TrimSpace(reply); text != "" && !strings.HasPrefix(text, NoUpdate) && text != current {
		err := r.blocks.SetBlock(ctx, storage.Block{
			AgentID:   s.AgentID,
			Label:     memory.InsightsLabel,
			Value:     text,
			UpdatedAt: r.clock().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("publishing insights: %w", err)
		}
		out.Updated = true
	}

	r.mu.Lock()
	r.reviewed[s.AgentID] = last
	r.mu.Unlock()

	event := eventstream.NewEvent(eventstream.EventTypeInsightsChecked, s.AgentID)
	event.SessionID = s.SessionID
	event.TurnCount = len(turns)
	event.InsightsUpdated = out.Updated
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Warn("failed to publish memory event",
			"event_type", event.EventType,
			"agent_id", s.AgentID,
			"error", err,
		)
	}

	return out, nil
}

func (r *Refresher) current(ctx context.Context, agentID string) (string, error) {
	block, err := r.blocks.GetBlock(ctx, agentID, memory.InsightsLabel)
	if storage.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading insights: %w", err)
	}
	return block.Value, nil
}

// RefreshAll reviews every agent with a live conversation, logging failures.
func (r *Refresher) RefreshAll(ctx context.Context) []Outcome {
	var outcomes []Outcome
	for agentID, s := range r.Live() {
		if ctx.Err() != nil {
			break
		}
		out, err := r.Refresh(ctx, s)
		if errors.Is(err, ErrNoActivity) {
			continue
		}
		if err != nil {
			r.logger.Warn("insights not reviewed, keeping previous value",
				"agent_id", agentID,
				"session_id", s.SessionID,
				"error", err,
			)
			continue
		}
		r.logger.Debug("insights reviewed",
			"agent_id", agentID,
			"turns", out.Turns,
			"updated", out.Updated,
		)
		outcomes = append(outcomes, *out)
	}
	return outcomes
}

// Run reviews live conversations on the configured interval until ctx is
// done.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("insights refresher stopping")
			return
		case <-ticker.C:
			r.RefreshAll(ctx)
		}
	}
}
