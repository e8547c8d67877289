// Package session tracks live conversation sessions and decides when they
// end.
//
// The Tracker owns every in-progress memory.Session, keyed by connection id.
// A session ends when its connection disconnects or when it has been idle for
// the configured timeout. Removing the session from the registry is the single
// point at which it ends, so a disconnect racing a timeout scan for the same
// connection fires the end handler exactly once.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/reverie/pkg/logger"
	"github.com/papercomputeco/reverie/pkg/memory"
)

const (
	// DefaultTimeout is how long a session may stay idle.
	DefaultTimeout = 300 * time.Second

	// DefaultScanInterval is how often RunTimeoutScanner checks for idle
	// sessions.
	DefaultScanInterval = 10 * time.Second
)

// EndHandler receives a snapshot of every ended session that had at least
// one turn. It is called outside the tracker's lock and must not block for
// long; the conversation path may be waiting on it.
type EndHandler func(s memory.Session, reason memory.EndReason)

// Config configures a Tracker.
type Config struct {
	// Timeout is the silence timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// OnEnd is invoked once per ended session with at least one turn.
	OnEnd EndHandler

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// NewID generates session ids. Defaults to uuid.NewString.
	NewID func() string

	Logger *slog.Logger
}

// Tracker is a concurrency-safe registry of live sessions.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*memory.Session

	timeout time.Duration
	onEnd   EndHandler
	clock   func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(c Config) *Tracker {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.OnEnd == nil {
		c.OnEnd = func(memory.Session, memory.EndReason) {}
	}

	return &Tracker{
		sessions: make(map[string]*memory.Session),
		timeout:  c.Timeout,
		onEnd:    c.OnEnd,
		clock:    c.Clock,
		newID:    c.NewID,
		logger:   c.Logger.With("component", "session_tracker"),
	}
}

// Timeout returns the configured silence timeout.
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

// StartSession registers a new session for connectionID and returns its id.
func (t *Tracker) StartSession(agentID, connectionID string) (string, error) {
	now := t.clock().UTC()

	t.mu.Lock()
	if _, ok := t.sessions[connectionID]; ok {
		t.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrConnectionExists, connectionID)
	}
	s := &memory.Session{
		SessionID:    t.newID(),
		AgentID:      agentID,
		ConnectionID: connectionID,
		StartedAt:    now,
		LastActivity: now,
		Turns:        []memory.Turn{},
	}
	t.sessions[connectionID] = s
	t.mu.Unlock()

	t.logger.Debug("session started",
		"agent_id", agentID,
		"connection_id", connectionID,
		"session_id", s.SessionID,
	)
	return s.SessionID, nil
}

// RecordTurn appends a turn to the session on connectionID. Turns for
// unknown connections are dropped, so a late turn never revives an ended
// session. It reports whether the turn was recorded.
func (t *Tracker) RecordTurn(connectionID, userText, agentText string) bool {
	now := t.clock().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[connectionID]
	if !ok {
		return false
	}
	s.Turns = append(s.Turns, memory.Turn{
		UserText:  userText,
		AgentText: agentText,
		Timestamp: now,
	})
	s.LastActivity = now
	return true
}

// Touch marks activity on connectionID without recording a turn.
func (t *Tracker) Touch(connectionID string) bool {
	now := t.clock().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[connectionID]
	if !ok {
		return false
	}
	s.LastActivity = now
	return true
}

// EndSession removes the session on connectionID and, if it had any turns,
// hands a snapshot to the end handler. It reports whether this call was the
// one that removed the session.
func (t *Tracker) EndSession(connectionID string, reason memory.EndReason) bool {
	t.mu.Lock()
	s, ok := t.sessions[connectionID]
	if ok {
		delete(t.sessions, connectionID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	t.finish(s, reason)
	return true
}

// CheckTimeouts ends every session idle for at least the timeout at now and
// returns how many it ended.
func (t *Tracker) CheckTimeouts(now time.Time) int {
	var expired []*memory.Session

	t.mu.Lock()
	for conn, s := range t.sessions {
		if s.Idle(now) >= t.timeout {
			delete(t.sessions, conn)
			expired = append(expired, s)
		}
	}
	t.mu.Unlock()

	for _, s := range expired {
		t.finish(s, memory.EndReasonSilenceTimeout)
	}
	return len(expired)
}

// Active returns snapshots of all live sessions.
func (t *Tracker) Active() []memory.Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]memory.Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Lookup returns a snapshot of the live session on connectionID.
func (t *Tracker) Lookup(connectionID string) (memory.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[connectionID]
	if !ok {
		return memory.Session{}, false
	}
	return s.Snapshot(), true
}

// RunTimeoutScanner calls CheckTimeouts every interval until ctx is done.
func (t *Tracker) RunTimeoutScanner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultScanInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.CheckTimeouts(t.clock()); n > 0 {
				t.logger.Debug("expired idle sessions", "count", n)
			}
		}
	}
}

// finish runs after s has left the registry; nothing else can reach it.
func (t *Tracker) finish(s *memory.Session, reason memory.EndReason) {
	if len(s.Turns) == 0 {
		t.logger.Debug("discarding empty session",
			"agent_id", s.AgentID,
			"session_id", s.SessionID,
			"reason", reason,
		)
		return
	}

	t.logger.Info("session ended",
		"agent_id", s.AgentID,
		"session_id", s.SessionID,
		"connection_id", s.ConnectionID,
		"turns", len(s.Turns),
		"reason", reason,
	)
	t.onEnd(s.Snapshot(), reason)
}
