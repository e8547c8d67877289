// Package memory holds the shared value types of the progressive
// conversational-memory pipeline.
//
// A live conversation is tracked as a [Session] of [Turn]s. When a session
// ends it is reflected into a session-kind [Summary], which is later rolled up
// into daily and weekly summaries. The most recent summaries are rendered into
// a size-bounded [BackgroundContext] block that live conversations read
// synchronously.
//
// Everything in this package is a plain value: sessions are snapshots,
// summaries are immutable once stored, and background contexts are recomputed
// from scratch on every refresh.
package memory

import (
	"time"
)

// Turn is one user/agent exchange within a session.
type Turn struct {
	UserText  string    `json:"user_text"`
	AgentText string    `json:"agent_text"`
	Timestamp time.Time `json:"timestamp"`
}

// EndReason describes why a session ended.
type EndReason string

const (
	// EndReasonDisconnect is used when the client connection closed.
	EndReasonDisconnect EndReason = "disconnect"

	// EndReasonSilenceTimeout is used when the session was idle for longer
	// than the configured timeout.
	EndReasonSilenceTimeout EndReason = "silence_timeout"
)

// Valid reports whether r is a known end reason.
func (r EndReason) Valid() bool {
	switch r {
	case EndReasonDisconnect, EndReasonSilenceTimeout:
		return true
	default:
		return false
	}
}

// Session is a snapshot of an in-progress (or just ended) conversation.
// The session tracker owns the live value; everything else only ever sees
// copies returned by Snapshot.
type Session struct {
	SessionID    string    `json:"session_id"`
	AgentID      string    `json:"agent_id"`
	ConnectionID string    `json:"connection_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	Turns        []Turn    `json:"turns"`
}

// Snapshot returns a deep copy of the session so that the caller can hand it
// to other goroutines without sharing the turn slice.
func (s *Session) Snapshot() Session {
	cp := *s
	cp.Turns = make([]Turn, len(s.Turns))
	copy(cp.Turns, s.Turns)
	return cp
}

// Idle returns how long the session has been without activity at now.
func (s *Session) Idle(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}
