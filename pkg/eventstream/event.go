// Package eventstream publishes memory lifecycle events so that other
// systems can follow sessions, summaries and context refreshes.
package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/reverie/pkg/memory"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeSessionEnded is emitted when a non-empty session ends.
	EventTypeSessionEnded = "reverie.session.ended"

	// EventTypeSummaryStored is emitted after a session summary is appended.
	EventTypeSummaryStored = "reverie.summary.stored"

	// EventTypeRollupStored is emitted after a daily or weekly rollup is appended.
	EventTypeRollupStored = "reverie.rollup.stored"

	// EventTypeContextRefreshed is emitted after a background context block is
	// published.
	EventTypeContextRefreshed = "reverie.context.refreshed"

	// EventTypeReflectionDeadLettered is emitted when a reflection job
	// exhausts its retries.
	EventTypeReflectionDeadLettered = "reverie.reflection.dead_lettered"

	// EventTypeInsightsChecked is emitted after the insights of a live
	// conversation were reviewed, whether or not the block changed.
	EventTypeInsightsChecked = "reverie.insights.checked"
)

// MemoryEvent is a transport-neutral event payload. Fields that do not
// apply to an event type are omitted.
type MemoryEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	AgentID       string    `json:"agent_id"`

	SessionID    string       `json:"session_id,omitempty"`
	EndReason    string       `json:"end_reason,omitempty"`
	TurnCount    int          `json:"turn_count,omitempty"`
	Summary      *SummaryMeta `json:"summary,omitempty"`
	DeadLetterID string       `json:"dead_letter_id,omitempty"`
	Error        string       `json:"error,omitempty"`
	ContextChars int          `json:"context_chars,omitempty"`

	InsightsUpdated bool `json:"insights_updated,omitempty"`
}

// SummaryMeta describes a stored summary without its body.
type SummaryMeta struct {
	SummaryID        string    `json:"summary_id"`
	Kind             string    `json:"kind"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	Topics           []string  `json:"topics"`
	SourceSummaryIDs []string  `json:"source_summary_ids,omitempty"`
}

// NewEvent creates an event of eventType for agentID with a fresh id.
func NewEvent(eventType, agentID string) *MemoryEvent {
	return &MemoryEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		AgentID:       agentID,
	}
}

// NewSummaryMeta describes s.
func NewSummaryMeta(s *memory.Summary) *SummaryMeta {
	return &SummaryMeta{
		SummaryID:        s.ID,
		Kind:             string(s.Kind),
		PeriodStart:      s.PeriodStart,
		PeriodEnd:        s.PeriodEnd,
		Topics:           s.Topics,
		SourceSummaryIDs: s.SourceSummaryIDs,
	}
}
