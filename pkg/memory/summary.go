package memory

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Summary is a stored, typed, time-bounded digest of one session or of a set
// of lower-tier summaries. Summaries are immutable once appended to the
// archive; a newer rollup supersedes them, nothing edits them.
//
// For KindSession, ID equals the session id so that at most one session
// summary can exist per session. Rollups carry their lineage in
// SourceSummaryIDs.
type Summary struct {
	ID               string    `json:"summary_id"`
	Kind             Kind      `json:"kind"`
	AgentID          string    `json:"agent_id"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	Body             string    `json:"body_text"`
	Topics           []string  `json:"topics"`
	Entities         []string  `json:"entities"`
	SourceSummaryIDs []string  `json:"source_summary_ids"`
	TurnCount        int       `json:"turn_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// Validate checks the structural invariants of a summary.
func (s *Summary) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty summary id", ErrInvalidSummary)
	}
	if s.AgentID == "" {
		return fmt.Errorf("%w: empty agent id for %s", ErrInvalidSummary, s.ID)
	}
	if s.PeriodEnd.Before(s.PeriodStart) {
		return fmt.Errorf("%w: period end before start for %s", ErrInvalidSummary, s.ID)
	}

	switch s.Kind {
	case KindSession:
		if len(s.SourceSummaryIDs) != 0 {
			return fmt.Errorf("%w: session summary %s has sources", ErrInvalidSummary, s.ID)
		}
	case KindDaily, KindWeekly:
		if len(s.SourceSummaryIDs) == 0 {
			return fmt.Errorf("%w: rollup %s has no sources", ErrInvalidSummary, s.ID)
		}
	case KindTopic:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}

	return nil
}

// Clone returns a copy of s that shares no slices with it.
func (s *Summary) Clone() Summary {
	cp := *s
	cp.Topics = slices.Clone(s.Topics)
	cp.Entities = slices.Clone(s.Entities)
	cp.SourceSummaryIDs = slices.Clone(s.SourceSummaryIDs)
	return cp
}

// NormalizeSet trims, de-duplicates and sorts a set of strings, dropping
// empty entries. The result is never nil.
func NormalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// UnionSets merges any number of string sets into one normalized set.
func UnionSets(sets ...[]string) []string {
	var all []string
	for _, s := range sets {
		all = append(all, s...)
	}
	return NormalizeSet(all)
}
