package rollup

import (
	"fmt"
	"time"

	"github.com/papercomputeco/reverie/pkg/memory"
)

// Window is a closed-open UTC time range that one rollup covers.
type Window struct {
	Start time.Time
	End   time.Time

	// Label identifies the window within its kind, e.g. "20261014" for a
	// day or "2026W42" for an ISO week.
	Label string
}

// Contains reports whether t falls in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Closed reports whether the window has fully elapsed at now.
func (w Window) Closed(now time.Time) bool {
	return !now.Before(w.End)
}

// WindowFor returns the window of the given rollup kind containing t. Days
// are UTC calendar days; weeks are ISO weeks starting Monday 00:00 UTC.
func WindowFor(kind memory.Kind, t time.Time) (Window, error) {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

	switch kind {
	case memory.KindDaily:
		return Window{
			Start: day,
			End:   day.AddDate(0, 0, 1),
			Label: day.Format("20060102"),
		}, nil
	case memory.KindWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		year, week := start.ISOWeek()
		return Window{
			Start: start,
			End:   start.AddDate(0, 0, 7),
			Label: fmt.Sprintf("%04dW%02d", year, week),
		}, nil
	case memory.KindSession, memory.KindTopic:
		return Window{}, fmt.Errorf("%w: %s", ErrNotRollupKind, kind)
	default:
		return Window{}, fmt.Errorf("%w: %q", memory.ErrUnknownKind, kind)
	}
}

// SummaryID is the deterministic id of the rollup of kind for agentID over w,
// so that re-running a rollup is rejected as a duplicate by the archive.
func SummaryID(kind memory.Kind, agentID string, w Window) string {
	return fmt.Sprintf("%s-%s-%s", kind, agentID, w.Label)
}

// SupplementID is the id of the n-th rollup of the window whose first
// rollup is baseID. n starts at 2.
func SupplementID(baseID string, n int) string {
	return fmt.Sprintf("%s.%d", baseID, n)
}
