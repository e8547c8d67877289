package memory

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxContextChars is the default size budget of a rendered background
// context block.
const DefaultMaxContextChars = 2000

// BackgroundContextLabel is the core-memory block label that the rendered
// background context is published under.
const BackgroundContextLabel = "background_context"

// LastSessionSummaryLabel is the core-memory block label holding the most
// recently stored session summary.
const LastSessionSummaryLabel = "last_session_summary"

// InsightsLabel is the core-memory block label the insights refresher keeps
// current while a conversation is live.
const InsightsLabel = "insights"

// BackgroundContext is the derived value rendered into the background context
// block. It is rebuilt from scratch on every refresh and never persisted
// partially.
type BackgroundContext struct {
	LastUpdated       time.Time `json:"last_updated"`
	RecentSummary     *string   `json:"recent_summary,omitempty"`
	ActiveTopics      []string  `json:"active_topics"`
	PersistentContext []string  `json:"persistent_context"`
}

// Render flattens bc into the text block consumed by live conversations and
// hard-truncates it to maxChars characters. Truncation counts characters,
// not bytes, and ignores word boundaries. A maxChars <= 0 disables
// truncation.
//
// Layout:
//
//	Recent: <recent summary>
//	Active topics: <a>, <b>
//	- <persistent entry>
func Render(bc BackgroundContext, maxChars int) string {
	var lines []string

	if bc.RecentSummary != nil {
		if recent := flatten(*bc.RecentSummary); recent != "" {
			lines = append(lines, "Recent: "+recent)
		}
	}

	if topics := NormalizeSet(bc.ActiveTopics); len(topics) > 0 {
		lines = append(lines, "Active topics: "+strings.Join(topics, ", "))
	}

	for _, entry := range bc.PersistentContext {
		if entry = flatten(entry); entry != "" {
			lines = append(lines, "- "+entry)
		}
	}

	return TruncateChars(strings.Join(lines, "\n"), maxChars)
}

// TruncateChars returns the first maxChars characters of s.
func TruncateChars(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}

	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}

// flatten collapses all whitespace runs (including newlines) to single spaces
// so each rendered entry stays on one line.
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
