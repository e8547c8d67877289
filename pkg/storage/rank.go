package storage

import (
	"slices"
	"strings"

	"github.com/papercomputeco/reverie/pkg/memory"
)

// SearchTerms splits free text into lower-cased search terms.
func SearchTerms(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	return memory.NormalizeSet(fields)
}

// Score counts how many terms occur in the summary body, topics or entities.
func Score(s *memory.Summary, terms []string) int {
	haystack := strings.ToLower(strings.Join([]string{
		s.Body,
		strings.Join(s.Topics, " "),
		strings.Join(s.Entities, " "),
	}, "\n"))

	hits := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			hits++
		}
	}
	return hits
}

// Rank filters candidates to q's agent and kind, drops summaries matching
// none of q's terms, and orders the rest by term hits and then by period end,
// newest first. The result is truncated to q.Limit.
func Rank(candidates []memory.Summary, q SearchQuery) []memory.Summary {
	terms := SearchTerms(q.Text)

	type scored struct {
		summary memory.Summary
		score   int
	}

	matches := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.AgentID != q.AgentID || c.Kind != q.Kind {
			continue
		}
		score := Score(&c, terms)
		if len(terms) > 0 && score == 0 {
			continue
		}
		matches = append(matches, scored{summary: c, score: score})
	}

	slices.SortStableFunc(matches, func(a, b scored) int {
		if a.score != b.score {
			return b.score - a.score
		}
		return b.summary.PeriodEnd.Compare(a.summary.PeriodEnd)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	out := make([]memory.Summary, 0, min(limit, len(matches)))
	for _, m := range matches {
		if len(out) == limit {
			break
		}
		out = append(out, m.summary)
	}
	return out
}
