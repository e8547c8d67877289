package memory

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Archival record text convention:
//
//	[SUMMARY:DAILY]
//	Period: 2026-10-14T00:00:00Z to 2026-10-14T18:30:00Z
//	Topics: budget, travel
//	Entities: Alice
//	Turns: 12
//	Sources: s-1, s-2
//
//	<body text>
//	[/SUMMARY:DAILY]
//
// Backends without structured metadata filtering identify the kind of a
// record by matching its marker pair. A body that itself contains a marker
// string can confuse that match, so ParseRecordKind only honours the marker
// that opens the record.

const (
	headerPeriod   = "Period: "
	headerTopics   = "Topics: "
	headerEntities = "Entities: "
	headerTurns    = "Turns: "
	headerSources  = "Sources: "
	periodSep      = " to "
	listSep        = ", "
)

// SerializeRecord renders s using the archival record text convention.
func SerializeRecord(s *Summary) string {
	var b strings.Builder

	b.WriteString(s.Kind.OpenMarker())
	b.WriteByte('\n')
	b.WriteString(headerPeriod)
	b.WriteString(s.PeriodStart.UTC().Format(time.RFC3339Nano))
	b.WriteString(periodSep)
	b.WriteString(s.PeriodEnd.UTC().Format(time.RFC3339Nano))
	b.WriteByte('\n')
	b.WriteString(headerTopics)
	b.WriteString(strings.Join(s.Topics, listSep))
	b.WriteByte('\n')
	b.WriteString(headerEntities)
	b.WriteString(strings.Join(s.Entities, listSep))
	b.WriteByte('\n')
	b.WriteString(headerTurns)
	b.WriteString(strconv.Itoa(s.TurnCount))
	b.WriteByte('\n')
	if len(s.SourceSummaryIDs) > 0 {
		b.WriteString(headerSources)
		b.WriteString(strings.Join(s.SourceSummaryIDs, listSep))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(s.Body)
	b.WriteByte('\n')
	b.WriteString(s.Kind.CloseMarker())

	return b.String()
}

// ParseRecordKind extracts the kind of a serialized record by marker match.
// The earliest opening marker wins, and its closing marker must follow it.
func ParseRecordKind(text string) (Kind, error) {
	best := -1
	var found Kind
	for _, k := range Kinds() {
		idx := strings.Index(text, k.OpenMarker())
		if idx < 0 {
			continue
		}
		if !strings.Contains(text[idx:], k.CloseMarker()) {
			continue
		}
		if best < 0 || idx < best {
			best = idx
			found = k
		}
	}

	if best < 0 {
		return "", ErrNoRecordMarker
	}
	return found, nil
}

// HasKindMarker reports whether text is a record of kind k.
func HasKindMarker(text string, k Kind) bool {
	found, err := ParseRecordKind(text)
	return err == nil && found == k
}

// ParseRecord reconstructs the kind, period, sets, turn count, lineage and
// body of a serialized record. Identity fields (ID, AgentID, CreatedAt) are
// not part of the text and are left zero.
func ParseRecord(text string) (Summary, error) {
	kind, err := ParseRecordKind(text)
	if err != nil {
		return Summary{}, err
	}

	open := kind.OpenMarker()
	start := strings.Index(text, open) + len(open)
	end := strings.LastIndex(text, kind.CloseMarker())
	if end < start {
		return Summary{}, fmt.Errorf("%w: unbalanced %s markers", ErrNoRecordMarker, kind.Marker())
	}

	inner := strings.TrimPrefix(text[start:end], "\n")
	header, body, _ := strings.Cut(inner, "\n\n")

	s := Summary{
		Kind:     kind,
		Body:     strings.TrimSuffix(body, "\n"),
		Topics:   []string{},
		Entities: []string{},
	}

	for _, line := range strings.Split(header, "\n") {
		switch {
		case strings.HasPrefix(line, headerPeriod):
			from, to, ok := strings.Cut(strings.TrimPrefix(line, headerPeriod), periodSep)
			if !ok {
				return Summary{}, fmt.Errorf("malformed period line %q", line)
			}
			if s.PeriodStart, err = time.Parse(time.RFC3339Nano, from); err != nil {
				return Summary{}, fmt.Errorf("parsing period start: %w", err)
			}
			if s.PeriodEnd, err = time.Parse(time.RFC3339Nano, to); err != nil {
				return Summary{}, fmt.Errorf("parsing period end: %w", err)
			}
		case strings.HasPrefix(line, headerTopics):
			s.Topics = splitList(strings.TrimPrefix(line, headerTopics))
		case strings.HasPrefix(line, headerEntities):
			s.Entities = splitList(strings.TrimPrefix(line, headerEntities))
		case strings.HasPrefix(line, headerTurns):
			if s.TurnCount, err = strconv.Atoi(strings.TrimPrefix(line, headerTurns)); err != nil {
				return Summary{}, fmt.Errorf("parsing turn count: %w", err)
			}
		case strings.HasPrefix(line, headerSources):
			s.SourceSummaryIDs = splitList(strings.TrimPrefix(line, headerSources))
		}
	}

	return s, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, listSep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
