package memory

import (
	"fmt"
	"strings"
)

// Kind is the tier of a summary. It is a closed set: every switch over Kind
// must handle all four cases.
type Kind string

const (
	KindSession Kind = "session"
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindTopic   Kind = "topic"
)

// Kinds returns every summary kind, lowest tier first.
func Kinds() []Kind {
	return []Kind{KindSession, KindDaily, KindWeekly, KindTopic}
}

// ParseKind converts a case-insensitive kind name into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSession, KindDaily, KindWeekly, KindTopic:
		return true
	default:
		return false
	}
}

// Marker returns the upper-cased tag used in the archival record convention,
// e.g. "SESSION" for [SUMMARY:SESSION].
func (k Kind) Marker() string {
	return strings.ToUpper(string(k))
}

// OpenMarker is the opening record marker, e.g. "[SUMMARY:DAILY]".
func (k Kind) OpenMarker() string {
	return "[SUMMARY:" + k.Marker() + "]"
}

// CloseMarker is the closing record marker, e.g. "[/SUMMARY:DAILY]".
func (k Kind) CloseMarker() string {
	return "[/SUMMARY:" + k.Marker() + "]"
}

// RollupSource returns the kind a rollup of kind k is built from.
// Only daily and weekly summaries are produced by rolling up.
func (k Kind) RollupSource() (Kind, bool) {
	switch k {
	case KindDaily:
		return KindSession, true
	case KindWeekly:
		return KindDaily, true
	case KindSession, KindTopic:
		return "", false
	default:
		return "", false
	}
}

func (k Kind) String() string {
	return string(k)
}
