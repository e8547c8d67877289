package memory

import "errors"

var (
	// ErrUnknownKind is returned when a summary kind name is not recognized.
	ErrUnknownKind = errors.New("unknown summary kind")

	// ErrNoRecordMarker is returned when a record has no summary marker pair.
	ErrNoRecordMarker = errors.New("no summary marker found")

	// ErrInvalidSummary is returned when a summary violates its invariants.
	ErrInvalidSummary = errors.New("invalid summary")
)
