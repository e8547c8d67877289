package jobqueue

import (
	"context"
	"errors"
)

var (
	// ErrNilJob indicates a nil job was provided.
	ErrNilJob = errors.New("nil reflection job")

	// ErrUnsupportedSchema is returned for payloads with an unknown schema version.
	ErrUnsupportedSchema = errors.New("unsupported job schema version")

	// ErrUndecodable is returned for payloads that are not a JSON job.
	ErrUndecodable = errors.New("undecodable reflection job")

	// ErrInvalidJob is returned for jobs of an unknown type or without ids.
	ErrInvalidJob = errors.New("invalid reflection job")

	// ErrQueueFull is returned when a bounded queue has no capacity left.
	ErrQueueFull = errors.New("job queue full")

	// ErrQueueClosed is returned when publishing to a closed queue.
	ErrQueueClosed = errors.New("job queue closed")
)

// Reasons recorded on rejected payloads.
const (
	ReasonUndecodable       = "undecodable"
	ReasonUnsupportedSchema = "unsupported_schema"
	ReasonInvalid           = "invalid"
)

// RejectFunc receives a payload that can never be handled, together with
// the error that rejected it. A non-nil return leaves the payload for
// redelivery.
type RejectFunc func(ctx context.Context, payload []byte, cause error) error

// RejectReason classifies an error from Decode or Validate.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUndecodable):
		return ReasonUndecodable
	case errors.Is(err, ErrUnsupportedSchema):
		return ReasonUnsupportedSchema
	default:
		return ReasonInvalid
	}
}
