package reflection

import "errors"

var (
	// ErrDispatcherClosed is returned by Replay after Close.
	ErrDispatcherClosed = errors.New("dispatcher is closed")

	// ErrNotReplayable is returned by Replay for a dead letter whose payload
	// was rejected and can never become a valid job.
	ErrNotReplayable = errors.New("dead letter cannot be replayed")
)
