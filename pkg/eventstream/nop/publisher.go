// Package nop provides the publisher used when no event stream is
// configured.
package nop

import (
	"context"
	"sync/atomic"

	"github.com/papercomputeco/reverie/pkg/eventstream"
)

// Publisher discards memory events, counting them.
type Publisher struct {
	dropped atomic.Uint64
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish drops event. A nil event is still an error so callers behave the
// same with or without a real stream.
func (p *Publisher) Publish(_ context.Context, event *eventstream.MemoryEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	p.dropped.Add(1)
	return nil
}

// Dropped is the number of events discarded so far.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Publisher) Close() error {
	return nil
}

var _ eventstream.Publisher = (*Publisher)(nil)
