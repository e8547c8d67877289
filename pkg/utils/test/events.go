package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/reverie/pkg/eventstream"
)

// RecordingPublisher keeps every published event in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []eventstream.MemoryEvent
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (p *RecordingPublisher) Publish(_ context.Context, event *eventstream.MemoryEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

// Events returns the published events of the given types, or all events
// when no type is given.
func (p *RecordingPublisher) Events(types ...string) []eventstream.MemoryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []eventstream.MemoryEvent
	for _, e := range p.events {
		if len(types) == 0 {
			out = append(out, e)
			continue
		}
		for _, t := range types {
			if e.EventType == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func (p *RecordingPublisher) Close() error {
	return nil
}

var _ eventstream.Publisher = (*RecordingPublisher)(nil)
