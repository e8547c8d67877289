package reflection_test

import (
	"context"
	"sync"
	"time"

	"github.com/papercomputeco/reverie/pkg/eventstream"
	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/memory"
)

var base = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func threeTurnSession(id string) memory.Session {
	return memory.Session{
		SessionID:    id,
		AgentID:      "agent-a",
		ConnectionID: "conn-" + id,
		StartedAt:    base,
		LastActivity: base.Add(2 * time.Minute),
		Turns: []memory.Turn{
			{UserText: "I planted tomatoes", AgentText: "Nice, which variety?", Timestamp: base},
			{UserText: "San Marzano", AgentText: "Great for sauce.", Timestamp: base.Add(time.Minute)},
			{UserText: "Alice gave me seeds", AgentText: "Say thanks to Alice!", Timestamp: base.Add(2 * time.Minute)},
		},
	}
}

func sessionJob(id string) *jobqueue.ReflectionJob {
	return jobqueue.NewReflectionJob(threeTurnSession(id), memory.EndReasonDisconnect, "reflector-a")
}

// recordingSleep records requested delays without waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleep) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + string(rune('0'+n))
	}
}

// slowEvents is an event publisher that takes delay per event.
type slowEvents struct {
	delay time.Duration

	mu        sync.Mutex
	published int
}

func (s *slowEvents) Publish(_ context.Context, _ *eventstream.MemoryEvent) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.published++
	s.mu.Unlock()
	return nil
}

func (s *slowEvents) Published() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

func (s *slowEvents) Close() error {
	return nil
}
