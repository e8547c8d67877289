package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/papercomputeco/reverie/pkg/eventstream"
	"github.com/papercomputeco/reverie/pkg/eventstream/nop"
	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/logger"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/storage"
)

// DefaultSubmitAttempts bounds queue submission retries per job.
const DefaultSubmitAttempts = 3

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Queue       jobqueue.Publisher
	DeadLetters storage.DeadLetterStore

	// Events receives session.ended events. Optional.
	Events eventstream.Publisher

	// ReflectorFor returns the reflector agent id recorded on jobs for an
	// agent. Optional.
	ReflectorFor func(agentID string) string

	// SubmitAttempts defaults to DefaultSubmitAttempts.
	SubmitAttempts int
	Backoff        Backoff

	Sleep SleepFunc
	Clock func() time.Time
	NewID func() string

	Logger *slog.Logger
}

// Dispatcher submits reflection jobs for ended sessions.
type Dispatcher struct {
	queue          jobqueue.Publisher
	deadLetters    storage.DeadLetterStore
	events         eventstream.Publisher
	reflectorFor   func(string) string
	submitAttempts int
	backoff        Backoff
	sleep          SleepFunc
	clock          func() time.Time
	newID          func() string
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(c DispatcherConfig) (*Dispatcher, error) {
	if c.Queue == nil || c.DeadLetters == nil {
		return nil, errors.New("reflection dispatcher requires a queue and a dead-letter store")
	}
	if c.Events == nil {
		c.Events = nop.NewPublisher()
	}
	if c.ReflectorFor == nil {
		c.ReflectorFor = func(string) string { return "" }
	}
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = DefaultSubmitAttempts
	}
	if c.Sleep == nil {
		c.Sleep = Sleep
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewID == nil {
		c.NewID = newULID
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queue:          c.Queue,
		deadLetters:    c.DeadLetters,
		events:         c.Events,
		reflectorFor:   c.ReflectorFor,
		submitAttempts: c.SubmitAttempts,
		backoff:        c.Backoff,
		sleep:          c.Sleep,
		clock:          c.Clock,
		newID:          c.NewID,
		logger:         c.Logger.With("component", "reflection_dispatcher"),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// Dispatch submits a reflection job for s in the background and returns
// immediately. Its signature matches session.EndHandler. Sessions without
// turns are ignored. Nothing on the caller's goroutine touches the queue,
// the dead-letter store or the event stream.
func (d *Dispatcher) Dispatch(s memory.Session, reason memory.EndReason) {
	if len(s.Turns) == 0 {
		return
	}

	job := jobqueue.NewReflectionJob(s, reason, d.reflectorFor(s.AgentID))

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, dead-lettering job",
			"agent_id", job.AgentID,
			"session_id", job.SessionID,
		)
		go d.deadLetter(context.Background(), job, 0, ErrDispatcherClosed)
		return
	}
	d.inFlight.Add(2)
	d.mu.Unlock()

	go func() {
		defer d.inFlight.Done()
		d.submit(d.ctx, job)
	}()

	event := eventstream.NewEvent(eventstream.EventTypeSessionEnded, s.AgentID)
	event.SessionID = s.SessionID
	event.EndReason = string(reason)
	event.TurnCount = len(s.Turns)
	go func() {
		defer d.inFlight.Done()
		d.publish(d.ctx, event)
	}()
}

func (d *Dispatcher) submit(ctx context.Context, job *jobqueue.ReflectionJob) {
	log := d.logger.With("agent_id", job.AgentID, "session_id", job.SessionID)

	attempts, err := retry(ctx, d.submitAttempts, d.backoff, d.sleep, func(ctx context.Context) error {
		err := d.queue.Publish(ctx, job)
		if err != nil {
			log.Warn("reflection job submission failed", "error", err)
		}
		return err
	})
	if err == nil {
		log.Debug("reflection job submitted", "turns", len(job.Turns))
		return
	}

	// The dispatcher context may be gone; the dead-letter write must still
	// happen.
	d.deadLetter(context.WithoutCancel(ctx), job, attempts, fmt.Errorf("submit: %w", err))
}

func (d *Dispatcher) deadLetter(ctx context.Context, job *jobqueue.ReflectionJob, attempts int, cause error) {
	dl := &storage.DeadLetter{
		ID:        d.newID(),
		Job:       *job,
		Attempts:  attempts,
		LastError: cause.Error(),
		FailedAt:  d.clock().UTC(),
	}
	if err := d.deadLetters.PutDeadLetter(ctx, dl); err != nil {
		d.logger.Error("failed to dead-letter reflection job, session will not be summarized",
			"agent_id", job.AgentID,
			"session_id", job.SessionID,
			"cause", cause,
			"error", err,
		)
		return
	}

	d.logger.Error("reflection job dead-lettered",
		"agent_id", job.AgentID,
		"session_id", job.SessionID,
		"dead_letter_id", dl.ID,
		"error", cause,
	)

	event := eventstream.NewEvent(eventstream.EventTypeReflectionDeadLettered, job.AgentID)
	event.SessionID = job.SessionID
	event.TurnCount = len(job.Turns)
	event.DeadLetterID = dl.ID
	event.Error = cause.Error()
	d.publish(ctx, event)
}

// Replay re-submits a dead-lettered job and removes the entry once the
// queue accepted it.
func (d *Dispatcher) Replay(ctx context.Context, id string) (*jobqueue.ReflectionJob, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrDispatcherClosed
	}

	dl, err := d.deadLetters.GetDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}

	job := dl.Job
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotReplayable, id, err)
	}
	if err := d.queue.Publish(ctx, &job); err != nil {
		return nil, fmt.Errorf("replaying dead letter %s: %w", id, err)
	}
	if err := d.deadLetters.DeleteDeadLetter(ctx, id); err != nil {
		return nil, fmt.Errorf("removing replayed dead letter %s: %w", id, err)
	}

	d.logger.Info("replayed dead-lettered job",
		"agent_id", job.AgentID,
		"session_id", job.SessionID,
		"dead_letter_id", id,
	)
	return &job, nil
}

// Close stops accepting jobs and waits for in-flight submissions. If ctx
// ends first, pending submissions are cancelled and dead-lettered.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) publish(ctx context.Context, event *eventstream.MemoryEvent) {
	if err := d.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		d.logger.Warn("failed to publish memory event",
			"event_type", event.EventType,
			"agent_id", event.AgentID,
			"error", err,
		)
	}
}
