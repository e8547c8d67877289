// Package reflection turns ended sessions into stored session summaries.
//
// The Dispatcher is the producer side: it converts an ended session into a
// versioned jobqueue.ReflectionJob and submits it without blocking the
// conversation path. The Worker is the consumer side: it sends the turns to
// the reflector, extracts topics and entities, and appends the summary to
// the archive under the session id. Jobs that keep failing are moved to the
// dead-letter store with their turns instead of being dropped, as are
// payloads that cannot be decoded or validated.
package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/papercomputeco/reverie/pkg/eventstream"
	"github.com/papercomputeco/reverie/pkg/eventstream/nop"
	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/logger"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/reflector"
	"github.com/papercomputeco/reverie/pkg/storage"
	"github.com/papercomputeco/reverie/pkg/utils"
)

// DefaultMaxAttempts bounds reflector and archive calls per job.
const DefaultMaxAttempts = 5

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Archive     storage.ArchiveStore
	Blocks      storage.BlockStore
	DeadLetters storage.DeadLetterStore
	Reflector   reflector.Reflector

	// Events receives summary.stored and dead-letter events. Optional.
	Events eventstream.Publisher

	// MaxAttempts defaults to DefaultMaxAttempts.
	MaxAttempts int
	Backoff     Backoff

	// Sleep defaults to Sleep.
	Sleep SleepFunc

	// Clock defaults to time.Now.
	Clock func() time.Time

	// NewID generates dead-letter ids. Defaults to a ULID.
	NewID func() string

	Logger *slog.Logger
}

// Worker executes reflection jobs.
type Worker struct {
	archive     storage.ArchiveStore
	blocks      storage.BlockStore
	deadLetters storage.DeadLetterStore
	reflector   reflector.Reflector
	events      eventstream.Publisher
	maxAttempts int
	backoff     Backoff
	sleep       SleepFunc
	clock       func() time.Time
	newID       func() string
	logger      *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(c WorkerConfig) (*Worker, error) {
	if c.Archive == nil || c.DeadLetters == nil || c.Reflector == nil {
		return nil, errors.New("reflection worker requires an archive, a dead-letter store and a reflector")
	}
	if c.Events == nil {
		c.Events = nop.NewPublisher()
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
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

	return &Worker{
		archive:     c.Archive,
		blocks:      c.Blocks,
		deadLetters: c.DeadLetters,
		reflector:   c.Reflector,
		events:      c.Events,
		maxAttempts: c.MaxAttempts,
		backoff:     c.Backoff,
		sleep:       c.Sleep,
		clock:       c.Clock,
		newID:       c.NewID,
		logger:      c.Logger.With("component", "reflection_worker"),
	}, nil
}

// Handle is a jobqueue.Handler. It returns an error only when the job could
// not be finished or dead-lettered, leaving it for redelivery.
func (w *Worker) Handle(ctx context.Context, job *jobqueue.ReflectionJob) error {
	if err := job.Validate(); err != nil {
		payload, _ := json.Marshal(job)
		return w.Reject(ctx, payload, err)
	}

	log := w.logger.With("agent_id", job.AgentID, "session_id", job.SessionID)

	_, err := w.archive.Get(ctx, job.AgentID, job.SessionID)
	if err == nil {
		log.Debug("session already summarized, skipping redelivered job")
		return nil
	}
	if !storage.IsNotFound(err) {
		return fmt.Errorf("checking for existing summary: %w", err)
	}

	var text string
	attempts, err := retry(ctx, w.maxAttempts, w.backoff, w.sleep, func(ctx context.Context) error {
		out, err := w.reflector.Reflect(ctx, reflector.Request{
			ReflectorAgentID: job.ReflectorAgentID,
			Prompt:           SessionPrompt(job),
		})
		if err != nil {
			log.Warn("reflection call failed", "error", err)
			return err
		}
		text = out
		return nil
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return w.deadLetter(ctx, job, attempts, fmt.Errorf("reflection: %w", err))
	}

	ext := Extract(text)
	if len(ext.Topics) == 0 && len(ext.Entities) == 0 {
		log.Info("no structured fields in reflection, storing raw text",
			"preview", utils.Truncate(text, 80),
		)
	}

	summary := &memory.Summary{
		ID:               job.SessionID,
		Kind:             memory.KindSession,
		AgentID:          job.AgentID,
		PeriodStart:      job.StartedAt.UTC(),
		PeriodEnd:        job.EndedAt.UTC(),
		Body:             ext.Body,
		Topics:           ext.Topics,
		Entities:         ext.Entities,
		SourceSummaryIDs: []string{},
		TurnCount:        len(job.Turns),
		CreatedAt:        w.clock().UTC(),
	}

	var inserted bool
	attempts, err = retry(ctx, w.maxAttempts, w.backoff, w.sleep, func(ctx context.Context) error {
		var err error
		inserted, err = w.archive.Append(ctx, summary)
		if err != nil {
			log.Warn("archive append failed", "error", err)
		}
		return err
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return w.deadLetter(ctx, job, attempts, fmt.Errorf("archive append: %w", err))
	}
	if !inserted {
		log.Debug("session summary already stored by another delivery")
		return nil
	}

	log.Info("stored session summary",
		"turns", summary.TurnCount,
		"topics", len(summary.Topics),
		"body_chars", len(summary.Body),
	)

	w.updateLastSessionBlock(ctx, summary)

	event := eventstream.NewEvent(eventstream.EventTypeSummaryStored, job.AgentID)
	event.SessionID = job.SessionID
	event.TurnCount = summary.TurnCount
	event.Summary = eventstream.NewSummaryMeta(summary)
	w.publish(ctx, event)

	return nil
}

// updateLastSessionBlock is best-effort; the summary is already archived.
func (w *Worker) updateLastSessionBlock(ctx context.Context, s *memory.Summary) {
	if w.blocks == nil {
		return
	}

	value := fmt.Sprintf("[Session: %s to %s]\n\n%s",
		formatTime(s.PeriodStart), formatTime(s.PeriodEnd), s.Body)

	err := w.blocks.SetBlock(ctx, storage.Block{
		AgentID:   s.AgentID,
		Label:     memory.LastSessionSummaryLabel,
		Value:     value,
		UpdatedAt: w.clock().UTC(),
	})
	if err != nil {
		w.logger.Warn("failed to update last session summary block",
			"agent_id", s.AgentID,
			"session_id", s.ID,
			"error", err,
		)
	}
}

// Reject is a jobqueue.RejectFunc. It dead-letters a payload that no
// attempt could ever handle, keeping the raw bytes and the reason. The job
// fields are filled in from whatever part of the payload parses.
func (w *Worker) Reject(ctx context.Context, payload []byte, cause error) error {
	var job jobqueue.ReflectionJob
	_ = json.Unmarshal(payload, &job)

	reason := jobqueue.RejectReason(cause)
	dl := &storage.DeadLetter{
		ID:        w.newID(),
		Job:       job,
		LastError: cause.Error(),
		FailedAt:  w.clock().UTC(),
		Reason:    reason,
		Payload:   payload,
	}
	if err := w.deadLetters.PutDeadLetter(ctx, dl); err != nil {
		return fmt.Errorf("dead-lettering rejected job: %w", err)
	}

	w.logger.Error("reflection job rejected",
		"agent_id", job.AgentID,
		"session_id", job.SessionID,
		"dead_letter_id", dl.ID,
		"reason", reason,
		"payload_bytes", len(payload),
		"error", cause,
	)

	event := eventstream.NewEvent(eventstream.EventTypeReflectionDeadLettered, job.AgentID)
	event.SessionID = job.SessionID
	event.DeadLetterID = dl.ID
	event.Error = cause.Error()
	w.publish(ctx, event)

	return nil
}

func (w *Worker) deadLetter(ctx context.Context, job *jobqueue.ReflectionJob, attempts int, cause error) error {
	dl := &storage.DeadLetter{
		ID:        w.newID(),
		Job:       *job,
		Attempts:  attempts,
		LastError: cause.Error(),
		FailedAt:  w.clock().UTC(),
	}
	if err := w.deadLetters.PutDeadLetter(ctx, dl); err != nil {
		return fmt.Errorf("dead-lettering job after %v: %w", cause, err)
	}

	w.logger.Error("reflection job dead-lettered",
		"agent_id", job.AgentID,
		"session_id", job.SessionID,
		"dead_letter_id", dl.ID,
		"attempts", attempts,
		"error", cause,
	)

	event := eventstream.NewEvent(eventstream.EventTypeReflectionDeadLettered, job.AgentID)
	event.SessionID = job.SessionID
	event.TurnCount = len(job.Turns)
	event.DeadLetterID = dl.ID
	event.Error = cause.Error()
	w.publish(ctx, event)

	return nil
}

func (w *Worker) publish(ctx context.Context, event *eventstream.MemoryEvent) {
	if err := w.events.Publish(ctx, event); err != nil {
		w.logger.Warn("failed to publish memory event",
			"event_type", event.EventType,
			"agent_id", event.AgentID,
			"error", err,
		)
	}
}

func newULID() string {
	return ulid.Make().String()
}
