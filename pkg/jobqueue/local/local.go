// Package local provides an in-process jobqueue.Queue backed by a buffered
// channel and a fixed pool of worker goroutines.
//
// The queue decouples reflection from the conversation path: Publish only
// enqueues, and jobs run on the pool started by Consume. Jobs still queued
// or in flight when the consume context is cancelled are handed to the
// OnAbandon hook (typically the dead-letter store) so that nothing is lost
// silently.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/logger"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// AbandonFunc receives jobs that could not be processed before shutdown.
type AbandonFunc func(job *jobqueue.ReflectionJob, cause error)

// Config is the configuration options for the local queue.
type Config struct {
	// NumWorkers is the number of goroutines consuming jobs.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// OnAbandon is called for every job that is dropped at shutdown or
	// that failed and could not be requeued.
	OnAbandon AbandonFunc

	Logger *slog.Logger
}

// Queue is an in-process jobqueue.Queue.
type Queue struct {
	config *Config
	queue  chan *jobqueue.ReflectionJob
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates a local queue. Workers are started by Consume.
func New(c *Config) (*Queue, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	l := c.Logger
	if l == nil {
		l = logger.Nop()
	}

	return &Queue{
		config: c,
		queue:  make(chan *jobqueue.ReflectionJob, c.QueueSize),
		logger: l.With("component", "jobqueue.local"),
	}, nil
}

// Publish enqueues a job without blocking. It returns ErrQueueFull when the
// buffer has no capacity, leaving retry policy to the caller.
func (q *Queue) Publish(_ context.Context, job *jobqueue.ReflectionJob) error {
	if err := job.Validate(); err != nil {
		return err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobqueue.ErrQueueClosed
	}

	select {
	case q.queue <- job:
		q.logger.Debug("job queued",
			"session_id", job.SessionID,
			"agent_id", job.AgentID,
		)
		return nil
	default:
		return jobqueue.ErrQueueFull
	}
}

// Consume runs the worker pool until ctx is cancelled or the queue is closed
// and drained. On cancellation, jobs left in the buffer are abandoned.
func (q *Queue) Consume(ctx context.Context, handler jobqueue.Handler) error {
	var wg sync.WaitGroup

	wg.Add(int(q.config.NumWorkers))
	for i := range q.config.NumWorkers {
		go q.worker(ctx, &wg, i, handler)
	}

	wg.Wait()

	if ctx.Err() != nil {
		q.drain(ctx.Err())
	}

	return nil
}

// Close stops accepting new jobs. Running consumers finish the jobs already
// buffered and then return.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.queue)
	return nil
}

// Len returns the number of buffered jobs.
func (q *Queue) Len() int {
	return len(q.queue)
}

// worker is the inner worker thread that continuously pulls jobs off the queue.
func (q *Queue) worker(ctx context.Context, wg *sync.WaitGroup, id uint, handler jobqueue.Handler) {
	defer wg.Done()
	q.logger.Debug("worker started", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("worker stopped", "worker_id", id)
			return
		case job, ok := <-q.queue:
			if !ok {
				q.logger.Debug("worker stopped, queue closed", "worker_id", id)
				return
			}
			q.process(ctx, handler, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, handler jobqueue.Handler, job *jobqueue.ReflectionJob) {
	err := handler(ctx, job)
	if err == nil {
		return
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		q.abandon(job, err)
		return
	}

	q.logger.Warn("job failed, requeueing",
		"session_id", job.SessionID,
		"error", err,
	)
	if perr := q.Publish(ctx, job); perr != nil {
		q.abandon(job, errors.Join(err, perr))
	}
}

// drain abandons every job still buffered in the channel.
func (q *Queue) drain(cause error) {
	for {
		select {
		case job, ok := <-q.queue:
			if !ok {
				return
			}
			q.abandon(job, cause)
		default:
			return
		}
	}
}

func (q *Queue) abandon(job *jobqueue.ReflectionJob, cause error) {
	q.logger.Warn("job abandoned",
		"session_id", job.SessionID,
		"agent_id", job.AgentID,
		"error", cause,
	)
	if q.config.OnAbandon != nil {
		q.config.OnAbandon(job, cause)
	}
}

var _ jobqueue.Queue = (*Queue)(nil)
