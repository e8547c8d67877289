package jobqueue

import "context"

// Handler processes one delivered job. Returning nil acknowledges the job.
// A non-nil error leaves the job unacknowledged so that the queue redelivers
// it; handlers are expected to do their own bounded retries and
// dead-lettering and only fail for shutdown or infrastructure errors.
type Handler func(ctx context.Context, job *ReflectionJob) error

// Publisher submits jobs to a queue. Publish must be fast: it enqueues and
// returns, it never waits for the job to run.
type Publisher interface {
	Publish(ctx context.Context, job *ReflectionJob) error
	Close() error
}

// Consumer delivers queued jobs to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

// Queue is both ends of a job queue.
type Queue interface {
	Publisher
	Consumer
}
