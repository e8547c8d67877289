// Package kafka provides a jobqueue.Queue on top of a Kafka topic using
// segmentio/kafka-go.
//
// Jobs are keyed by session id so that redeliveries of one session land on
// the same partition. Offsets are committed only after the handler returns
// nil, which gives at-least-once delivery across consumer restarts.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/logger"
)

const (
	// DefaultTopic is the topic reflection jobs are written to.
	DefaultTopic = "reverie.reflection.jobs"

	// DefaultGroupID is the consumer group of reflection workers.
	DefaultGroupID = "reverie-reflection-workers"

	headerSchemaVersion = "schema_version"

	handlerRetryBase = time.Second
	handlerRetryMax  = 30 * time.Second
)

// Config holds the Kafka connection settings.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string

	// OnReject receives messages that fail to decode or validate. Their
	// offsets commit only once it succeeds. When nil they are logged and
	// skipped.
	OnReject jobqueue.RejectFunc

	Logger *slog.Logger
}

// Queue publishes and consumes reflection jobs on a Kafka topic.
type Queue struct {
	config Config
	writer *kafkago.Writer
	logger *slog.Logger
}

// New creates a Kafka-backed queue. The writer is created eagerly; readers
// are created per Consume call.
func New(c Config) (*Queue, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.GroupID == "" {
		c.GroupID = DefaultGroupID
	}

	l := c.Logger
	if l == nil {
		l = logger.Nop()
	}

	return &Queue{
		config: c,
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(c.Brokers...),
			Topic:                  c.Topic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: l.With("component", "jobqueue.kafka", "topic", c.Topic),
	}, nil
}

// Publish writes the job to the topic keyed by session id.
func (q *Queue) Publish(ctx context.Context, job *jobqueue.ReflectionJob) error {
	payload, err := jobqueue.Encode(job)
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Key:   []byte(job.SessionID),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: headerSchemaVersion, Value: []byte(strconv.Itoa(job.SchemaVersion))},
		},
	}

	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing job for session %s: %w", job.SessionID, err)
	}

	q.logger.Debug("job published", "session_id", job.SessionID)
	return nil
}

// Consume fetches jobs in the configured consumer group until ctx is
// cancelled. A job is committed once the handler accepts it, or once
// OnReject has taken a payload that can never be handled. Errors from
// either are retried in place so that later offsets never commit past a
// message that has not been dealt with.
func (q *Queue) Consume(ctx context.Context, handler jobqueue.Handler) error {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  q.config.Brokers,
		GroupID:  q.config.GroupID,
		Topic:    q.config.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetching job: %w", err)
		}

		if !q.deliver(ctx, handler, msg) {
			// Shutting down; leave the offset uncommitted for redelivery.
			return nil
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("committing offset %d: %w", msg.Offset, err)
		}
	}
}

// deliver hands a message to the handler, or to OnReject when it can never
// be handled. It returns false if ctx was cancelled first.
func (q *Queue) deliver(ctx context.Context, handler jobqueue.Handler, msg kafkago.Message) bool {
	log := q.logger.With("partition", msg.Partition, "offset", msg.Offset)

	job, err := jobqueue.Decode(msg.Value)
	if err == nil {
		return q.retry(ctx, log.With("session_id", job.SessionID), func(ctx context.Context) error {
			return handler(ctx, job)
		})
	}

	reason := jobqueue.RejectReason(err)
	if q.config.OnReject == nil {
		log.Error("rejected job skipped", "reason", reason, "error", err)
		return true
	}

	return q.retry(ctx, log.With("reason", reason), func(ctx context.Context) error {
		return q.config.OnReject(ctx, msg.Value, err)
	})
}

// retry runs fn until it succeeds. It returns false if ctx was cancelled
// first.
func (q *Queue) retry(ctx context.Context, log *slog.Logger, fn func(context.Context) error) bool {
	delay := handlerRetryBase
	for {
		err := fn(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		log.Warn("job handler failed, retrying",
			"retry_in", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		delay = min(delay*2, handlerRetryMax)
	}
}

// Close flushes and closes the writer.
func (q *Queue) Close() error {
	return q.writer.Close()
}

var _ jobqueue.Queue = (*Queue)(nil)
