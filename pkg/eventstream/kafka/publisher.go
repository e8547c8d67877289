// Package kafka publishes memory events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/reverie/pkg/eventstream"
	"github.com/papercomputeco/reverie/pkg/logger"
)

// DefaultTopic is the topic memory events are written to.
const DefaultTopic = "reverie.memory.events"

// Config holds the Kafka publisher settings.
type Config struct {
	Brokers []string
	Topic   string
	Logger  *slog.Logger
}

// Publisher writes events keyed by agent id, so that one agent's events stay
// ordered within a partition.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka event publisher.
func NewPublisher(c Config) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}

	l := c.Logger
	if l == nil {
		l = logger.Nop()
	}

	return &Publisher{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(c.Brokers...),
			Topic:                  c.Topic,
			Balancer:               &kafkago.Hash{},
			AllowAutoTopicCreation: true,
		},
		logger: l.With("component", "eventstream.kafka", "topic", c.Topic),
	}, nil
}

// Publish writes one event.
func (p *Publisher) Publish(ctx context.Context, event *eventstream.MemoryEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.AgentID),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "schema_version", Value: []byte(strconv.Itoa(event.SchemaVersion))},
		},
	})
	if err != nil {
		return fmt.Errorf("write event %s: %w", event.EventID, err)
	}

	p.logger.Debug("event published", "event_type", event.EventType, "agent_id", event.AgentID)
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ eventstream.Publisher = (*Publisher)(nil)
