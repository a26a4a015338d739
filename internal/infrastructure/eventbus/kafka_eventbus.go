package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lllypuk/estately/internal/domain/event"
)

const defaultTopicPrefix = "estately."

// MessageWriter is the subset of *kafka.Writer the bus uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventBus implements event.Bus on Kafka. Each aggregate type gets its own
// topic and messages are keyed by stream id, so a stream stays in one partition
// and consumers see its events in version order.
type KafkaEventBus struct {
	writer      MessageWriter
	topicPrefix string
	logger      *slog.Logger
}

// KafkaOption configures a KafkaEventBus.
type KafkaOption func(*KafkaEventBus)

// WithTopicPrefix sets the prefix prepended to aggregate types.
func WithTopicPrefix(prefix string) KafkaOption {
	return func(b *KafkaEventBus) {
		b.topicPrefix = prefix
	}
}

// WithKafkaLogger sets the logger.
func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(b *KafkaEventBus) {
		b.logger = logger
	}
}

// NewKafkaWriter creates a writer with no fixed topic; the bus sets it per message.
func NewKafkaWriter(brokers []string, writeTimeout time.Duration) *kafka.Writer {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           writeTimeout,
		BatchTimeout:           10 * time.Millisecond,
	}
}

// NewKafkaEventBus creates the bus on top of writer.
func NewKafkaEventBus(writer MessageWriter, opts ...KafkaOption) *KafkaEventBus {
	b := &KafkaEventBus{
		writer:      writer,
		topicPrefix: defaultTopicPrefix,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Topic returns the topic events of aggregateType are written to.
func (b *KafkaEventBus) Topic(aggregateType string) string {
	return b.topicPrefix + aggregateType
}

// Publish implements event.Bus.
func (b *KafkaEventBus) Publish(ctx context.Context, evt event.DomainEvent) error {
	envelope, data, err := encodeEvent(evt)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: b.Topic(evt.AggregateType()),
		Key:   []byte(evt.AggregateID()),
		Value: data,
		Time:  evt.OccurredAt(),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(envelope.ID)},
			{Key: "event_type", Value: []byte(evt.EventType())},
			{Key: "version", Value: []byte(strconv.Itoa(evt.Version()))},
		},
	}

	if writeErr := b.writer.WriteMessages(ctx, msg); writeErr != nil {
		return fmt.Errorf("failed to publish event to Kafka: %w", writeErr)
	}

	b.logger.DebugContext(ctx, "event published",
		slog.String("event_id", envelope.ID),
		slog.String("event_type", evt.EventType()),
		slog.String("aggregate_id", evt.AggregateID()),
		slog.String("topic", msg.Topic),
	)
	return nil
}

// Close flushes and closes the writer.
func (b *KafkaEventBus) Close() error {
	return b.writer.Close()
}

var _ event.Bus = (*KafkaEventBus)(nil)
