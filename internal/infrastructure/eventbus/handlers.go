package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lllypuk/estately/internal/domain/event"
)

const (
	deadLetterQueueKey    = "events:dead_letter"
	defaultMaxDeadLetters = 1000
	defaultDeadLetterPage = 10
	maxPayloadLogLength   = 500
)

// AuditHandler writes every delivered event to the log.
type AuditHandler struct {
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(logger *slog.Logger) *AuditHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandler{logger: logger}
}

// Handle implements EventHandler.
func (h *AuditHandler) Handle(ctx context.Context, evt event.DomainEvent) error {
	meta := evt.Metadata()
	attrs := []any{
		slog.String("event_type", evt.EventType()),
		slog.String("stream_id", evt.AggregateID()),
		slog.String("aggregate_type", evt.AggregateType()),
		slog.Int("version", evt.Version()),
		slog.Time("occurred_at", evt.OccurredAt()),
	}
	if meta.Source != "" {
		attrs = append(attrs, slog.String("source", meta.Source))
	}
	if meta.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", meta.CorrelationID))
	}
	if pe, ok := evt.(PayloadEvent); ok {
		attrs = append(attrs, slog.String("payload", clip(string(pe.Payload()), maxPayloadLogLength)))
	}

	h.logger.InfoContext(ctx, "event delivered", attrs...)
	return nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// DeadLetter is an event whose subscriber never succeeded.
type DeadLetter struct {
	EventType     string          `json:"event_type"`
	StreamID      string          `json:"stream_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	Error         string          `json:"error"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	FailedAt      time.Time       `json:"failed_at"`
}

// DeadLetterStore keeps the most recent dead letters in a capped Redis list.
type DeadLetterStore struct {
	client redis.UniversalClient
	key    string
	limit  int64
	logger *slog.Logger
	now    func() time.Time
}

// DeadLetterOption configures DeadLetterStore.
type DeadLetterOption func(*DeadLetterStore)

// WithDeadLetterKey overrides the list key.
func WithDeadLetterKey(key string) DeadLetterOption {
	return func(s *DeadLetterStore) { s.key = key }
}

// WithDeadLetterLimit caps the list length.
func WithDeadLetterLimit(limit int64) DeadLetterOption {
	return func(s *DeadLetterStore) { s.limit = limit }
}

// WithDeadLetterLogger sets the logger.
func WithDeadLetterLogger(logger *slog.Logger) DeadLetterOption {
	return func(s *DeadLetterStore) { s.logger = logger }
}

// NewDeadLetterStore creates the store.
func NewDeadLetterStore(client redis.UniversalClient, opts ...DeadLetterOption) *DeadLetterStore {
	s := &DeadLetterStore{
		client: client,
		key:    deadLetterQueueKey,
		limit:  defaultMaxDeadLetters,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle implements DeadLetterSink. Failures are logged, never returned.
func (s *DeadLetterStore) Handle(ctx context.Context, evt event.DomainEvent, cause error) {
	letter := DeadLetter{
		EventType:     evt.EventType(),
		StreamID:      evt.AggregateID(),
		AggregateType: evt.AggregateType(),
		Version:       evt.Version(),
		Error:         cause.Error(),
		FailedAt:      s.now().UTC(),
	}
	if pe, ok := evt.(PayloadEvent); ok {
		letter.Payload = pe.Payload()
	}

	data, err := json.Marshal(letter)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode dead letter", slog.String("error", err.Error()))
		return
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, s.key, data)
		p.LTrim(ctx, s.key, 0, s.limit-1)
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to store dead letter",
			slog.String("event_type", evt.EventType()),
			slog.String("stream_id", evt.AggregateID()),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.WarnContext(ctx, "event dead-lettered",
		slog.String("event_type", evt.EventType()),
		slog.String("stream_id", evt.AggregateID()),
		slog.Int("version", evt.Version()),
		slog.String("cause", cause.Error()),
	)
}

// List returns up to count most recent dead letters.
func (s *DeadLetterStore) List(ctx context.Context, count int64) ([]DeadLetter, error) {
	if count <= 0 {
		count = defaultDeadLetterPage
	}
	raw, err := s.client.LRange(ctx, s.key, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	letters := make([]DeadLetter, 0, len(raw))
	for _, item := range raw {
		var letter DeadLetter
		if err = json.Unmarshal([]byte(item), &letter); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable dead letter", slog.String("error", err.Error()))
			continue
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

// Len returns the number of stored dead letters.
func (s *DeadLetterStore) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}

// Clear drops all dead letters.
func (s *DeadLetterStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Subscriber registers handlers by event type.
type Subscriber interface {
	Subscribe(eventType string, handler EventHandler) error
}

// SubscribeAll registers handler for each event type. Redis Pub/Sub has no
// wildcard subscriptions, so callers pass the registry's types.
func SubscribeAll(bus Subscriber, eventTypes []string, handler EventHandler) error {
	for _, eventType := range eventTypes {
		if err := bus.Subscribe(eventType, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
	}
	return nil
}
