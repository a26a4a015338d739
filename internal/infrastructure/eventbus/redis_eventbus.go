package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/lllypuk/estately/internal/domain/event"
)

const defaultChannelPrefix = "events:"

var (
	// ErrBusRunning is returned by Start on a bus that is already consuming.
	ErrBusRunning = errors.New("event bus is already running")

	errEmptyEventType = errors.New("event type cannot be empty")
	errNilHandler     = errors.New("handler cannot be nil")
)

// HandlerRetry bounds redelivery of one event to one subscriber.
// Attempts counts the first delivery; the delay doubles up to Max.
type HandlerRetry struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultHandlerRetry is used unless WithHandlerRetry overrides it.
func DefaultHandlerRetry() HandlerRetry {
	return HandlerRetry{Attempts: 4, Initial: 100 * time.Millisecond, Max: 5 * time.Second}
}

func (r HandlerRetry) options() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Initial
	b.MaxInterval = r.Max
	b.RandomizationFactor = 0
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(r.Attempts, 1))),
		// бюджет задается числом попыток
		backoff.WithMaxElapsedTime(0),
	}
}

// DeadLetterSink receives events whose handler failed after all retries.
type DeadLetterSink interface {
	Handle(ctx context.Context, evt event.DomainEvent, err error)
}

// RedisEventBus delivers events over Redis Pub/Sub, one channel per event type.
// Delivery is at most once: events published while no bus is subscribed are lost,
// the outbox owns durability.
type RedisEventBus struct {
	client     redis.UniversalClient
	prefix     string
	retry      HandlerRetry
	deadLetter DeadLetterSink
	logger     *slog.Logger

	mu       sync.Mutex
	handlers map[string][]EventHandler
	sub      *redis.PubSub

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	inflight sync.WaitGroup
}

// Option configures a RedisEventBus.
type Option func(*RedisEventBus)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *RedisEventBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithHandlerRetry replaces DefaultHandlerRetry.
func WithHandlerRetry(r HandlerRetry) Option {
	return func(b *RedisEventBus) { b.retry = r }
}

// WithChannelPrefix namespaces the channels, e.g. per environment.
func WithChannelPrefix(prefix string) Option {
	return func(b *RedisEventBus) { b.prefix = prefix }
}

// WithDeadLetter routes events that exhausted their handler retries to sink.
func WithDeadLetter(sink DeadLetterSink) Option {
	return func(b *RedisEventBus) { b.deadLetter = sink }
}

// NewRedisEventBus creates an idle bus; call Subscribe, then Start.
func NewRedisEventBus(client redis.UniversalClient, opts ...Option) *RedisEventBus {
	b := &RedisEventBus{
		client:   client,
		prefix:   defaultChannelPrefix,
		retry:    DefaultHandlerRetry(),
		logger:   slog.Default(),
		handlers: make(map[string][]EventHandler),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements event.Bus.
func (b *RedisEventBus) Publish(ctx context.Context, evt event.DomainEvent) error {
	envelope, data, err := encodeEvent(evt)
	if err != nil {
		return err
	}

	channel := b.prefix + evt.EventType()
	if err = b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", envelope.ID, channel, err)
	}
	b.logger.DebugContext(ctx, "event published", eventAttrs(evt, slog.String("channel", channel))...)
	return nil
}

// Subscribe adds a handler for eventType. Channels are fixed when Start
// subscribes, so later handlers of a new type wait for the next Start.
func (b *RedisEventBus) Subscribe(eventType string, handler EventHandler) error {
	switch {
	case eventType == "":
		return errEmptyEventType
	case handler == nil:
		return errNilHandler
	}

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
	return nil
}

// Start consumes the subscribed channels until Shutdown or ctx is done.
func (b *RedisEventBus) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrBusRunning
	}
	defer b.running.Store(false)

	channels := b.channels()
	if len(channels) == 0 {
		b.logger.WarnContext(ctx, "event bus has no subscriptions, idling")
		return b.idle(ctx)
	}

	sub := b.client.Subscribe(ctx, channels...)
	// первое сообщение подтверждает подписку
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to %d channels: %w", len(channels), err)
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	b.logger.InfoContext(ctx, "event bus started", slog.Any("channels", channels))
	return b.consume(ctx, sub.Channel())
}

func (b *RedisEventBus) idle(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stop:
		return nil
	}
}

func (b *RedisEventBus) consume(ctx context.Context, messages <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			b.logger.InfoContext(ctx, "event bus stopped", slog.String("reason", "context done"))
			return ctx.Err()
		case <-b.stop:
			b.logger.InfoContext(ctx, "event bus stopped", slog.String("reason", "shutdown"))
			return nil
		case msg, ok := <-messages:
			if !ok {
				b.logger.WarnContext(ctx, "pubsub channel closed")
				return nil
			}
			b.deliver(ctx, msg)
		}
	}
}

// Shutdown stops consuming, waits for in-flight handlers and releases the
// subscription. Idempotent.
func (b *RedisEventBus) Shutdown() error {
	b.stopOnce.Do(func() { close(b.stop) })
	b.inflight.Wait()

	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub: %w", err)
	}
	return nil
}

// IsRunning reports whether Start is consuming.
func (b *RedisEventBus) IsRunning() bool {
	return b.running.Load()
}

// HandlerCount returns the number of handlers registered for eventType.
func (b *RedisEventBus) HandlerCount(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[eventType])
}

func (b *RedisEventBus) channels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.handlers))
	for eventType := range b.handlers {
		out = append(out, b.prefix+eventType)
	}
	return out
}

// deliver fans one message out to its handlers, each in its own goroutine.
func (b *RedisEventBus) deliver(ctx context.Context, msg *redis.Message) {
	evt, err := DecodeEvent([]byte(msg.Payload))
	if err != nil {
		b.logger.ErrorContext(ctx, "dropping undecodable message",
			slog.String("channel", msg.Channel),
			slog.String("error", err.Error()),
		)
		return
	}

	b.mu.Lock()
	handlers := b.handlers[evt.EventType()]
	b.mu.Unlock()

	for i, h := range handlers {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.handle(ctx, h, evt, i)
		}()
	}
}

func (b *RedisEventBus) handle(ctx context.Context, h EventHandler, evt event.DomainEvent, index int) {
	handler := slog.Int("handler_index", index)

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, h(ctx, evt)
	}, append(b.retry.options(), backoff.WithNotify(func(err error, next time.Duration) {
		b.logger.WarnContext(ctx, "event handler failed, retrying", eventAttrs(evt,
			handler,
			slog.Int("attempt", attempts),
			slog.Duration("backoff", next),
			slog.String("error", err.Error()),
		)...)
	}))...)
	if err == nil {
		return
	}

	b.logger.ErrorContext(ctx, "event handler gave up", eventAttrs(evt,
		handler,
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)...)
	if b.deadLetter != nil {
		b.deadLetter.Handle(context.WithoutCancel(ctx), evt, err)
	}
}

func eventAttrs(evt event.DomainEvent, extra ...any) []any {
	return append([]any{
		slog.String("event_type", evt.EventType()),
		slog.String("aggregate_id", evt.AggregateID()),
		slog.Int("version", evt.Version()),
	}, extra...)
}

var _ event.Bus = (*RedisEventBus)(nil)
