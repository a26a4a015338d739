package materialize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lllypuk/estately/internal/infrastructure/cache"
	ws "github.com/lllypuk/estately/internal/infrastructure/websocket"
)

// Sink names.
const (
	SinkCache     = "cache"
	SinkReadModel = "readmodel"
	SinkBroadcast = "broadcast"
)

// CacheSink refreshes the state cache.
type CacheSink struct {
	cache cache.StateCache
}

// NewCacheSink creates a cache sink.
func NewCacheSink(c cache.StateCache) *CacheSink {
	return &CacheSink{cache: c}
}

// Name implements Sink.
func (s *CacheSink) Name() string { return SinkCache }

// Materialize implements Sink. Older versions are ignored by the cache.
func (s *CacheSink) Materialize(ctx context.Context, m Materialization) error {
	return cache.StoreRaw(ctx, s.cache, m.AggregateType, m.StreamID, m.Version, m.State)
}

// ReadModelWriter stores denormalized documents guarded by version.
type ReadModelWriter interface {
	Upsert(ctx context.Context, aggregateType, streamID string, version int, state any) error
}

// ReadModelSink keeps a queryable copy of every stream.
type ReadModelSink struct {
	store ReadModelWriter
}

// NewReadModelSink creates a read model sink.
func NewReadModelSink(store ReadModelWriter) *ReadModelSink {
	return &ReadModelSink{store: store}
}

// Name implements Sink.
func (s *ReadModelSink) Name() string { return SinkReadModel }

// Materialize implements Sink.
func (s *ReadModelSink) Materialize(ctx context.Context, m Materialization) error {
	return s.store.Upsert(ctx, m.AggregateType, m.StreamID, m.Version, m.State)
}

// Publisher delivers a frame to the subscribers of a stream.
type Publisher interface {
	Publish(ctx context.Context, stream string, message []byte) error
}

// BroadcastSink pushes state to websocket subscribers.
type BroadcastSink struct {
	publisher Publisher
}

// NewBroadcastSink creates a broadcast sink.
func NewBroadcastSink(p Publisher) *BroadcastSink {
	return &BroadcastSink{publisher: p}
}

// Name implements Sink.
func (s *BroadcastSink) Name() string { return SinkBroadcast }

// Materialize implements Sink. A stopped hub has nobody to deliver to.
func (s *BroadcastSink) Materialize(ctx context.Context, m Materialization) error {
	data, err := json.Marshal(m.State)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	frame, err := json.Marshal(ws.Message{
		Type:          ws.MessageTypeState,
		Stream:        m.StreamID,
		AggregateType: m.AggregateType,
		Version:       m.Version,
		Data:          data,
	})
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	err = s.publisher.Publish(ctx, m.StreamID, frame)
	if errors.Is(err, ws.ErrHubStopped) {
		return nil
	}
	return err
}
