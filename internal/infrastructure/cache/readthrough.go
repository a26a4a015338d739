package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/application/eventsourcing"
)

// ReadThrough serves snapshots from the cache and catches them up from the log.
// Concurrent misses on one stream share a single projection.
type ReadThrough[S any] struct {
	projector *eventsourcing.Projector[S]
	cache     StateCache
	group     singleflight.Group
	logger    *slog.Logger
}

// NewReadThrough creates a read-through cache for one aggregate type.
func NewReadThrough[S any](projector *eventsourcing.Projector[S], cache StateCache, logger *slog.Logger) *ReadThrough[S] {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadThrough[S]{projector: projector, cache: cache, logger: logger}
}

// Get returns the current snapshot. Cache failures degrade to a direct projection.
func (r *ReadThrough[S]) Get(ctx context.Context, streamID string) (eventsourcing.Snapshot[S], error) {
	v, err, _ := r.group.Do(streamID, func() (any, error) {
		return r.load(context.WithoutCancel(ctx), streamID)
	})
	if err != nil {
		return eventsourcing.Snapshot[S]{}, err
	}
	return v.(eventsourcing.Snapshot[S]), nil
}

// ProjectState implements query.StateReader.
func (r *ReadThrough[S]) ProjectState(ctx context.Context, streamID string) (int, any, error) {
	snap, err := r.Get(ctx, streamID)
	if err != nil {
		return 0, nil, err
	}
	return snap.Version, snap.State, nil
}

// Store writes a snapshot if it is newer than the cached one.
func (r *ReadThrough[S]) Store(ctx context.Context, snap eventsourcing.Snapshot[S]) error {
	return storeState(ctx, r.cache, r.key(snap.StreamID), snap.Version, snap.State)
}

func (r *ReadThrough[S]) load(ctx context.Context, streamID string) (eventsourcing.Snapshot[S], error) {
	key := r.key(streamID)
	base, cachedVersion := r.cached(ctx, key, streamID)

	snap, err := r.projector.CatchUp(ctx, base)
	if err != nil && cachedVersion > 0 {
		r.logger.WarnContext(ctx, "cached state unusable, projecting from scratch",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		_ = r.cache.Invalidate(ctx, key)
		cachedVersion = 0
		snap, err = r.projector.CatchUp(ctx, r.projector.Empty(streamID))
	}
	if err != nil {
		return eventsourcing.Snapshot[S]{}, err
	}
	if !snap.Exists() {
		return eventsourcing.Snapshot[S]{}, fmt.Errorf("%w: %s", appcore.ErrAggregateNotFound, streamID)
	}

	if snap.Version > cachedVersion {
		if err := storeState(ctx, r.cache, key, snap.Version, snap.State); err != nil {
			r.logger.WarnContext(ctx, "failed to write back cache entry",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return snap, nil
}

func (r *ReadThrough[S]) cached(ctx context.Context, key, streamID string) (eventsourcing.Snapshot[S], int) {
	empty := r.projector.Empty(streamID)

	entry, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		return empty, 0
	}
	if !ok {
		return empty, 0
	}

	snap := empty
	if err := json.Unmarshal(entry.State, &snap.State); err != nil {
		r.logger.WarnContext(ctx, "cache entry undecodable", slog.String("key", key), slog.String("error", err.Error()))
		return empty, 0
	}
	snap.Version = entry.Version
	return snap, entry.Version
}

func (r *ReadThrough[S]) key(streamID string) string {
	return Key(r.projector.AggregateType(), streamID)
}

func storeState(ctx context.Context, c StateCache, key string, version int, state any) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if _, err := c.Put(ctx, key, Entry{Version: version, State: data}); err != nil {
		return err
	}
	return nil
}

// StoreRaw writes an already projected state under the stream key.
// Used by materialization, which holds the state as any.
func StoreRaw(ctx context.Context, c StateCache, aggregateType, streamID string, version int, state any) error {
	if c == nil {
		return errors.New("cache is not configured")
	}
	return storeState(ctx, c, Key(aggregateType, streamID), version, state)
}
