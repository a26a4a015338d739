// Package eventsourcing folds event streams into aggregate state and runs the
// optimistic read-decide-append cycle shared by every aggregate type.
package eventsourcing

import (
	"context"
	"fmt"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/event"
)

// Definition describes how one aggregate type is projected.
// Apply must be pure: no clock reads, no randomness, no I/O. Unknown event
// types must be returned unchanged.
type Definition[S any] interface {
	AggregateType() string
	Initial(streamID string) S
	Apply(state S, evt event.DomainEvent) S
}

// Snapshot is the state of one stream as of Version.
type Snapshot[S any] struct {
	StreamID string
	Version  int
	State    S
}

// Exists reports whether at least one event has been applied.
func (s Snapshot[S]) Exists() bool {
	return s.Version > 0
}

// Projector replays a stream through a Definition.
type Projector[S any] struct {
	store appcore.EventStore
	def   Definition[S]
}

// NewProjector creates a projector for one aggregate type.
func NewProjector[S any](store appcore.EventStore, def Definition[S]) *Projector[S] {
	return &Projector[S]{store: store, def: def}
}

// AggregateType returns the aggregate type this projector handles.
func (p *Projector[S]) AggregateType() string {
	return p.def.AggregateType()
}

// Empty returns the snapshot of a stream with no events.
func (p *Projector[S]) Empty(streamID string) Snapshot[S] {
	return Snapshot[S]{StreamID: streamID, State: p.def.Initial(streamID)}
}

// Project replays the whole stream from version 0.
// Returns appcore.ErrAggregateNotFound when the stream is empty.
func (p *Projector[S]) Project(ctx context.Context, streamID string) (Snapshot[S], error) {
	snap, err := p.CatchUp(ctx, p.Empty(streamID))
	if err != nil {
		return Snapshot[S]{}, err
	}
	if !snap.Exists() {
		return Snapshot[S]{}, fmt.Errorf("%w: %s", appcore.ErrAggregateNotFound, streamID)
	}
	return snap, nil
}

// CatchUp applies the events committed after snap.Version.
func (p *Projector[S]) CatchUp(ctx context.Context, snap Snapshot[S]) (Snapshot[S], error) {
	for evt, err := range p.store.ReadEvents(ctx, snap.StreamID, snap.Version) {
		if err != nil {
			return Snapshot[S]{}, fmt.Errorf("failed to read stream %s: %w", snap.StreamID, err)
		}
		if evt.Version() != snap.Version+1 {
			return Snapshot[S]{}, fmt.Errorf("%w: stream %s expected version %d, got %d",
				appcore.ErrInvalidVersion, snap.StreamID, snap.Version+1, evt.Version())
		}
		snap = p.Fold(snap, evt)
	}
	return snap, nil
}

// Fold applies events in memory. Version tracks every event, including ones the
// definition ignores, so appends keep using the real stream version.
func (p *Projector[S]) Fold(snap Snapshot[S], events ...event.DomainEvent) Snapshot[S] {
	for _, evt := range events {
		snap.State = p.def.Apply(snap.State, evt)
		snap.Version = evt.Version()
	}
	return snap
}

// ProjectState is the type-erased form of Project used by the materialization dispatcher.
func (p *Projector[S]) ProjectState(ctx context.Context, streamID string) (int, any, error) {
	snap, err := p.Project(ctx, streamID)
	if err != nil {
		return 0, nil, err
	}
	return snap.Version, snap.State, nil
}
