package appcore

import (
	"context"
	"errors"
	"iter"

	"github.com/lllypuk/estately/internal/domain/event"
)

var (
	// ErrAggregateNotFound is returned when the stream has no events
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrConcurrencyConflict is returned on version conflict (optimistic locking)
	ErrConcurrencyConflict = errors.New("concurrency conflict detected")

	// ErrInvalidVersion is returned when a batch is not numbered contiguously after expectedVersion
	ErrInvalidVersion = errors.New("invalid version")
)

// EventStore defines the interface for appending and reading event streams.
// The interface is declared here (on the consumer side - application layer),
// not in infrastructure, following idiomatic Go approach.
type EventStore interface {
	// SaveEvents appends events to a stream atomically.
	// expectedVersion is the version the caller observed (0 for a new stream).
	// Events must be numbered expectedVersion+1 .. expectedVersion+len(events).
	// Returns the new stream version, or ErrConcurrencyConflict if the stream moved.
	SaveEvents(ctx context.Context, streamID string, events []event.DomainEvent, expectedVersion int) (int, error)

	// ReadEvents lazily yields the events of a stream with version > fromVersion,
	// in strict version order. Iteration may be stopped and restarted from any offset.
	ReadEvents(ctx context.Context, streamID string, fromVersion int) iter.Seq2[event.DomainEvent, error]

	// LoadEvents loads all events for a stream.
	// Returns ErrAggregateNotFound for an empty stream.
	LoadEvents(ctx context.Context, streamID string) ([]event.DomainEvent, error)

	// GetVersion returns the current version of a stream.
	// Returns 0 if the stream does not exist.
	GetVersion(ctx context.Context, streamID string) (int, error)

	// StreamIDs returns the IDs of all streams of the given aggregate type.
	StreamIDs(ctx context.Context, aggregateType string) ([]string, error)
}

// CollectEvents drains a ReadEvents iterator.
func CollectEvents(seq iter.Seq2[event.DomainEvent, error]) ([]event.DomainEvent, error) {
	var events []event.DomainEvent
	for evt, err := range seq {
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

// ValidateBatch checks that events are numbered contiguously after expectedVersion
// and all belong to streamID.
func ValidateBatch(streamID string, events []event.DomainEvent, expectedVersion int) error {
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}
	for i, evt := range events {
		if evt.AggregateID() != streamID {
			return errors.Join(ErrInvalidVersion, errors.New("event belongs to a different stream"))
		}
		if evt.Version() != expectedVersion+i+1 {
			return ErrInvalidVersion
		}
	}
	return nil
}
