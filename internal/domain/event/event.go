package event

import (
	"context"
	"time"
)

// DomainEvent represents a domain event
type DomainEvent interface {
	// EventType returns the event type
	EventType() string

	// AggregateID returns the ID of the stream the event belongs to
	AggregateID() string

	// AggregateType returns the aggregate type
	AggregateType() string

	// OccurredAt returns the time when the event occurred
	OccurredAt() time.Time

	// Version returns the sequence number of the event within its stream
	Version() int

	// Metadata returns the event metadata
	Metadata() Metadata
}

// Rehydratable is implemented by events whose envelope can be restored by a store
// after the payload has been decoded.
type Rehydratable interface {
	DomainEvent
	Rehydrate(base BaseEvent)
}

// Bus is an interface for publishing events
type Bus interface {
	// Publish publishes an event
	Publish(ctx context.Context, event DomainEvent) error
}
