package event

import "time"

// BaseEvent базовая реализация DomainEvent
type BaseEvent struct {
	eventType     string
	aggregateID   string
	aggregateType string
	occurredAt    time.Time
	version       int
	metadata      Metadata
}

// NewBaseEvent создает новое базовое событие
func NewBaseEvent(eventType, aggregateID, aggregateType string, version int, metadata Metadata) BaseEvent {
	occurredAt := metadata.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return NewBaseEventAt(eventType, aggregateID, aggregateType, version, occurredAt, metadata)
}

// NewBaseEventAt creates a base event with an explicit occurrence time.
// Stores use it when decoding persisted envelopes. The time is kept at
// millisecond precision, the finest every store persists, so state folded
// right after a commit equals state replayed later.
func NewBaseEventAt(
	eventType, aggregateID, aggregateType string,
	version int,
	occurredAt time.Time,
	metadata Metadata,
) BaseEvent {
	return BaseEvent{
		eventType:     eventType,
		aggregateID:   aggregateID,
		aggregateType: aggregateType,
		occurredAt:    occurredAt.Truncate(time.Millisecond),
		version:       version,
		metadata:      metadata,
	}
}

// EventType возвращает тип события
func (e BaseEvent) EventType() string {
	return e.eventType
}

// AggregateID возвращает ID агрегата
func (e BaseEvent) AggregateID() string {
	return e.aggregateID
}

// AggregateType возвращает тип агрегата
func (e BaseEvent) AggregateType() string {
	return e.aggregateType
}

// OccurredAt возвращает время возникновения события
func (e BaseEvent) OccurredAt() time.Time {
	return e.occurredAt
}

// Version возвращает порядковый номер события в потоке
func (e BaseEvent) Version() int {
	return e.version
}

// Metadata возвращает метаданные события
func (e BaseEvent) Metadata() Metadata {
	return e.metadata
}

// Rehydrate replaces the envelope. Promoted to every event that embeds BaseEvent.
func (e *BaseEvent) Rehydrate(base BaseEvent) {
	*e = base
}
