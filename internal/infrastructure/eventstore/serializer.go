package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lllypuk/estately/internal/domain/event"
)

// Record is the storage-neutral form of a committed event.
// Payload holds the JSON encoding of the event's own fields; the envelope
// (stream, type, version, metadata, time) is kept alongside it.
type Record struct {
	StreamID      string
	AggregateType string
	EventType     string
	Version       int
	Payload       []byte
	Metadata      event.Metadata
	OccurredAt    time.Time
}

// EventSerializer converts between domain events and records using a type registry.
type EventSerializer struct {
	registry *event.Registry
}

// NewEventSerializer creates a serializer backed by registry.
func NewEventSerializer(registry *event.Registry) *EventSerializer {
	return &EventSerializer{registry: registry}
}

// Serialize converts a domain event into a record.
func (s *EventSerializer) Serialize(e event.DomainEvent) (Record, error) {
	var (
		payload []byte
		err     error
	)
	if u, ok := e.(*event.Unrecognized); ok {
		payload, err = json.Marshal(u.Payload)
		if u.Payload == nil {
			payload = []byte("{}")
		}
	} else {
		payload, err = json.Marshal(e)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal %s payload: %w", e.EventType(), err)
	}

	return Record{
		StreamID:      e.AggregateID(),
		AggregateType: e.AggregateType(),
		EventType:     e.EventType(),
		Version:       e.Version(),
		Payload:       payload,
		Metadata:      e.Metadata(),
		OccurredAt:    e.OccurredAt().UTC(),
	}, nil
}

// SerializeMany serializes several events at once
func (s *EventSerializer) SerializeMany(events []event.DomainEvent) ([]Record, error) {
	records := make([]Record, 0, len(events))
	for i, e := range events {
		rec, err := s.Serialize(e)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize event at index %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Deserialize restores a typed event. Types missing from the registry come back
// as *event.Unrecognized with the raw payload.
func (s *EventSerializer) Deserialize(rec Record) (event.DomainEvent, error) {
	evt := s.registry.New(rec.EventType)

	target := any(evt)
	if u, ok := evt.(*event.Unrecognized); ok {
		target = &u.Payload
	}
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", rec.EventType, err)
		}
	}

	evt.Rehydrate(event.NewBaseEventAt(
		rec.EventType,
		rec.StreamID,
		rec.AggregateType,
		rec.Version,
		rec.OccurredAt,
		rec.Metadata,
	))
	return evt, nil
}
