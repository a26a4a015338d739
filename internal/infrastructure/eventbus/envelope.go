// Package eventbus publishes committed events to external subscribers.
// Delivery is at-least-once: the outbox worker republishes until a bus accepts.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lllypuk/estately/internal/domain/event"
)

var errNilEvent = errors.New("event cannot be nil")

// EventHandler is a function that handles domain events.
type EventHandler func(ctx context.Context, event event.DomainEvent) error

// PayloadEvent is an event that carries its raw JSON payload. Events read back
// from the outbox or from a bus implement it.
type PayloadEvent interface {
	event.DomainEvent
	Payload() json.RawMessage
}

// eventEnvelope is the wire form shared by all buses.
type eventEnvelope struct {
	ID            string          `json:"id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Version       int             `json:"version"`
	Metadata      event.Metadata  `json:"metadata"`
	Payload       json.RawMessage `json:"payload"`
}

func newEnvelope(evt event.DomainEvent) (eventEnvelope, error) {
	var payload json.RawMessage
	if pe, ok := evt.(PayloadEvent); ok {
		payload = pe.Payload()
	} else {
		raw, err := json.Marshal(evt)
		if err != nil {
			return eventEnvelope{}, fmt.Errorf("failed to marshal event payload: %w", err)
		}
		payload = raw
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	return eventEnvelope{
		ID:            uuid.New().String(),
		EventType:     evt.EventType(),
		AggregateID:   evt.AggregateID(),
		AggregateType: evt.AggregateType(),
		OccurredAt:    evt.OccurredAt(),
		Version:       evt.Version(),
		Metadata:      evt.Metadata(),
		Payload:       payload,
	}, nil
}

func encodeEvent(evt event.DomainEvent) (eventEnvelope, []byte, error) {
	if evt == nil {
		return eventEnvelope{}, nil, errNilEvent
	}
	envelope, err := newEnvelope(evt)
	if err != nil {
		return eventEnvelope{}, nil, fmt.Errorf("failed to create event envelope: %w", err)
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return eventEnvelope{}, nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return envelope, data, nil
}

// DecodeEvent restores an event published by any bus in this package.
func DecodeEvent(data []byte) (PayloadEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &deserializedEvent{envelope: envelope}, nil
}

// deserializedEvent implements PayloadEvent for events reconstructed from the wire.
type deserializedEvent struct {
	envelope eventEnvelope
}

func (e *deserializedEvent) EventType() string        { return e.envelope.EventType }
func (e *deserializedEvent) AggregateID() string      { return e.envelope.AggregateID }
func (e *deserializedEvent) AggregateType() string    { return e.envelope.AggregateType }
func (e *deserializedEvent) OccurredAt() time.Time    { return e.envelope.OccurredAt }
func (e *deserializedEvent) Version() int             { return e.envelope.Version }
func (e *deserializedEvent) Metadata() event.Metadata { return e.envelope.Metadata }

// Payload returns the raw JSON payload of the event.
func (e *deserializedEvent) Payload() json.RawMessage { return e.envelope.Payload }
