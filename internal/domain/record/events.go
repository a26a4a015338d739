package record

import (
	"github.com/lllypuk/estately/internal/domain/event"
)

// Event types
const (
	EventTypeCreated  = "record.created"
	EventTypeUpdated  = "record.updated"
	EventTypeArchived = "record.archived"
)

// Created событие создания записи
type Created struct {
	event.BaseEvent `json:"-" bson:"-"`

	Fields   map[string]any `json:"fields"`
	ParentID string         `json:"parentId,omitempty"`
}

// NewCreated создает событие Created
func NewCreated(
	id string,
	kind Kind,
	fields map[string]any,
	parentID string,
	version int,
	metadata event.Metadata,
) *Created {
	return &Created{
		BaseEvent: event.NewBaseEvent(EventTypeCreated, id, kind.String(), version, metadata),
		Fields:    fields,
		ParentID:  parentID,
	}
}

// Updated событие частичного обновления полей.
// Значение nil удаляет поле.
type Updated struct {
	event.BaseEvent `json:"-" bson:"-"`

	Fields map[string]any `json:"fields"`
}

// NewUpdated создает событие Updated
func NewUpdated(id string, kind Kind, patch map[string]any, version int, metadata event.Metadata) *Updated {
	return &Updated{
		BaseEvent: event.NewBaseEvent(EventTypeUpdated, id, kind.String(), version, metadata),
		Fields:    patch,
	}
}

// Archived событие архивации записи
type Archived struct {
	event.BaseEvent `json:"-" bson:"-"`

	Reason string `json:"reason,omitempty"`
}

// NewArchived создает событие Archived
func NewArchived(id string, kind Kind, reason string, version int, metadata event.Metadata) *Archived {
	return &Archived{
		BaseEvent: event.NewBaseEvent(EventTypeArchived, id, kind.String(), version, metadata),
		Reason:    reason,
	}
}

// RegisterEvents registers record events for decoding.
func RegisterEvents(registry *event.Registry) {
	registry.Register(EventTypeCreated, func() event.Rehydratable { return &Created{} })
	registry.Register(EventTypeUpdated, func() event.Rehydratable { return &Updated{} })
	registry.Register(EventTypeArchived, func() event.Rehydratable { return &Archived{} })
}
