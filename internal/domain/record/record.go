// Package record holds the opaque aggregate shared by listings, users and locations.
// Business fields are carried as an untyped map; only lifecycle rules live here.
package record

import (
	"maps"
	"reflect"
	"time"

	"github.com/lllypuk/estately/internal/domain/errs"
	"github.com/lllypuk/estately/internal/domain/event"
)

// Kind определяет тип записи
type Kind string

const (
	KindListing  Kind = "listing"
	KindUser     Kind = "user"
	KindLocation Kind = "location"
)

// Kinds returns every supported kind.
func Kinds() []Kind {
	return []Kind{KindListing, KindUser, KindLocation}
}

// ParseKind validates a kind coming from the outside.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", errs.ErrInvalidInput
}

func (k Kind) String() string {
	return string(k)
}

// State текущее состояние записи, восстановленное из событий
type State struct {
	ID            string         `json:"id" bson:"_id"`
	Kind          Kind           `json:"kind" bson:"kind"`
	Fields        map[string]any `json:"fields" bson:"fields"`
	ParentID      string         `json:"parentId,omitempty" bson:"parent_id,omitempty"`
	Archived      bool           `json:"archived" bson:"archived"`
	ArchiveReason string         `json:"archiveReason,omitempty" bson:"archive_reason,omitempty"`
	CreatedAt     time.Time      `json:"createdAt" bson:"created_at"`
	UpdatedAt     time.Time      `json:"updatedAt" bson:"updated_at"`
}

// Exists reports whether the record was created.
func (s State) Exists() bool {
	return !s.CreatedAt.IsZero()
}

// Definition projects record streams of one kind.
type Definition struct {
	kind Kind
}

// NewDefinition creates the projection definition for a kind.
func NewDefinition(kind Kind) Definition {
	return Definition{kind: kind}
}

// AggregateType returns the kind; each kind is its own aggregate type.
func (d Definition) AggregateType() string {
	return d.kind.String()
}

// Initial returns the state of a stream with no events.
func (d Definition) Initial(streamID string) State {
	return State{ID: streamID, Kind: d.kind}
}

// Apply folds one event. Fields are copied, never mutated in place, so that
// snapshots handed out earlier stay valid.
func (d Definition) Apply(s State, evt event.DomainEvent) State {
	switch e := evt.(type) {
	case *Created:
		s.Fields = maps.Clone(e.Fields)
		if s.Fields == nil {
			s.Fields = map[string]any{}
		}
		s.ParentID = e.ParentID
		s.CreatedAt = e.OccurredAt()
		s.UpdatedAt = e.OccurredAt()
	case *Updated:
		s.Fields = patched(s.Fields, e.Fields)
		s.UpdatedAt = e.OccurredAt()
	case *Archived:
		s.Archived = true
		s.ArchiveReason = e.Reason
		s.UpdatedAt = e.OccurredAt()
	}
	return s
}

func patched(fields, patch map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+len(patch))
	maps.Copy(out, fields)
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Aggregate принимает команды над записью и порождает события
type Aggregate struct {
	def     Definition
	state   State
	version int

	uncommittedEvents []event.DomainEvent
}

// NewAggregate wraps the projected state at version.
func NewAggregate(kind Kind, state State, version int) *Aggregate {
	if state.Kind == "" {
		state.Kind = kind
	}
	return &Aggregate{def: NewDefinition(kind), state: state, version: version}
}

// Create создает запись (событие Created)
func (a *Aggregate) Create(fields map[string]any, parentID string, metadata event.Metadata) error {
	if a.version > 0 {
		return errs.ErrAlreadyExists
	}
	if parentID != "" && a.state.Kind != KindLocation {
		return errs.ErrInvalidInput
	}

	a.apply(NewCreated(a.state.ID, a.state.Kind, maps.Clone(fields), parentID, a.version+1, metadata))
	return nil
}

// Update применяет патч. Патч без фактических изменений ничего не делает.
func (a *Aggregate) Update(patch map[string]any, metadata event.Metadata) error {
	if a.version == 0 {
		return errs.ErrNotFound
	}
	if a.state.Archived {
		return errs.ErrInvalidState
	}

	effective := make(map[string]any)
	for k, v := range patch {
		current, present := a.state.Fields[k]
		switch {
		case v == nil && !present:
		case v != nil && present && reflect.DeepEqual(current, v):
		default:
			effective[k] = v
		}
	}
	if len(effective) == 0 {
		return nil
	}

	a.apply(NewUpdated(a.state.ID, a.state.Kind, effective, a.version+1, metadata))
	return nil
}

// Archive архивирует запись. Повторный вызов ничего не делает.
func (a *Aggregate) Archive(reason string, metadata event.Metadata) error {
	if a.version == 0 {
		return errs.ErrNotFound
	}
	if a.state.Archived {
		return nil
	}

	a.apply(NewArchived(a.state.ID, a.state.Kind, reason, a.version+1, metadata))
	return nil
}

func (a *Aggregate) apply(evt event.DomainEvent) {
	a.state = a.def.Apply(a.state, evt)
	a.version = evt.Version()
	a.uncommittedEvents = append(a.uncommittedEvents, evt)
}

// State returns the current state including uncommitted changes.
func (a *Aggregate) State() State {
	return a.state
}

// Version returns the version including uncommitted changes.
func (a *Aggregate) Version() int {
	return a.version
}

// UncommittedEvents возвращает новые события
func (a *Aggregate) UncommittedEvents() []event.DomainEvent {
	return a.uncommittedEvents
}
