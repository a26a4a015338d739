package event

import (
	"fmt"
	"sort"
	"sync"
)

// Factory returns an empty, addressable event ready for payload decoding.
type Factory func() Rehydratable

// Registry maps event types to factories. Stores consult it when decoding payloads.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for the event type. Registering a type twice panics:
// it is always a wiring mistake.
func (r *Registry) Register(eventType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[eventType]; exists {
		panic(fmt.Sprintf("event type %q already registered", eventType))
	}
	r.factories[eventType] = factory
}

// New returns a fresh event for the type. Unknown types yield an *Unrecognized
// so that older readers keep working against newer streams.
func (r *Registry) New(eventType string) Rehydratable {
	r.mu.RLock()
	factory, ok := r.factories[eventType]
	r.mu.RUnlock()

	if !ok {
		return &Unrecognized{}
	}
	return factory()
}

// Known reports whether the type has a registered factory.
func (r *Registry) Known(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[eventType]
	return ok
}

// Types returns the registered event types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Unrecognized carries an event whose type this build does not know about.
// Projections ignore it; the raw payload is preserved for re-publication.
type Unrecognized struct {
	BaseEvent

	Payload map[string]any `json:"payload" bson:"payload"`
}
