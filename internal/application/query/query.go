// Package query serves read-only aggregate projections.
package query

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/lllypuk/estately/internal/application/appcore"
)

// ErrListingUnavailable is returned by List when no read model store is configured.
var ErrListingUnavailable = errors.New("listing is not configured")

// StateReader projects one aggregate type. It must never append events.
type StateReader interface {
	ProjectState(ctx context.Context, streamID string) (int, any, error)
}

// View is the projected state of one stream.
type View struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Version int    `json:"version"`
	State   any    `json:"state"`
}

// Lister pages through the read models of one aggregate type.
type Lister interface {
	List(ctx context.Context, aggregateType string, offset, limit int) ([]View, error)
}

// Paging limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Service resolves getAggregate requests by aggregate type.
type Service struct {
	mu      sync.RWMutex
	readers map[string]StateReader
	lister  Lister
}

// Option configures the Service.
type Option func(*Service)

// WithLister enables List through a read model store.
func WithLister(l Lister) Option {
	return func(s *Service) { s.lister = l }
}

// NewService creates an empty query service.
func NewService(opts ...Option) *Service {
	s := &Service{readers: make(map[string]StateReader)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the reader for an aggregate type.
func (s *Service) Register(aggregateType string, reader StateReader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readers[aggregateType] = reader
}

// Types returns the registered aggregate types.
func (s *Service) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make([]string, 0, len(s.readers))
	for t := range s.readers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Get returns the current projection of the stream.
func (s *Service) Get(ctx context.Context, aggregateType, streamID string) (View, error) {
	s.mu.RLock()
	reader, ok := s.readers[aggregateType]
	s.mu.RUnlock()
	if !ok {
		return View{}, appcore.NewValidationError("type", "unknown aggregate type")
	}

	version, state, err := reader.ProjectState(ctx, streamID)
	if errors.Is(err, appcore.ErrAggregateNotFound) {
		return View{}, appcore.NewNotFoundError(aggregateType, streamID)
	}
	if err != nil {
		return View{}, err
	}
	return View{Type: aggregateType, ID: streamID, Version: version, State: state}, nil
}

// List returns read model views of one aggregate type. Read models lag the
// log; Get is the consistent read.
func (s *Service) List(ctx context.Context, aggregateType string, offset, limit int) ([]View, error) {
	s.mu.RLock()
	_, ok := s.readers[aggregateType]
	s.mu.RUnlock()
	if !ok {
		return nil, appcore.NewValidationError("type", "unknown aggregate type")
	}
	if s.lister == nil {
		return nil, ErrListingUnavailable
	}
	if offset < 0 {
		return nil, appcore.NewValidationError("offset", "must not be negative")
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.lister.List(ctx, aggregateType, offset, limit)
}
