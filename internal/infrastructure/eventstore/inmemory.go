package eventstore

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/event"
)

// InMemoryEventStore реализует EventStore в памяти для тестирования и mock-режима
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]event.DomainEvent
	types  map[string]string
}

// NewInMemoryEventStore создает новый in-memory event store
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events: make(map[string][]event.DomainEvent),
		types:  make(map[string]string),
	}
}

// SaveEvents добавляет события в поток с проверкой ожидаемой версии
func (s *InMemoryEventStore) SaveEvents(
	_ context.Context,
	streamID string,
	events []event.DomainEvent,
	expectedVersion int,
) (int, error) {
	if err := appcore.ValidateBatch(streamID, events, expectedVersion); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Проверка optimistic locking
	currentVersion := len(s.events[streamID])
	if currentVersion != expectedVersion {
		return currentVersion, fmt.Errorf("%w: stream %s at version %d, expected %d",
			appcore.ErrConcurrencyConflict, streamID, currentVersion, expectedVersion)
	}
	if len(events) == 0 {
		return currentVersion, nil
	}

	s.events[streamID] = append(s.events[streamID], events...)
	s.types[streamID] = events[0].AggregateType()

	return len(s.events[streamID]), nil
}

// ReadEvents возвращает события с версией больше fromVersion
func (s *InMemoryEventStore) ReadEvents(
	_ context.Context,
	streamID string,
	fromVersion int,
) iter.Seq2[event.DomainEvent, error] {
	return func(yield func(event.DomainEvent, error) bool) {
		s.mu.RLock()
		stream := s.events[streamID]
		if fromVersion < 0 {
			fromVersion = 0
		}
		var tail []event.DomainEvent
		if fromVersion < len(stream) {
			// Копия, чтобы не держать блокировку во время итерации
			tail = make([]event.DomainEvent, len(stream)-fromVersion)
			copy(tail, stream[fromVersion:])
		}
		s.mu.RUnlock()

		for _, evt := range tail {
			if !yield(evt, nil) {
				return
			}
		}
	}
}

// LoadEvents загружает все события потока
func (s *InMemoryEventStore) LoadEvents(ctx context.Context, streamID string) ([]event.DomainEvent, error) {
	events, err := appcore.CollectEvents(s.ReadEvents(ctx, streamID, 0))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, appcore.ErrAggregateNotFound
	}
	return events, nil
}

// GetVersion возвращает текущую версию потока
func (s *InMemoryEventStore) GetVersion(_ context.Context, streamID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.events[streamID]), nil
}

// StreamIDs возвращает ID потоков заданного типа агрегата
func (s *InMemoryEventStore) StreamIDs(_ context.Context, aggregateType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.types))
	for id, t := range s.types {
		if t == aggregateType {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// Clear очищает все события (для тестов)
func (s *InMemoryEventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = make(map[string][]event.DomainEvent)
	s.types = make(map[string]string)
}
