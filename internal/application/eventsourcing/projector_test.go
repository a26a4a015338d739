package eventsourcing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/application/eventsourcing"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/infrastructure/eventstore"
)

const counterType = "counter"

type incremented struct {
	event.BaseEvent `json:"-" bson:"-"`

	By int `json:"by"`
}

type counterState struct {
	ID     string
	Total  int
	Events int
}

type counterDefinition struct{}

func (counterDefinition) AggregateType() string { return counterType }

func (counterDefinition) Initial(id string) counterState { return counterState{ID: id} }

func (counterDefinition) Apply(s counterState, evt event.DomainEvent) counterState {
	if e, ok := evt.(*incremented); ok {
		s.Total += e.By
		s.Events++
	}
	return s
}

func inc(streamID string, version, by int) event.DomainEvent {
	meta := event.Metadata{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return &incremented{BaseEvent: event.NewBaseEvent("counter.incremented", streamID, counterType, version, meta), By: by}
}

func incrementBy(by int) eventsourcing.Decide[counterState] {
	return func(snap eventsourcing.Snapshot[counterState]) ([]event.DomainEvent, error) {
		return []event.DomainEvent{inc(snap.StreamID, snap.Version+1, by)}, nil
	}
}

func TestProjector_Project(t *testing.T) {
	ctx := context.Background()
	store := eventstore.NewInMemoryEventStore()
	projector := eventsourcing.NewProjector[counterState](store, counterDefinition{})

	t.Run("missing stream", func(t *testing.T) {
		_, err := projector.Project(ctx, "c-missing")
		require.ErrorIs(t, err, appcore.ErrAggregateNotFound)
	})

	t.Run("folds events and ignores unknown types", func(t *testing.T) {
		unknown := &event.Unrecognized{
			BaseEvent: event.NewBaseEvent("counter.renamed", "c-1", counterType, 2, event.Metadata{}),
		}
		_, err := store.SaveEvents(ctx, "c-1", []event.DomainEvent{inc("c-1", 1, 5), unknown, inc("c-1", 3, 2)}, 0)
		require.NoError(t, err)

		snap, err := projector.Project(ctx, "c-1")

		require.NoError(t, err)
		assert.Equal(t, 3, snap.Version)
		assert.Equal(t, 7, snap.State.Total)
		assert.Equal(t, 2, snap.State.Events)
	})

	t.Run("catch up from snapshot", func(t *testing.T) {
		base, err := projector.Project(ctx, "c-1")
		require.NoError(t, err)
		_, err = store.SaveEvents(ctx, "c-1", []event.DomainEvent{inc("c-1", 4, 10)}, 3)
		require.NoError(t, err)

		snap, err := projector.CatchUp(ctx, base)

		require.NoError(t, err)
		assert.Equal(t, 4, snap.Version)
		assert.Equal(t, 17, snap.State.Total)
	})

	t.Run("type-erased projection", func(t *testing.T) {
		version, state, err := projector.ProjectState(ctx, "c-1")

		require.NoError(t, err)
		assert.Equal(t, 4, version)
		assert.Equal(t, 17, state.(counterState).Total)
	})
}

func TestProjector_ReplayIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("replaying the same stream always yields the same state", prop.ForAll(
		func(deltas []int) bool {
			ctx := context.Background()
			store := eventstore.NewInMemoryEventStore()
			events := make([]event.DomainEvent, 0, len(deltas))
			for i, d := range deltas {
				events = append(events, inc("c-1", i+1, d))
			}
			if _, err := store.SaveEvents(ctx, "c-1", events, 0); err != nil {
				return false
			}

			projector := eventsourcing.NewProjector[counterState](store, counterDefinition{})
			first, err := projector.Project(ctx, "c-1")
			if err != nil {
				return false
			}
			second, err := projector.Project(ctx, "c-1")
			if err != nil {
				return false
			}
			folded := projector.Fold(projector.Empty("c-1"), events...)

			expected := 0
			for _, d := range deltas {
				expected += d
			}
			return first == second && first == folded && first.State.Total == expected
		},
		gen.SliceOfN(20, gen.IntRange(-1000, 1000)).SuchThat(func(v []int) bool { return len(v) > 0 }),
	))

	properties.TestingRun(t)
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls [][]event.DomainEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, _, _ string, events []event.DomainEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, events)
}

// racingStore appends a competing event before the first SaveEvents goes through.
type racingStore struct {
	*eventstore.InMemoryEventStore
	once sync.Once
}

func (s *racingStore) SaveEvents(ctx context.Context, id string, events []event.DomainEvent, expected int) (int, error) {
	s.once.Do(func() {
		_, _ = s.InMemoryEventStore.SaveEvents(ctx, id, []event.DomainEvent{inc(id, expected+1, 100)}, expected)
	})
	return s.InMemoryEventStore.SaveEvents(ctx, id, events, expected)
}

// alwaysConflicting never accepts an append.
type alwaysConflicting struct {
	*eventstore.InMemoryEventStore
	attempts int
}

func (s *alwaysConflicting) SaveEvents(context.Context, string, []event.DomainEvent, int) (int, error) {
	s.attempts++
	return 0, appcore.ErrConcurrencyConflict
}

func TestCommandHandler_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("appends and dispatches", func(t *testing.T) {
		store := eventstore.NewInMemoryEventStore()
		dispatcher := &recordingDispatcher{}
		handler := eventsourcing.NewCommandHandler[counterState](store, counterDefinition{},
			eventsourcing.WithDispatcher(dispatcher))

		outcome, err := handler.Execute(ctx, "c-1", incrementBy(3))

		require.NoError(t, err)
		assert.True(t, outcome.Changed())
		assert.Equal(t, 1, outcome.Snapshot.Version)
		assert.Equal(t, 3, outcome.Snapshot.State.Total)
		assert.Equal(t, 1, outcome.Attempts)
		require.Len(t, dispatcher.calls, 1)
		assert.Len(t, dispatcher.calls[0], 1)
	})

	t.Run("retries the whole cycle on conflict", func(t *testing.T) {
		store := &racingStore{InMemoryEventStore: eventstore.NewInMemoryEventStore()}
		handler := eventsourcing.NewCommandHandler[counterState](store, counterDefinition{})

		outcome, err := handler.Execute(ctx, "c-1", incrementBy(1))

		require.NoError(t, err)
		assert.Equal(t, 2, outcome.Attempts)
		assert.Equal(t, 2, outcome.Snapshot.Version)
		assert.Equal(t, 101, outcome.Snapshot.State.Total)
	})

	t.Run("gives up after the bound", func(t *testing.T) {
		store := &alwaysConflicting{InMemoryEventStore: eventstore.NewInMemoryEventStore()}
		handler := eventsourcing.NewCommandHandler[counterState](store, counterDefinition{},
			eventsourcing.WithMaxAttempts(3))

		outcome, err := handler.Execute(ctx, "c-1", incrementBy(1))

		require.ErrorIs(t, err, appcore.ErrConcurrencyConflict)
		assert.Equal(t, 3, store.attempts)
		assert.Equal(t, 3, outcome.Attempts)
	})

	t.Run("decide errors are not retried", func(t *testing.T) {
		store := eventstore.NewInMemoryEventStore()
		handler := eventsourcing.NewCommandHandler[counterState](store, counterDefinition{})
		rejected := errors.New("rejected")
		calls := 0

		_, err := handler.Execute(ctx, "c-1", func(eventsourcing.Snapshot[counterState]) ([]event.DomainEvent, error) {
			calls++
			return nil, rejected
		})

		require.ErrorIs(t, err, rejected)
		assert.Equal(t, 1, calls)
		version, _ := store.GetVersion(ctx, "c-1")
		assert.Zero(t, version)
	})

	t.Run("no events is a no-op", func(t *testing.T) {
		store := eventstore.NewInMemoryEventStore()
		dispatcher := &recordingDispatcher{}
		handler := eventsourcing.NewCommandHandler[counterState](store, counterDefinition{},
			eventsourcing.WithDispatcher(dispatcher))

		outcome, err := handler.Execute(ctx, "c-1", func(eventsourcing.Snapshot[counterState]) ([]event.DomainEvent, error) {
			return nil, nil
		})

		require.NoError(t, err)
		assert.False(t, outcome.Changed())
		assert.Empty(t, dispatcher.calls)
	})

	t.Run("concurrent writers never lose updates", func(t *testing.T) {
		store := eventstore.NewInMemoryEventStore()
		handler := eventsourcing.NewCommandHandler[counterState](store, counterDefinition{},
			eventsourcing.WithMaxAttempts(50))

		const writers = 10
		var wg sync.WaitGroup
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := handler.Execute(ctx, "c-1", incrementBy(1))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		snap, err := handler.Projector().Project(ctx, "c-1")
		require.NoError(t, err)
		assert.Equal(t, writers, snap.State.Total)
		assert.Equal(t, writers, snap.Version)
	})
}
