package sqlstore_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/infrastructure/eventstore"
	"github.com/lllypuk/estately/internal/infrastructure/eventstore/sqlstore"
)

const noteType = "note.added"

type noteAdded struct {
	event.BaseEvent `json:"-" bson:"-"`

	Text string `json:"text"`
}

func note(streamID string, version int, text string) event.DomainEvent {
	meta := event.NewMetadata("user-1", "corr-1", "").
		At(time.Date(2026, 5, 1, 10, 0, version, 0, time.UTC))
	return &noteAdded{
		BaseEvent: event.NewBaseEvent(noteType, streamID, "note", version, meta),
		Text:      text,
	}
}

func newSerializer() *eventstore.EventSerializer {
	registry := event.NewRegistry()
	registry.Register(noteType, func() event.Rehydratable { return &noteAdded{} })
	return eventstore.NewEventSerializer(registry)
}

func openSQLite(t *testing.T, opts ...sqlstore.Option) *sqlstore.Store {
	t.Helper()

	store, err := sqlstore.OpenSQLite(context.Background(),
		filepath.Join(t.TempDir(), "events.db"), newSerializer(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_AppendAndRead(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := openSQLite(t)

	// Act
	version, err := store.SaveEvents(ctx, "n-1", []event.DomainEvent{
		note("n-1", 1, "first"),
		note("n-1", 2, "second"),
	}, 0)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	events, err := store.LoadEvents(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	first, ok := events[0].(*noteAdded)
	require.True(t, ok)
	assert.Equal(t, "first", first.Text)
	assert.Equal(t, 1, first.Version())
	assert.Equal(t, "n-1", first.AggregateID())
	assert.Equal(t, "note", first.AggregateType())
	assert.Equal(t, "user-1", first.Metadata().UserID)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 1, 0, time.UTC), first.OccurredAt())

	current, err := store.GetVersion(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, 2, current)
}

func TestSQLiteStore_ReplayKeepsCommittedTimestamps(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	meta := event.NewMetadata("user-1", "", "").
		At(time.Date(2026, 5, 1, 10, 0, 0, 123_456_789, time.UTC))
	committed := &noteAdded{
		BaseEvent: event.NewBaseEvent(noteType, "n-1", "note", 1, meta),
		Text:      "precise",
	}

	_, err := store.SaveEvents(ctx, "n-1", []event.DomainEvent{committed}, 0)
	require.NoError(t, err)

	events, err := store.LoadEvents(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, committed.OccurredAt(), events[0].OccurredAt())
}

func TestSQLiteStore_StaleVersionWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)

	_, err := store.SaveEvents(ctx, "n-1", []event.DomainEvent{note("n-1", 1, "a")}, 0)
	require.NoError(t, err)

	_, err = store.SaveEvents(ctx, "n-1", []event.DomainEvent{
		note("n-1", 1, "b"),
		note("n-1", 2, "c"),
	}, 0)
	require.ErrorIs(t, err, appcore.ErrConcurrencyConflict)

	events, err := store.LoadEvents(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].(*noteAdded).Text)
}

func TestSQLiteStore_RejectsGappedBatch(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)

	_, err := store.SaveEvents(ctx, "n-1", []event.DomainEvent{
		note("n-1", 1, "a"),
		note("n-1", 3, "gap"),
	}, 0)

	require.ErrorIs(t, err, appcore.ErrInvalidVersion)
	version, err := store.GetVersion(ctx, "n-1")
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestSQLiteStore_ReadFromOffset(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)

	_, err := store.SaveEvents(ctx, "n-1", []event.DomainEvent{
		note("n-1", 1, "a"), note("n-1", 2, "b"), note("n-1", 3, "c"),
	}, 0)
	require.NoError(t, err)

	t.Run("tail", func(t *testing.T) {
		events, errRead := appcore.CollectEvents(store.ReadEvents(ctx, "n-1", 1))
		require.NoError(t, errRead)
		require.Len(t, events, 2)
		assert.Equal(t, 2, events[0].Version())
		assert.Equal(t, 3, events[1].Version())
	})

	t.Run("stop early then restart", func(t *testing.T) {
		var seen int
		for evt, errRead := range store.ReadEvents(ctx, "n-1", 0) {
			require.NoError(t, errRead)
			seen = evt.Version()
			break
		}
		assert.Equal(t, 1, seen)

		events, errRead := appcore.CollectEvents(store.ReadEvents(ctx, "n-1", seen))
		require.NoError(t, errRead)
		assert.Len(t, events, 2)
	})

	t.Run("past the end", func(t *testing.T) {
		events, errRead := appcore.CollectEvents(store.ReadEvents(ctx, "n-1", 3))
		require.NoError(t, errRead)
		assert.Empty(t, events)
	})
}

func TestSQLiteStore_UnknownEventType(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	writer, err := sqlstore.OpenSQLite(ctx, path, newSerializer())
	require.NoError(t, err)
	_, err = writer.SaveEvents(ctx, "n-1", []event.DomainEvent{note("n-1", 1, "hello")}, 0)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	// A reader built without the type still reads the stream.
	reader, err := sqlstore.OpenSQLite(ctx, path, eventstore.NewEventSerializer(event.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	events, err := reader.LoadEvents(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	unknown, ok := events[0].(*event.Unrecognized)
	require.True(t, ok)
	assert.Equal(t, noteType, unknown.EventType())
	assert.Equal(t, "hello", unknown.Payload["text"])
}

func TestSQLiteStore_ConcurrentWritersOneWins(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.SaveEvents(ctx, "n-1", []event.DomainEvent{note("n-1", 1, string(rune('a'+i)))}, 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, appcore.ErrConcurrencyConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, conflicts)
	version, err := store.GetVersion(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestSQLiteStore_StreamIDs(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)

	for _, id := range []string{"n-2", "n-1"} {
		_, err := store.SaveEvents(ctx, id, []event.DomainEvent{note(id, 1, "x")}, 0)
		require.NoError(t, err)
	}

	ids, err := store.StreamIDs(ctx, "note")
	require.NoError(t, err)
	assert.Equal(t, []string{"n-1", "n-2"}, ids)

	none, err := store.StreamIDs(ctx, "payment")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_Outbox(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t, sqlstore.WithOutbox(true))

	_, err := store.SaveEvents(ctx, "n-1", []event.DomainEvent{note("n-1", 1, "a"), note("n-1", 2, "b")}, 0)
	require.NoError(t, err)

	entries, err := store.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "n-1", entries[0].AggregateID)
	assert.Equal(t, 1, entries[0].Version)
	assert.Equal(t, noteType, entries[0].EventType)
	assert.JSONEq(t, `{"text":"a"}`, string(entries[0].Payload))
	assert.Equal(t, "user-1", entries[0].Metadata.UserID)

	count, oldest, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.False(t, oldest.IsZero())

	require.NoError(t, store.MarkFailed(ctx, entries[1].ID, assert.AnError))
	require.NoError(t, store.MarkProcessed(ctx, entries[0].ID))

	pending, err := store.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, assert.AnError.Error(), pending[0].LastError)

	deleted, err := store.Cleanup(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestSQLiteStore_ConflictedAppendLeavesNoOutbox(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t, sqlstore.WithOutbox(true))

	_, err := store.SaveEvents(ctx, "n-1", []event.DomainEvent{note("n-1", 1, "a")}, 0)
	require.NoError(t, err)
	_, err = store.SaveEvents(ctx, "n-1", []event.DomainEvent{note("n-1", 1, "b")}, 0)
	require.ErrorIs(t, err, appcore.ErrConcurrencyConflict)

	count, _, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
