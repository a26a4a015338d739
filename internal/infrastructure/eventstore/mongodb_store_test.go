//go:build integration

package eventstore_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/infrastructure/eventstore"
	"github.com/lllypuk/estately/internal/infrastructure/mongodb"
	"github.com/lllypuk/estately/tests/testutil"
)

func setupMongoStore(t *testing.T) *eventstore.MongoEventStore {
	t.Helper()

	client, db := testutil.SetupSharedTestMongoDBWithClient(t)
	require.NoError(t, mongodb.CreateAllIndexes(context.Background(), db))

	registry := event.NewRegistry()
	registry.Register("ping", func() event.Rehydratable { return &pinged{} })

	return eventstore.NewMongoEventStore(
		client,
		db.Collection(mongodb.CollectionEvents),
		eventstore.NewEventSerializer(registry),
	)
}

func TestMongoEventStore_AppendReadConflict(t *testing.T) {
	ctx := context.Background()
	store := setupMongoStore(t)

	version, err := store.SaveEvents(ctx, "p-1", []event.DomainEvent{ping("p-1", 1, 1), ping("p-1", 2, 9000000000)}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	_, err = store.SaveEvents(ctx, "p-1", []event.DomainEvent{ping("p-1", 2, 3)}, 1)
	require.ErrorIs(t, err, appcore.ErrConcurrencyConflict)

	events, err := store.LoadEvents(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(9000000000), events[1].(*pinged).Count)

	tail, err := appcore.CollectEvents(store.ReadEvents(ctx, "p-1", 1))
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, 2, tail[0].Version())

	ids, err := store.StreamIDs(ctx, "ticker")
	require.NoError(t, err)
	assert.Equal(t, []string{"p-1"}, ids)
}

func TestMongoEventStore_ConcurrentAppendsSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := setupMongoStore(t)

	const writers = 5
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.SaveEvents(ctx, "p-1", []event.DomainEvent{ping("p-1", 1, int64(i))}, 0)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	version, err := store.GetVersion(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}
