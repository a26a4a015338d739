//go:build integration

package mongodb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/lllypuk/estately/internal/infrastructure/mongodb"
	"github.com/lllypuk/estately/tests/testutil"
)

func TestCreateAllIndexes(t *testing.T) {
	db := testutil.SetupTestMongoDB(t)
	ctx := context.Background()

	require.NoError(t, mongodb.CreateAllIndexes(ctx, db, "record"))

	for _, coll := range []string{
		mongodb.CollectionEvents,
		mongodb.CollectionOutbox,
		mongodb.CollectionRepairQueue,
		mongodb.CollectionPaymentIndex,
		mongodb.CollectionFeeSettlements,
		mongodb.ReadModelCollection("record"),
	} {
		indexes := getCollectionIndexes(ctx, t, db, coll)
		// _id плюс хотя бы один свой индекс
		assert.GreaterOrEqual(t, len(indexes), 2, "collection %s should have indexes", coll)
	}
}

func TestCreateAllIndexes_Idempotent(t *testing.T) {
	db := testutil.SetupTestMongoDB(t)
	ctx := context.Background()

	require.NoError(t, mongodb.EnsureIndexes(ctx, db))
	require.NoError(t, mongodb.EnsureIndexes(ctx, db))

	indexes := getCollectionIndexes(ctx, t, db, mongodb.CollectionEvents)
	assert.Len(t, indexes, 4)
}

func TestCreateCollectionIndexes(t *testing.T) {
	db := testutil.SetupTestMongoDB(t)
	ctx := context.Background()

	require.NoError(t, mongodb.CreateCollectionIndexes(ctx, db, mongodb.CollectionOutbox))
	indexes := getCollectionIndexes(ctx, t, db, mongodb.CollectionOutbox)
	assert.Len(t, indexes, 3)
	assert.NotNil(t, findIndexInDBByName(indexes, "idx_outbox_poll"))

	require.NoError(t, mongodb.CreateCollectionIndexes(ctx, db, "readmodel_payment"))
	views := getCollectionIndexes(ctx, t, db, "readmodel_payment")
	assert.NotNil(t, findIndexInDBByName(views, "idx_readmodel_payment_created"))

	err := mongodb.CreateCollectionIndexes(ctx, db, "unknown_collection")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown collection")

	require.Error(t, mongodb.CreateCollectionIndexes(ctx, db, mongodb.ReadModelPrefix))
}

func TestIndexes_EventVersionUnique(t *testing.T) {
	db := testutil.SetupTestMongoDB(t)
	ctx := context.Background()
	require.NoError(t, mongodb.CreateAllIndexes(ctx, db))

	events := db.Collection(mongodb.CollectionEvents)
	_, err := events.InsertOne(ctx, bson.M{"aggregate_id": "rec-1", "version": 1})
	require.NoError(t, err)

	_, err = events.InsertOne(ctx, bson.M{"aggregate_id": "rec-1", "version": 1})
	require.Error(t, err)
	assert.True(t, mongo.IsDuplicateKeyError(err))
}

func TestIndexes_ProviderRefSparse(t *testing.T) {
	db := testutil.SetupTestMongoDB(t)
	ctx := context.Background()
	require.NoError(t, mongodb.CreateAllIndexes(ctx, db))

	coll := db.Collection(mongodb.CollectionPaymentIndex)

	// платежи без provider_ref не конфликтуют
	_, err := coll.InsertOne(ctx, bson.M{"_id": "pay-1", "status": "pending"})
	require.NoError(t, err)
	_, err = coll.InsertOne(ctx, bson.M{"_id": "pay-2", "status": "pending"})
	require.NoError(t, err)

	_, err = coll.InsertOne(ctx, bson.M{"_id": "pay-3", "provider_ref": "pi_1"})
	require.NoError(t, err)
	_, err = coll.InsertOne(ctx, bson.M{"_id": "pay-4", "provider_ref": "pi_1"})
	assert.True(t, mongo.IsDuplicateKeyError(err))
}

func getCollectionIndexes(ctx context.Context, t *testing.T, db *mongo.Database, collName string) []bson.M {
	t.Helper()

	cursor, err := db.Collection(collName).Indexes().List(ctx)
	require.NoError(t, err)

	var indexes []bson.M
	require.NoError(t, cursor.All(ctx, &indexes))
	return indexes
}

func findIndexInDBByName(indexes []bson.M, name string) bson.M {
	for _, idx := range indexes {
		if idx["name"] == name {
			return idx
		}
	}
	return nil
}
