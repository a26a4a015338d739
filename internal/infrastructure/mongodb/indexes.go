// Package mongodb provides MongoDB infrastructure components including index management.
package mongodb

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names as constants for consistency.
const (
	CollectionEvents         = "events"
	CollectionOutbox         = "outbox"
	CollectionRepairQueue    = "repair_queue"
	CollectionPaymentIndex   = "payment_index"
	CollectionFeeSettlements = "fee_settlements"

	// ReadModelPrefix prefixes the per-aggregate-type view collections.
	ReadModelPrefix = "readmodel_"
)

// IndexDefinition describes a MongoDB index to be created.
type IndexDefinition struct {
	Collection string
	Name       string
	Keys       bson.D
	Options    *options.IndexOptionsBuilder
}

// CreateAllIndexes creates the indexes of the fixed collections and of the
// read model collections of the given aggregate types.
// Calling it multiple times is safe.
func CreateAllIndexes(ctx context.Context, db *mongo.Database, readModelTypes ...string) error {
	indexes := GetAllIndexDefinitions()
	for _, aggregateType := range readModelTypes {
		indexes = append(indexes, GetReadModelIndexes(aggregateType)...)
	}
	return createIndexes(ctx, db, indexes)
}

func createIndexes(ctx context.Context, db *mongo.Database, indexes []IndexDefinition) error {
	for _, idx := range indexes {
		opts := idx.Options
		if opts == nil {
			opts = options.Index()
		}
		model := mongo.IndexModel{
			Keys:    idx.Keys,
			Options: opts.SetName(idx.Name),
		}

		if _, err := db.Collection(idx.Collection).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("failed to create index %s on collection %s: %w", idx.Name, idx.Collection, err)
		}
	}
	return nil
}

// GetAllIndexDefinitions returns all index definitions for the fixed collections.
func GetAllIndexDefinitions() []IndexDefinition {
	var indexes []IndexDefinition

	indexes = append(indexes, GetEventIndexes()...)
	indexes = append(indexes, GetOutboxIndexes()...)
	indexes = append(indexes, GetRepairQueueIndexes()...)
	indexes = append(indexes, GetPaymentIndexIndexes()...)
	indexes = append(indexes, GetFeeSettlementIndexes()...)

	return indexes
}

// GetEventIndexes returns index definitions for the events collection (Event Store).
func GetEventIndexes() []IndexDefinition {
	return []IndexDefinition{
		{
			// Optimistic locking: one event per stream position
			Collection: CollectionEvents,
			Name:       "idx_events_aggregate_version_unique",
			Keys:       bson.D{{Key: "aggregate_id", Value: 1}, {Key: "version", Value: 1}},
			Options:    options.Index().SetUnique(true),
		},
		{
			Collection: CollectionEvents,
			Name:       "idx_events_aggregate_type",
			Keys:       bson.D{{Key: "aggregate_type", Value: 1}, {Key: "aggregate_id", Value: 1}},
		},
		{
			Collection: CollectionEvents,
			Name:       "idx_events_type_time",
			Keys:       bson.D{{Key: "event_type", Value: 1}, {Key: "occurred_at", Value: -1}},
		},
	}
}

// GetOutboxIndexes returns index definitions for the outbox collection.
func GetOutboxIndexes() []IndexDefinition {
	return []IndexDefinition{
		{
			// Polling unprocessed entries in insertion order
			Collection: CollectionOutbox,
			Name:       "idx_outbox_poll",
			Keys:       bson.D{{Key: "processed_at", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			Collection: CollectionOutbox,
			Name:       "idx_outbox_stream",
			Keys:       bson.D{{Key: "stream_id", Value: 1}, {Key: "version", Value: 1}},
		},
	}
}

// GetRepairQueueIndexes returns index definitions for the repair queue collection.
func GetRepairQueueIndexes() []IndexDefinition {
	return []IndexDefinition{
		{
			Collection: CollectionRepairQueue,
			Name:       "idx_repair_queue_poll",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			// Enqueue dedupes open tasks per stream and sink
			Collection: CollectionRepairQueue,
			Name:       "idx_repair_queue_target",
			Keys: bson.D{
				{Key: "stream_id", Value: 1},
				{Key: "aggregate_type", Value: 1},
				{Key: "sink", Value: 1},
				{Key: "status", Value: 1},
			},
		},
	}
}

// GetPaymentIndexIndexes returns index definitions for the payment lookup collection.
func GetPaymentIndexIndexes() []IndexDefinition {
	return []IndexDefinition{
		{
			// Webhooks resolve payments by provider reference; not every payment has one yet
			Collection: CollectionPaymentIndex,
			Name:       "idx_payment_index_provider_ref_unique",
			Keys:       bson.D{{Key: "provider_ref", Value: 1}},
			Options:    options.Index().SetUnique(true).SetSparse(true),
		},
		{
			// Expiry sweep
			Collection: CollectionPaymentIndex,
			Name:       "idx_payment_index_status_expiry",
			Keys:       bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
		},
		{
			// Refund resume sweep; only payments with unfinished refunds are indexed
			Collection: CollectionPaymentIndex,
			Name:       "idx_payment_index_pending_refunds",
			Keys:       bson.D{{Key: "pending_refunds", Value: 1}},
			Options: options.Index().SetPartialFilterExpression(bson.M{
				"pending_refunds": bson.M{"$gt": 0},
			}),
		},
	}
}

// GetFeeSettlementIndexes returns index definitions for the fee ledger.
func GetFeeSettlementIndexes() []IndexDefinition {
	return []IndexDefinition{
		{
			Collection: CollectionFeeSettlements,
			Name:       "idx_fee_settlements_payment",
			Keys:       bson.D{{Key: "payment_id", Value: 1}},
		},
		{
			Collection: CollectionFeeSettlements,
			Name:       "idx_fee_settlements_payer_time",
			Keys:       bson.D{{Key: "payer_id", Value: 1}, {Key: "settled_at", Value: -1}},
		},
	}
}

// ReadModelCollection returns the view collection name of an aggregate type.
func ReadModelCollection(aggregateType string) string {
	return ReadModelPrefix + aggregateType
}

// GetReadModelIndexes returns index definitions for the view collection of aggregateType.
func GetReadModelIndexes(aggregateType string) []IndexDefinition {
	coll := ReadModelCollection(aggregateType)
	return []IndexDefinition{
		{
			// Listing is paginated newest first
			Collection: coll,
			Name:       "idx_" + coll + "_created",
			Keys:       bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}},
		},
		{
			Collection: coll,
			Name:       "idx_" + coll + "_version",
			Keys:       bson.D{{Key: "version", Value: 1}},
		},
	}
}

// EnsureIndexes is an alias for CreateAllIndexes for semantic clarity.
func EnsureIndexes(ctx context.Context, db *mongo.Database, readModelTypes ...string) error {
	return CreateAllIndexes(ctx, db, readModelTypes...)
}

// CreateCollectionIndexes creates indexes for a specific collection only.
// Read model collections are recognised by their prefix.
func CreateCollectionIndexes(ctx context.Context, db *mongo.Database, collectionName string) error {
	var indexes []IndexDefinition

	switch collectionName {
	case CollectionEvents:
		indexes = GetEventIndexes()
	case CollectionOutbox:
		indexes = GetOutboxIndexes()
	case CollectionRepairQueue:
		indexes = GetRepairQueueIndexes()
	case CollectionPaymentIndex:
		indexes = GetPaymentIndexIndexes()
	case CollectionFeeSettlements:
		indexes = GetFeeSettlementIndexes()
	default:
		aggregateType, ok := strings.CutPrefix(collectionName, ReadModelPrefix)
		if !ok || aggregateType == "" {
			return fmt.Errorf("unknown collection: %s", collectionName)
		}
		indexes = GetReadModelIndexes(aggregateType)
	}

	return createIndexes(ctx, db, indexes)
}
