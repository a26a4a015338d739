package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
	"github.com/lllypuk/estately/internal/domain/payment"
)

// PaymentIndexCollection is the collection name of the payment index.
const PaymentIndexCollection = "payment_index"

// MongoPaymentIndex implements apppayment.PaymentIndex.
type MongoPaymentIndex struct {
	collection *mongo.Collection
}

// NewMongoPaymentIndex creates the index over collection.
func NewMongoPaymentIndex(collection *mongo.Collection) *MongoPaymentIndex {
	return &MongoPaymentIndex{collection: collection}
}

// Upsert implements apppayment.PaymentIndex.
func (i *MongoPaymentIndex) Upsert(ctx context.Context, entry apppayment.IndexEntry) error {
	set := bson.M{
		"method":          entry.Method,
		"status":          entry.Status,
		"expires_at":      entry.ExpiresAt,
		"pending_refunds": entry.PendingRefunds,
		"version":         entry.Version,
	}
	if entry.ProviderRef != "" {
		set["provider_ref"] = entry.ProviderRef
	}
	if _, err := upsertIfNewer(ctx, i.collection, entry.PaymentID, entry.Version, set, nil); err != nil {
		return HandleMongoError(err, "payment index")
	}
	return nil
}

// FindByProviderRef implements apppayment.PaymentIndex.
func (i *MongoPaymentIndex) FindByProviderRef(ctx context.Context, providerRef string) (apppayment.IndexEntry, error) {
	var entry apppayment.IndexEntry
	err := i.collection.FindOne(ctx, bson.M{"provider_ref": providerRef}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apppayment.IndexEntry{}, fmt.Errorf("%w: %s", apppayment.ErrIndexEntryNotFound, providerRef)
	}
	if err != nil {
		return apppayment.IndexEntry{}, HandleMongoError(err, "payment index")
	}
	return entry, nil
}

// OverdueBefore implements apppayment.PaymentIndex.
func (i *MongoPaymentIndex) OverdueBefore(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return i.ids(ctx, bson.M{
		"status":     bson.M{"$in": bson.A{payment.StatusPending, payment.StatusProcessing}},
		"expires_at": bson.M{"$lte": now},
	}, limit)
}

// WithPendingRefunds implements apppayment.PaymentIndex.
func (i *MongoPaymentIndex) WithPendingRefunds(ctx context.Context, limit int) ([]string, error) {
	return i.ids(ctx, bson.M{"pending_refunds": bson.M{"$gt": 0}}, limit)
}

func (i *MongoPaymentIndex) ids(ctx context.Context, filter bson.M, limit int) ([]string, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "expires_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(DefaultLimit(limit, DefaultPaginationLimit))).
		SetProjection(bson.M{"_id": 1})

	cursor, err := i.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, HandleMongoError(err, "payment index")
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode payment index: %w", err)
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
