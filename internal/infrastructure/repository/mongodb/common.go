// Package mongodb holds the MongoDB read side: read models, the payment
// index and the fee ledger. All of them are derived from the event log.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/estately/internal/domain/errs"
)

// HandleMongoError преобразует ошибку MongoDB в доменную.
// returns:
//   - nil if err == nil
//   - errs.ErrNotFound if документ не найден
//   - errs.ErrAlreadyExists if нарушен unique constraint
//   - wrapped error для остальных случаев
func HandleMongoError(err error, resourceType string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errs.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return errs.ErrAlreadyExists
	}
	return fmt.Errorf("failed to operate on %s: %w", resourceType, err)
}

// UpsertOptions returns стандартные опции для upsert операции.
func UpsertOptions() *options.UpdateOneOptionsBuilder {
	return options.UpdateOne().SetUpsert(true)
}

// newerVersionFilter matches the document only while its stored version is
// lower than version. Together with upsert this is a compare-and-set: when a
// newer version is stored the upsert collides on _id instead.
func newerVersionFilter(id string, version int) bson.M {
	return bson.M{"_id": id, "version": bson.M{"$lt": version}}
}

// upsertIfNewer runs a version guarded upsert. Returns false when a document at
// the same or a newer version already exists.
func upsertIfNewer(
	ctx context.Context,
	coll *mongo.Collection,
	id string,
	version int,
	set, setOnInsert bson.M,
) (bool, error) {
	update := bson.M{"$set": set}
	if len(setOnInsert) > 0 {
		update["$setOnInsert"] = setOnInsert
	}
	_, err := coll.UpdateOne(ctx, newerVersionFilter(id, version), update, UpsertOptions())
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindWithPagination returns опции для find с пагинацией и сортировкой.
//   - offset: количество документов для пропуска
//   - limit: максимальное количество документов
//   - sortField: поле сортировки
//   - sortOrder: 1 = ASC, -1 = DESC
func FindWithPagination(offset, limit int, sortField string, sortOrder int) *options.FindOptionsBuilder {
	return options.Find().
		SetSort(bson.D{{Key: sortField, Value: sortOrder}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
}

// DefaultLimit returns limit, or defaultLimit when limit <= 0.
func DefaultLimit(limit, defaultLimit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
