package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// DefaultPaginationLimit is used when the caller passes no limit.
const DefaultPaginationLimit = 50

// listDocuments выполняет общую логику получения списка документов с пагинацией.
// T - тип документа для декодирования, R - тип результата.
// Документы, которые не удалось декодировать, пропускаются.
func listDocuments[T any, R any](
	ctx context.Context,
	collection *mongo.Collection,
	filter bson.M,
	offset, limit int,
	sortField string,
	decoder func(*T) (R, error),
	collectionName string,
) ([]R, error) {
	limit = DefaultLimit(limit, DefaultPaginationLimit)

	cursor, err := collection.Find(ctx, filter, FindWithPagination(offset, limit, sortField, -1))
	if err != nil {
		return nil, HandleMongoError(err, collectionName)
	}
	defer cursor.Close(ctx)

	results := make([]R, 0, limit)
	for cursor.Next(ctx) {
		var doc T
		if decodeErr := cursor.Decode(&doc); decodeErr != nil {
			continue
		}
		item, docErr := decoder(&doc)
		if docErr != nil {
			continue
		}
		results = append(results, item)
	}
	if err = cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return results, nil
}
