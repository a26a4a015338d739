package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/estately/internal/domain/uuid"
)

const defaultBatchSize = 10

// MongoQueue implements Queue using MongoDB.
type MongoQueue struct {
	collection *mongo.Collection
	logger     *slog.Logger
	now        func() time.Time
}

// NewMongoQueue creates a new MongoDB-based repair queue.
func NewMongoQueue(collection *mongo.Collection, logger *slog.Logger) *MongoQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoQueue{
		collection: collection,
		logger:     logger,
		now:        time.Now,
	}
}

// Add implements Queue.
func (q *MongoQueue) Add(ctx context.Context, task Task) error {
	if task.ID == "" {
		task.ID = uuid.NewUUID().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.now()
	}

	filter := bson.M{
		"stream_id":      task.StreamID,
		"aggregate_type": task.AggregateType,
		"sink":           task.Sink,
		"status":         StatusPending,
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			"_id":        task.ID,
			"attempts":   0,
			"created_at": task.CreatedAt,
		},
		"$max": bson.M{"version": task.Version},
		"$set": bson.M{"error": task.Error},
	}

	_, err := q.collection.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to insert repair task: %w", err)
	}

	q.logger.InfoContext(ctx, "added repair task to queue",
		slog.String("stream_id", task.StreamID),
		slog.String("aggregate_type", task.AggregateType),
		slog.String("sink", task.Sink),
		slog.Int("version", task.Version),
	)
	return nil
}

// Claim implements Queue. Each task is claimed with FindOneAndUpdate so two
// workers never process the same task.
func (q *MongoQueue) Claim(ctx context.Context, batchSize int) ([]Task, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	tasks := make([]Task, 0, batchSize)
	for range batchSize {
		update := bson.M{
			"$set": bson.M{"status": StatusProcessing, "last_attempt_at": q.now()},
			"$inc": bson.M{"attempts": 1},
		}

		var task Task
		err := q.collection.FindOneAndUpdate(ctx, bson.M{"status": StatusPending}, update, opts).Decode(&task)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return tasks, fmt.Errorf("failed to claim repair task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// MarkCompleted implements Queue.
func (q *MongoQueue) MarkCompleted(ctx context.Context, taskID string) error {
	return q.setStatus(ctx, taskID, bson.M{
		"status":       StatusCompleted,
		"completed_at": q.now(),
	})
}

// Release implements Queue.
func (q *MongoQueue) Release(ctx context.Context, taskID string, taskErr error) error {
	return q.setStatus(ctx, taskID, bson.M{
		"status": StatusPending,
		"error":  errorText(taskErr),
	})
}

// MarkFailed implements Queue.
func (q *MongoQueue) MarkFailed(ctx context.Context, taskID string, taskErr error) error {
	if err := q.setStatus(ctx, taskID, bson.M{
		"status": StatusFailed,
		"error":  errorText(taskErr),
	}); err != nil {
		return err
	}

	q.logger.WarnContext(ctx, "marked repair task as failed",
		slog.String("task_id", taskID),
		slog.String("error", errorText(taskErr)),
	)
	return nil
}

func (q *MongoQueue) setStatus(ctx context.Context, taskID string, set bson.M) error {
	result, err := q.collection.UpdateOne(ctx, bson.M{"_id": taskID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update repair task: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

// GetStats implements Queue.
func (q *MongoQueue) GetStats(ctx context.Context) (*QueueStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := q.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Status Status `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if decodeErr := cursor.All(ctx, &results); decodeErr != nil {
		return nil, fmt.Errorf("failed to decode queue stats: %w", decodeErr)
	}

	stats := &QueueStats{}
	for _, r := range results {
		stats.add(r.Status, r.Count)
	}
	return stats, nil
}

func (s *QueueStats) add(status Status, n int64) {
	switch status {
	case StatusPending:
		s.PendingCount += n
	case StatusProcessing:
		s.ProcessingCount += n
	case StatusCompleted:
		s.CompletedCount += n
	case StatusFailed:
		s.FailedCount += n
	}
	s.TotalCount += n
}
