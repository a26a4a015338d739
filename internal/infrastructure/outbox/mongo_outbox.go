// Package outbox stores committed events until the outbox worker has published them.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/domain/uuid"
	"github.com/lllypuk/estately/internal/infrastructure/eventstore"
)

// CollectionName is the default outbox collection.
const CollectionName = "outbox"

const (
	defaultPollBatch = 100
	maxErrorLength   = 1000
)

type outboxDocument struct {
	ID            string         `bson:"_id"`
	StreamID      string         `bson:"stream_id"`
	Version       int            `bson:"version"`
	EventType     string         `bson:"event_type"`
	AggregateType string         `bson:"aggregate_type"`
	Payload       string         `bson:"payload"`
	Metadata      event.Metadata `bson:"metadata"`
	OccurredAt    time.Time      `bson:"occurred_at"`
	CreatedAt     time.Time      `bson:"created_at"`
	ProcessedAt   *time.Time     `bson:"processed_at,omitempty"`
	RetryCount    int            `bson:"retry_count"`
	LastError     string         `bson:"last_error,omitempty"`
}

// MongoOutbox implements appcore.Outbox using MongoDB.
type MongoOutbox struct {
	collection *mongo.Collection
	serializer *eventstore.EventSerializer
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures MongoOutbox.
type Option func(*MongoOutbox)

// WithLogger sets the logger for the outbox.
func WithLogger(logger *slog.Logger) Option {
	return func(o *MongoOutbox) {
		o.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *MongoOutbox) {
		o.now = now
	}
}

// NewMongoOutbox creates a new MongoDB-backed outbox.
func NewMongoOutbox(collection *mongo.Collection, serializer *eventstore.EventSerializer, opts ...Option) *MongoOutbox {
	o := &MongoOutbox{
		collection: collection,
		serializer: serializer,
		logger:     slog.Default(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// AddBatch inserts one entry per event. Inside a store transaction ctx carries
// the session, so the insert commits or aborts together with the append.
func (o *MongoOutbox) AddBatch(ctx context.Context, events []event.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	records, err := o.serializer.SerializeMany(events)
	if err != nil {
		return err
	}

	createdAt := o.now().UTC()
	docs := make([]any, 0, len(records))
	for _, rec := range records {
		docs = append(docs, outboxDocument{
			ID:            uuid.NewSortable().String(),
			StreamID:      rec.StreamID,
			Version:       rec.Version,
			EventType:     rec.EventType,
			AggregateType: rec.AggregateType,
			Payload:       string(rec.Payload),
			Metadata:      rec.Metadata,
			OccurredAt:    rec.OccurredAt,
			CreatedAt:     createdAt,
		})
	}

	if _, err = o.collection.InsertMany(ctx, docs); err != nil {
		o.logger.ErrorContext(ctx, "failed to insert outbox entries",
			slog.Int("count", len(docs)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to insert outbox entries: %w", err)
	}

	o.logger.DebugContext(ctx, "outbox entries added", slog.Int("count", len(docs)))
	return nil
}

// Poll retrieves unprocessed entries, oldest first.
func (o *MongoOutbox) Poll(ctx context.Context, batchSize int) ([]appcore.OutboxEntry, error) {
	if batchSize <= 0 {
		batchSize = defaultPollBatch
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(batchSize))

	cursor, err := o.collection.Find(ctx, bson.M{"processed_at": nil}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to poll outbox: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []appcore.OutboxEntry
	for cursor.Next(ctx) {
		var doc outboxDocument
		if decodeErr := cursor.Decode(&doc); decodeErr != nil {
			o.logger.WarnContext(ctx, "failed to decode outbox entry",
				slog.String("error", decodeErr.Error()),
			)
			continue
		}
		entries = append(entries, doc.toEntry())
	}

	if cursorErr := cursor.Err(); cursorErr != nil {
		return nil, fmt.Errorf("cursor error while polling outbox: %w", cursorErr)
	}

	return entries, nil
}

// MarkProcessed marks an event as successfully published.
func (o *MongoOutbox) MarkProcessed(ctx context.Context, entryID string) error {
	return o.update(ctx, entryID, bson.M{"$set": bson.M{"processed_at": o.now().UTC()}})
}

// MarkFailed records a publishing failure for retry.
func (o *MongoOutbox) MarkFailed(ctx context.Context, entryID string, publishErr error) error {
	msg := ""
	if publishErr != nil {
		msg = publishErr.Error()
		if len(msg) > maxErrorLength {
			msg = msg[:maxErrorLength]
		}
	}
	return o.update(ctx, entryID, bson.M{
		"$inc": bson.M{"retry_count": 1},
		"$set": bson.M{"last_error": msg},
	})
}

func (o *MongoOutbox) update(ctx context.Context, entryID string, update bson.M) error {
	result, err := o.collection.UpdateOne(ctx, bson.M{"_id": entryID}, update)
	if err != nil {
		return fmt.Errorf("failed to update outbox entry %s: %w", entryID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("outbox entry not found: %s", entryID)
	}
	return nil
}

// Cleanup removes processed entries older than the specified duration.
func (o *MongoOutbox) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := o.now().UTC().Add(-olderThan)

	result, err := o.collection.DeleteMany(ctx, bson.M{
		"processed_at": bson.M{"$ne": nil, "$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup outbox: %w", err)
	}

	if result.DeletedCount > 0 {
		o.logger.InfoContext(ctx, "cleaned up old outbox entries",
			slog.Int64("deleted", result.DeletedCount),
			slog.Duration("older_than", olderThan),
		)
	}

	return result.DeletedCount, nil
}

// Stats returns the number of unprocessed entries and the oldest one's creation time.
func (o *MongoOutbox) Stats(ctx context.Context) (int64, time.Time, error) {
	filter := bson.M{"processed_at": nil}

	count, err := o.collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to count unprocessed entries: %w", err)
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}

	var doc outboxDocument
	err = o.collection.FindOne(ctx, filter,
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return count, time.Time{}, nil
	}
	if err != nil {
		return count, time.Time{}, fmt.Errorf("failed to find oldest entry: %w", err)
	}

	return count, doc.CreatedAt, nil
}

func (d *outboxDocument) toEntry() appcore.OutboxEntry {
	return appcore.OutboxEntry{
		ID:            d.ID,
		EventType:     d.EventType,
		AggregateID:   d.StreamID,
		AggregateType: d.AggregateType,
		Version:       d.Version,
		Metadata:      d.Metadata,
		Payload:       []byte(d.Payload),
		OccurredAt:    d.OccurredAt,
		CreatedAt:     d.CreatedAt,
		ProcessedAt:   d.ProcessedAt,
		RetryCount:    d.RetryCount,
		LastError:     d.LastError,
	}
}

var _ appcore.Outbox = (*MongoOutbox)(nil)
