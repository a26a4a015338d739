package eventstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/event"
)

// EventDocument represents an event document in MongoDB
type EventDocument struct {
	ID bson.ObjectID `bson:"_id,omitempty"`

	AggregateID   string                `bson:"aggregate_id"`
	AggregateType string                `bson:"aggregate_type"`
	EventType     string                `bson:"event_type"`
	Version       int                   `bson:"version"`
	Data          bson.M                `bson:"data"`
	Metadata      EventMetadataDocument `bson:"metadata"`
	OccurredAt    time.Time             `bson:"occurred_at"`
	CreatedAt     time.Time             `bson:"created_at"`
}

// EventMetadataDocument represents event metadata in MongoDB
type EventMetadataDocument struct {
	Timestamp     time.Time `bson:"timestamp"`
	UserID        string    `bson:"user_id,omitempty"`
	CorrelationID string    `bson:"correlation_id,omitempty"`
	CausationID   string    `bson:"causation_id,omitempty"`
	Source        string    `bson:"source,omitempty"`
}

// MongoEventStore реализует EventStore с использованием MongoDB
type MongoEventStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	serializer *EventSerializer
	outbox     appcore.Outbox
	logger     *slog.Logger
}

// Option configures MongoEventStore.
type Option func(*MongoEventStore)

// WithLogger sets the logger for event store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *MongoEventStore) {
		s.logger = logger
	}
}

// WithOutbox writes an outbox entry per event inside the append transaction.
func WithOutbox(outbox appcore.Outbox) Option {
	return func(s *MongoEventStore) {
		s.outbox = outbox
	}
}

// NewMongoEventStore создает новый MongoDB Event Store
func NewMongoEventStore(
	client *mongo.Client,
	collection *mongo.Collection,
	serializer *EventSerializer,
	opts ...Option,
) *MongoEventStore {
	s := &MongoEventStore{
		client:     client,
		collection: collection,
		serializer: serializer,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SaveEvents добавляет события в поток с оптимистичной блокировкой
func (s *MongoEventStore) SaveEvents(
	ctx context.Context,
	streamID string,
	events []event.DomainEvent,
	expectedVersion int,
) (int, error) {
	if err := appcore.ValidateBatch(streamID, events, expectedVersion); err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return s.checkVersion(ctx, streamID, expectedVersion)
	}

	documents, err := s.toDocuments(events)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to serialize events",
			slog.String("stream_id", streamID),
			slog.Int("events_count", len(events)),
			slog.String("error", err.Error()),
		)
		return 0, err
	}

	// Запускаем сессию для транзакции
	session, err := s.client.StartSession()
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		// 1. Проверяем текущую версию (оптимистичная блокировка)
		if _, errVersion := s.checkVersion(txCtx, streamID, expectedVersion); errVersion != nil {
			return nil, errVersion
		}

		// 2. Вставляем события (bulk); уникальный индекс (aggregate_id, version)
		// ловит гонку двух транзакций с одинаковой версией
		if _, errInsert := s.collection.InsertMany(txCtx, documents); errInsert != nil {
			if mongo.IsDuplicateKeyError(errInsert) {
				return nil, fmt.Errorf("%w: stream %s", appcore.ErrConcurrencyConflict, streamID)
			}
			return nil, fmt.Errorf("failed to insert events: %w", errInsert)
		}

		// 3. Outbox в той же транзакции
		if s.outbox != nil {
			if errOutbox := s.outbox.AddBatch(txCtx, events); errOutbox != nil {
				return nil, fmt.Errorf("failed to write outbox: %w", errOutbox)
			}
		}

		return nil, nil //nolint:nilnil // Transaction success returns nil for both values
	})

	if err != nil {
		if errors.Is(err, appcore.ErrConcurrencyConflict) {
			s.logger.WarnContext(ctx, "concurrency conflict in event store",
				slog.String("stream_id", streamID),
				slog.Int("expected_version", expectedVersion),
			)
		} else {
			s.logger.ErrorContext(ctx, "event store transaction failed",
				slog.String("stream_id", streamID),
				slog.Int("events_count", len(events)),
				slog.String("error", err.Error()),
			)
		}
		return 0, err
	}

	return expectedVersion + len(events), nil
}

func (s *MongoEventStore) checkVersion(ctx context.Context, streamID string, expectedVersion int) (int, error) {
	currentVersion, err := s.GetVersion(ctx, streamID)
	if err != nil {
		return 0, err
	}
	if currentVersion != expectedVersion {
		return currentVersion, fmt.Errorf("%w: stream %s at version %d, expected %d",
			appcore.ErrConcurrencyConflict, streamID, currentVersion, expectedVersion)
	}
	return currentVersion, nil
}

func (s *MongoEventStore) toDocuments(events []event.DomainEvent) ([]any, error) {
	records, err := s.serializer.SerializeMany(events)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	docs := make([]any, 0, len(records))
	for _, rec := range records {
		var data bson.M
		if errData := bson.UnmarshalExtJSON(rec.Payload, false, &data); errData != nil {
			return nil, fmt.Errorf("failed to convert %s payload to BSON: %w", rec.EventType, errData)
		}
		docs = append(docs, &EventDocument{
			AggregateID:   rec.StreamID,
			AggregateType: rec.AggregateType,
			EventType:     rec.EventType,
			Version:       rec.Version,
			Data:          data,
			Metadata: EventMetadataDocument{
				Timestamp:     rec.Metadata.Timestamp,
				UserID:        rec.Metadata.UserID,
				CorrelationID: rec.Metadata.CorrelationID,
				CausationID:   rec.Metadata.CausationID,
				Source:        rec.Metadata.Source,
			},
			OccurredAt: rec.OccurredAt,
			CreatedAt:  now,
		})
	}
	return docs, nil
}

// ReadEvents лениво читает события потока курсором, по возрастанию версии
func (s *MongoEventStore) ReadEvents(
	ctx context.Context,
	streamID string,
	fromVersion int,
) iter.Seq2[event.DomainEvent, error] {
	return func(yield func(event.DomainEvent, error) bool) {
		filter := bson.M{"aggregate_id": streamID, "version": bson.M{"$gt": fromVersion}}
		opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})

		cursor, err := s.collection.Find(ctx, filter, opts)
		if err != nil {
			yield(nil, fmt.Errorf("failed to find events: %w", err))
			return
		}
		defer cursor.Close(ctx)

		for cursor.Next(ctx) {
			var doc EventDocument
			if errDecode := cursor.Decode(&doc); errDecode != nil {
				yield(nil, fmt.Errorf("failed to decode event: %w", errDecode))
				return
			}
			evt, errEvent := s.fromDocument(&doc)
			if errEvent != nil {
				yield(nil, errEvent)
				return
			}
			if !yield(evt, nil) {
				return
			}
		}
		if errCursor := cursor.Err(); errCursor != nil {
			yield(nil, fmt.Errorf("event cursor failed: %w", errCursor))
		}
	}
}

func (s *MongoEventStore) fromDocument(doc *EventDocument) (event.DomainEvent, error) {
	payload, err := bson.MarshalExtJSON(doc.Data, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal BSON to JSON: %w", err)
	}

	return s.serializer.Deserialize(Record{
		StreamID:      doc.AggregateID,
		AggregateType: doc.AggregateType,
		EventType:     doc.EventType,
		Version:       doc.Version,
		Payload:       payload,
		Metadata: event.Metadata{
			UserID:        doc.Metadata.UserID,
			CorrelationID: doc.Metadata.CorrelationID,
			CausationID:   doc.Metadata.CausationID,
			Source:        doc.Metadata.Source,
			Timestamp:     doc.Metadata.Timestamp,
		},
		OccurredAt: doc.OccurredAt,
	})
}

// LoadEvents загружает все события потока
func (s *MongoEventStore) LoadEvents(ctx context.Context, streamID string) ([]event.DomainEvent, error) {
	events, err := appcore.CollectEvents(s.ReadEvents(ctx, streamID, 0))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load events from event store",
			slog.String("stream_id", streamID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if len(events) == 0 {
		return nil, appcore.ErrAggregateNotFound
	}
	return events, nil
}

// GetVersion возвращает текущую версию потока
func (s *MongoEventStore) GetVersion(ctx context.Context, streamID string) (int, error) {
	filter := bson.M{"aggregate_id": streamID}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "version", Value: -1}}).
		SetProjection(bson.M{"version": 1})

	var doc EventDocument
	err := s.collection.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}

	return doc.Version, nil
}

// StreamIDs возвращает ID потоков заданного типа
func (s *MongoEventStore) StreamIDs(ctx context.Context, aggregateType string) ([]string, error) {
	result := s.collection.Distinct(ctx, "aggregate_id", bson.M{"aggregate_type": aggregateType})

	var ids []string
	if err := result.Decode(&ids); err != nil {
		return nil, fmt.Errorf("failed to decode stream IDs: %w", err)
	}
	return ids, nil
}
