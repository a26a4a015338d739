package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/estately/internal/application/query"
)

// ReadModelCollectionPrefix prefixes the collection of every aggregate type.
const ReadModelCollectionPrefix = "readmodel_"

type readModelDocument struct {
	ID        string         `bson:"_id"`
	Version   int            `bson:"version"`
	State     map[string]any `bson:"state"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

// MongoReadModelStore keeps one denormalized document per stream.
type MongoReadModelStore struct {
	db     *mongo.Database
	logger *slog.Logger
	now    func() time.Time
}

// NewMongoReadModelStore creates the store.
func NewMongoReadModelStore(db *mongo.Database, logger *slog.Logger) *MongoReadModelStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoReadModelStore{db: db, logger: logger, now: time.Now}
}

// Collection returns the collection of an aggregate type. Nested documents decode as maps.
func (s *MongoReadModelStore) Collection(aggregateType string) *mongo.Collection {
	return s.db.Collection(ReadModelCollectionPrefix+aggregateType,
		options.Collection().SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true}))
}

// Upsert implements materialize.ReadModelWriter.
func (s *MongoReadModelStore) Upsert(ctx context.Context, aggregateType, streamID string, version int, state any) error {
	now := s.now().UTC()
	stored, err := upsertIfNewer(ctx, s.Collection(aggregateType), streamID, version,
		bson.M{"version": version, "state": state, "updated_at": now},
		bson.M{"created_at": now},
	)
	if err != nil {
		return HandleMongoError(err, "read model")
	}
	if !stored {
		s.logger.DebugContext(ctx, "read model already at newer version",
			slog.String("aggregate_type", aggregateType),
			slog.String("stream_id", streamID),
			slog.Int("version", version),
		)
	}
	return nil
}

// Get returns the stored read model of a stream.
func (s *MongoReadModelStore) Get(ctx context.Context, aggregateType, streamID string) (query.View, error) {
	var doc readModelDocument
	if err := s.Collection(aggregateType).FindOne(ctx, bson.M{"_id": streamID}).Decode(&doc); err != nil {
		return query.View{}, HandleMongoError(err, "read model")
	}
	return toView(aggregateType, &doc), nil
}

// List implements query.Lister, newest streams first.
func (s *MongoReadModelStore) List(ctx context.Context, aggregateType string, offset, limit int) ([]query.View, error) {
	views, err := listDocuments(ctx, s.Collection(aggregateType), bson.M{}, offset, limit, "created_at",
		func(doc *readModelDocument) (query.View, error) {
			return toView(aggregateType, doc), nil
		}, "read model")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s read models: %w", aggregateType, err)
	}
	return views, nil
}

func toView(aggregateType string, doc *readModelDocument) query.View {
	return query.View{Type: aggregateType, ID: doc.ID, Version: doc.Version, State: doc.State}
}
