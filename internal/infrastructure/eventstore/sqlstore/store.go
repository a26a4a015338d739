// Package sqlstore is a database/sql event journal with sqlite and postgres dialects.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/infrastructure/eventstore"
)

// Store implements appcore.EventStore and appcore.Outbox on a SQL database.
type Store struct {
	db         *sql.DB
	dialect    Dialect
	serializer *eventstore.EventSerializer
	logger     *slog.Logger
	withOutbox bool
	maxConns   int
	now        func() time.Time
}

// Option configures Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithOutbox writes an outbox row per appended event in the append transaction.
func WithOutbox(enabled bool) Option {
	return func(s *Store) {
		s.withOutbox = enabled
	}
}

// WithMaxOpenConns caps the connection pool. Ignored by sqlite, which keeps a
// single writer connection.
func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		s.maxConns = n
	}
}

// New wraps an open database.
func New(db *sql.DB, dialect Dialect, serializer *eventstore.EventSerializer, opts ...Option) *Store {
	s := &Store{
		db:         db,
		dialect:    dialect,
		serializer: serializer,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxConns > 0 && dialect.Name() != (SQLite{}).Name() {
		db.SetMaxOpenConns(s.maxConns)
	}
	return s
}

// OpenSQLite opens (creating if needed) a sqlite journal at path and migrates it.
func OpenSQLite(
	ctx context.Context,
	path string,
	serializer *eventstore.EventSerializer,
	opts ...Option,
) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single writer connection: appends serialize on the pool instead of failing busy.
	db.SetMaxOpenConns(1)

	return open(ctx, db, SQLite{}, serializer, opts...)
}

// OpenPostgres connects to postgres and migrates the schema.
func OpenPostgres(
	ctx context.Context,
	dsn string,
	serializer *eventstore.EventSerializer,
	opts ...Option,
) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	return open(ctx, db, Postgres{}, serializer, opts...)
}

func open(
	ctx context.Context,
	db *sql.DB,
	dialect Dialect,
	serializer *eventstore.EventSerializer,
	opts ...Option,
) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect.Name(), err)
	}
	if err := Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return New(db, dialect, serializer, opts...), nil
}

// Close closes the database. Nil-safe.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the connection (health checks).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveEvents appends events atomically. The (stream_id, version) primary key
// rejects the loser of two concurrent appends at the same version.
func (s *Store) SaveEvents(
	ctx context.Context,
	streamID string,
	events []event.DomainEvent,
	expectedVersion int,
) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := appcore.ValidateBatch(streamID, events, expectedVersion); err != nil {
		return 0, err
	}

	records, err := s.serializer.SerializeMany(events)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx,
		s.dialect.Rebind("SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = ?"),
		streamID,
	).Scan(&current)
	if err != nil {
		return 0, s.conflictOr(streamID, fmt.Errorf("read stream version: %w", err), err)
	}
	if current != expectedVersion {
		s.logger.WarnContext(ctx, "concurrency conflict in event store",
			slog.String("stream_id", streamID),
			slog.Int("expected_version", expectedVersion),
			slog.Int("current_version", current),
		)
		return current, fmt.Errorf("%w: stream %s at version %d, expected %d",
			appcore.ErrConcurrencyConflict, streamID, current, expectedVersion)
	}
	if len(records) == 0 {
		return current, nil
	}

	createdAt := s.now().UnixMilli()
	for _, rec := range records {
		meta, errMeta := json.Marshal(rec.Metadata)
		if errMeta != nil {
			return 0, fmt.Errorf("marshal metadata: %w", errMeta)
		}
		if _, err = tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO events
    (stream_id, version, aggregate_type, event_type, payload, metadata, occurred_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			rec.StreamID, rec.Version, rec.AggregateType, rec.EventType,
			string(rec.Payload), string(meta), rec.OccurredAt.UnixMilli(), createdAt,
		); err != nil {
			return 0, s.conflictOr(streamID, fmt.Errorf("insert event %d: %w", rec.Version, err), err)
		}

		if s.withOutbox {
			if err = s.insertOutbox(ctx, tx, rec, meta, createdAt); err != nil {
				return 0, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, s.conflictOr(streamID, fmt.Errorf("commit append: %w", err), err)
	}

	return expectedVersion + len(records), nil
}

func (s *Store) conflictOr(streamID string, wrapped, cause error) error {
	if s.dialect.IsConflict(cause) {
		return fmt.Errorf("%w: stream %s: %w", appcore.ErrConcurrencyConflict, streamID, cause)
	}
	return wrapped
}

// ReadEvents streams rows lazily; the result set is closed when iteration stops.
func (s *Store) ReadEvents(
	ctx context.Context,
	streamID string,
	fromVersion int,
) iter.Seq2[event.DomainEvent, error] {
	return func(yield func(event.DomainEvent, error) bool) {
		rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT
    stream_id, version, aggregate_type, event_type, payload, metadata, occurred_at
FROM events
WHERE stream_id = ? AND version > ?
ORDER BY version ASC`), streamID, fromVersion)
		if err != nil {
			yield(nil, fmt.Errorf("query events: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			evt, errScan := s.scanEvent(rows)
			if errScan != nil {
				yield(nil, errScan)
				return
			}
			if !yield(evt, nil) {
				return
			}
		}
		if errRows := rows.Err(); errRows != nil {
			yield(nil, fmt.Errorf("iterate events: %w", errRows))
		}
	}
}

func (s *Store) scanEvent(rows *sql.Rows) (event.DomainEvent, error) {
	var (
		rec        eventstore.Record
		payload    string
		meta       string
		occurredAt int64
	)
	if err := rows.Scan(&rec.StreamID, &rec.Version, &rec.AggregateType, &rec.EventType,
		&payload, &meta, &occurredAt); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s@%d: %w", rec.StreamID, rec.Version, err)
	}
	rec.Payload = []byte(payload)
	rec.OccurredAt = time.UnixMilli(occurredAt).UTC()

	return s.serializer.Deserialize(rec)
}

// LoadEvents loads the full stream.
func (s *Store) LoadEvents(ctx context.Context, streamID string) ([]event.DomainEvent, error) {
	events, err := appcore.CollectEvents(s.ReadEvents(ctx, streamID, 0))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, appcore.ErrAggregateNotFound
	}
	return events, nil
}

// GetVersion returns the stream version (0 if absent).
func (s *Store) GetVersion(ctx context.Context, streamID string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		s.dialect.Rebind("SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = ?"),
		streamID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read stream version: %w", err)
	}
	return version, nil
}

// StreamIDs lists the streams of an aggregate type.
func (s *Store) StreamIDs(ctx context.Context, aggregateType string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.Rebind("SELECT DISTINCT stream_id FROM events WHERE aggregate_type = ? ORDER BY stream_id"),
		aggregateType,
	)
	if err != nil {
		return nil, fmt.Errorf("query stream ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stream id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
