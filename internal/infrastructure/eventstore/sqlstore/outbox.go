package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/event"
	"github.com/lllypuk/estately/internal/domain/uuid"
	"github.com/lllypuk/estately/internal/infrastructure/eventstore"
)

const maxErrorLength = 1000

func (s *Store) insertOutbox(ctx context.Context, tx *sql.Tx, rec eventstore.Record, meta []byte, createdAt int64) error {
	_, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO outbox
    (id, stream_id, version, aggregate_type, event_type, payload, metadata, occurred_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewSortable().String(), rec.StreamID, rec.Version, rec.AggregateType, rec.EventType,
		string(rec.Payload), string(meta), rec.OccurredAt.UnixMilli(), createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry for %s@%d: %w", rec.StreamID, rec.Version, err)
	}
	return nil
}

// AddBatch inserts outbox entries outside of an append (re-publication).
func (s *Store) AddBatch(ctx context.Context, events []event.DomainEvent) error {
	records, err := s.serializer.SerializeMany(events)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := s.now().UnixMilli()
	for _, rec := range records {
		meta, errMeta := json.Marshal(rec.Metadata)
		if errMeta != nil {
			return fmt.Errorf("marshal metadata: %w", errMeta)
		}
		if err = s.insertOutbox(ctx, tx, rec, meta, createdAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Poll returns unprocessed entries, oldest first.
func (s *Store) Poll(ctx context.Context, batchSize int) ([]appcore.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT
    id, stream_id, version, aggregate_type, event_type, payload, metadata,
    occurred_at, created_at, retry_count, last_error
FROM outbox
WHERE processed_at IS NULL
ORDER BY created_at ASC, id ASC
LIMIT ?`), batchSize)
	if err != nil {
		return nil, fmt.Errorf("poll outbox: %w", err)
	}
	defer rows.Close()

	var entries []appcore.OutboxEntry
	for rows.Next() {
		var (
			entry                 appcore.OutboxEntry
			payload, meta         string
			occurredAt, createdAt int64
		)
		if err = rows.Scan(&entry.ID, &entry.AggregateID, &entry.Version, &entry.AggregateType,
			&entry.EventType, &payload, &meta, &occurredAt, &createdAt,
			&entry.RetryCount, &entry.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		if err = json.Unmarshal([]byte(meta), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("decode outbox metadata %s: %w", entry.ID, err)
		}
		entry.Payload = []byte(payload)
		entry.OccurredAt = time.UnixMilli(occurredAt).UTC()
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkProcessed marks an entry as published.
func (s *Store) MarkProcessed(ctx context.Context, entryID string) error {
	_, err := s.db.ExecContext(ctx,
		s.dialect.Rebind("UPDATE outbox SET processed_at = ? WHERE id = ?"),
		s.now().UnixMilli(), entryID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox entry processed: %w", err)
	}
	return nil
}

// MarkFailed bumps the retry counter and records the error.
func (s *Store) MarkFailed(ctx context.Context, entryID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
		if len(msg) > maxErrorLength {
			msg = msg[:maxErrorLength]
		}
	}
	_, err := s.db.ExecContext(ctx,
		s.dialect.Rebind("UPDATE outbox SET retry_count = retry_count + 1, last_error = ? WHERE id = ?"),
		msg, entryID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox entry failed: %w", err)
	}
	return nil
}

// Cleanup removes processed entries older than olderThan.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		s.dialect.Rebind("DELETE FROM outbox WHERE processed_at IS NOT NULL AND processed_at < ?"),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns the pending count and the oldest pending entry time.
func (s *Store) Stats(ctx context.Context) (int64, time.Time, error) {
	var (
		count  int64
		oldest sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1), MIN(created_at) FROM outbox WHERE processed_at IS NULL",
	).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("outbox stats: %w", err)
	}
	if !oldest.Valid {
		return count, time.Time{}, nil
	}
	return count, time.UnixMilli(oldest.Int64).UTC(), nil
}
