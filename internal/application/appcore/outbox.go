// Package appcore provides core application interfaces and shared utilities.
package appcore

import (
	"context"
	"time"

	"github.com/lllypuk/estately/internal/domain/event"
)

// OutboxEntry represents a committed event waiting to be published to the event bus.
type OutboxEntry struct {
	ID            string
	EventType     string
	AggregateID   string
	AggregateType string
	Version       int
	Metadata      event.Metadata
	Payload       []byte
	OccurredAt    time.Time
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     string
}

// Outbox defines the interface for transactional outbox operations.
// Event stores add entries in the same transaction as the append, then the
// outbox worker publishes them asynchronously.
type Outbox interface {
	// AddBatch inserts entries for the given events. When ctx carries a store
	// transaction the insert participates in it.
	AddBatch(ctx context.Context, events []event.DomainEvent) error

	// Poll retrieves unprocessed entries up to the specified batch size, oldest first.
	Poll(ctx context.Context, batchSize int) ([]OutboxEntry, error)

	// MarkProcessed marks an entry as successfully published.
	MarkProcessed(ctx context.Context, entryID string) error

	// MarkFailed records a publishing failure for retry.
	MarkFailed(ctx context.Context, entryID string, err error) error

	// Cleanup removes processed entries older than the specified duration.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)

	// Stats returns the number of unprocessed entries and the oldest one's creation time.
	Stats(ctx context.Context) (count int64, oldest time.Time, err error)
}
