package payment

import (
	"context"
	"errors"
	"time"

	"github.com/lllypuk/estately/internal/domain/payment"
)

// ErrIndexEntryNotFound is returned by PaymentIndex lookups that match nothing.
var ErrIndexEntryNotFound = errors.New("payment index entry not found")

// RetryScheduler runs op with bounded retries and returns how many attempts ran.
// Exhaustion wraps appcore.ErrRetriesExhausted.
type RetryScheduler interface {
	Do(ctx context.Context, name string, op func(ctx context.Context) error) (int, error)
}

// IndexEntry is the lookup view of one payment.
type IndexEntry struct {
	PaymentID   string         `json:"paymentId" bson:"_id"`
	Method      payment.Method `json:"method" bson:"method"`
	ProviderRef string         `json:"providerRef,omitempty" bson:"provider_ref,omitempty"`
	Status      payment.Status `json:"status" bson:"status"`
	ExpiresAt   time.Time      `json:"expiresAt" bson:"expires_at"`
	// PendingRefunds counts refunds still waiting for the provider.
	PendingRefunds int `json:"pendingRefunds,omitempty" bson:"pending_refunds"`
	Version        int `json:"version" bson:"version"`
}

// EntryFromState builds the index entry for a projected payment.
func EntryFromState(s payment.State, version int) IndexEntry {
	return IndexEntry{
		PaymentID:      s.PaymentID,
		Method:         s.Method,
		ProviderRef:    s.ProviderRef,
		Status:         s.Status,
		ExpiresAt:      s.ExpiresAt,
		PendingRefunds: len(s.PendingRefunds),
		Version:        version,
	}
}

// PaymentIndex resolves payments by provider reference and finds the ones the
// sweeper has to settle.
// It is a derived view kept current by materialization and may lag the log.
type PaymentIndex interface {
	// Upsert stores entry unless a newer version is already stored.
	Upsert(ctx context.Context, entry IndexEntry) error
	FindByProviderRef(ctx context.Context, providerRef string) (IndexEntry, error)
	// OverdueBefore lists PENDING and PROCESSING payments whose horizon is not after now.
	OverdueBefore(ctx context.Context, now time.Time, limit int) ([]string, error)
	// WithPendingRefunds lists payments holding at least one unfinished refund.
	WithPendingRefunds(ctx context.Context, limit int) ([]string, error)
}

// DedupeStore remembers processed webhook keys.
type DedupeStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// SagaMetrics receives saga outcomes.
type SagaMetrics interface {
	ObserveOutcome(operation, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOutcome(string, string) {}
