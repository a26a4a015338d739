package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lllypuk/estately/internal/application/appcore"
)

// ProviderCallback is an inbound, unordered, possibly duplicated provider notification.
// Its ReportedStatus is a hint: the saga always re-verifies with the provider.
type ProviderCallback struct {
	Provider              string    `json:"provider"`
	ProviderRef           string    `json:"providerRef"`
	ReportedStatus        string    `json:"reportedStatus"`
	ProviderTransactionID string    `json:"providerTransactionId,omitempty"`
	ReceivedAt            time.Time `json:"receivedAt"`
}

// DedupeKey identifies one logical outcome of a provider reference.
func (c ProviderCallback) DedupeKey() string {
	return c.ProviderRef + ":" + c.ReportedStatus
}

// ReconcileOutcome describes what happened to a callback.
type ReconcileOutcome string

const (
	OutcomeConfirmed ReconcileOutcome = "confirmed"
	OutcomePending   ReconcileOutcome = "pending"
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	OutcomeDiscarded ReconcileOutcome = "discarded"
)

// Reconciliation is the result of Reconcile.
type Reconciliation struct {
	Outcome   ReconcileOutcome `json:"outcome"`
	PaymentID string           `json:"paymentId,omitempty"`
	Result    *Result          `json:"result,omitempty"`
}

// Confirmer is the saga entry point callbacks converge on.
type Confirmer interface {
	Confirm(ctx context.Context, paymentID string) (Result, error)
}

// Reconciler translates provider callbacks into at most one transition per outcome.
type Reconciler struct {
	confirmer Confirmer
	index     PaymentIndex
	dedupe    DedupeStore
	lookup    RetryScheduler
	logger    *slog.Logger
}

// NewReconciler creates a reconciler. lookup bounds retries of unknown references,
// which absorbs webhooks that arrive before the acknowledgement is indexed.
func NewReconciler(
	confirmer Confirmer,
	index PaymentIndex,
	dedupe DedupeStore,
	lookup RetryScheduler,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		confirmer: confirmer,
		index:     index,
		dedupe:    dedupe,
		lookup:    lookup,
		logger:    logger,
	}
}

// Reconcile handles one callback. Unknown and settled references are discarded
// with a nil error; only infrastructure and provider failures are returned so the
// queue can redeliver.
func (r *Reconciler) Reconcile(ctx context.Context, cb ProviderCallback) (Reconciliation, error) {
	if err := appcore.ValidateRequired("providerRef", cb.ProviderRef); err != nil {
		return Reconciliation{}, err
	}

	log := r.logger.With(
		slog.String("provider", cb.Provider),
		slog.String("provider_ref", cb.ProviderRef),
		slog.String("reported_status", cb.ReportedStatus),
	)

	key := cb.DedupeKey()
	seen, err := r.dedupe.Seen(ctx, key)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("failed to check webhook dedupe key: %w", err)
	}
	if seen {
		log.DebugContext(ctx, "duplicate webhook skipped")
		return Reconciliation{Outcome: OutcomeDuplicate}, nil
	}

	var entry IndexEntry
	_, err = r.lookup.Do(ctx, "webhook.lookup", func(ctx context.Context) error {
		found, err := r.index.FindByProviderRef(ctx, cb.ProviderRef)
		if err != nil {
			return err
		}
		entry = found
		return nil
	})
	if errors.Is(err, ErrIndexEntryNotFound) {
		log.InfoContext(ctx, "webhook for unknown provider reference discarded")
		return Reconciliation{Outcome: OutcomeDiscarded}, nil
	}
	if err != nil {
		return Reconciliation{}, fmt.Errorf("failed to resolve provider reference: %w", err)
	}
	if !entry.Status.InFlight() {
		log.InfoContext(ctx, "webhook for settled payment discarded",
			slog.String("payment_id", entry.PaymentID),
			slog.String("status", entry.Status.String()),
		)
		return Reconciliation{Outcome: OutcomeDiscarded, PaymentID: entry.PaymentID}, nil
	}

	result, err := r.confirmer.Confirm(ctx, entry.PaymentID)
	if err != nil && !errors.Is(err, ErrProviderExhausted) {
		return Reconciliation{PaymentID: entry.PaymentID}, err
	}

	rec := Reconciliation{PaymentID: entry.PaymentID, Result: &result}
	switch {
	case result.AlreadyTerminal:
		rec.Outcome = OutcomeDiscarded
	case result.Payment.Status.InFlight():
		rec.Outcome = OutcomePending
		log.InfoContext(ctx, "provider still reports payment pending",
			slog.String("payment_id", entry.PaymentID))
		return rec, nil
	default:
		rec.Outcome = OutcomeConfirmed
	}

	if err := r.dedupe.Mark(ctx, key); err != nil {
		// Повторная доставка безопасна: confirm идемпотентен
		log.WarnContext(ctx, "failed to mark webhook processed", slog.String("error", err.Error()))
	}
	log.InfoContext(ctx, "webhook reconciled",
		slog.String("payment_id", entry.PaymentID),
		slog.String("outcome", string(rec.Outcome)),
		slog.String("status", result.Payment.Status.String()),
	)
	return rec, nil
}
