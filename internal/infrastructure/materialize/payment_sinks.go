package materialize

import (
	"context"
	"fmt"
	"log/slog"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
	"github.com/lllypuk/estately/internal/domain/payment"
)

// Payment sink names.
const (
	SinkPaymentEffects = "payment_effects"
	SinkPaymentIndex   = "payment_index"
)

// FeeSettler books the fees of a completed payment. Calls with the same key
// must settle once.
type FeeSettler interface {
	Settle(ctx context.Context, key string, p payment.State) error
}

// Notifier tells the payer a payment completed. Calls with the same key must
// notify once.
type Notifier interface {
	NotifyCompleted(ctx context.Context, key string, p payment.State) error
}

// PaymentEffectsSink runs the side effects of a completed payment.
type PaymentEffectsSink struct {
	settler  FeeSettler
	notifier Notifier
}

// NewPaymentEffectsSink creates the effects sink. Either collaborator may be nil.
func NewPaymentEffectsSink(settler FeeSettler, notifier Notifier) *PaymentEffectsSink {
	return &PaymentEffectsSink{settler: settler, notifier: notifier}
}

// Name implements Sink.
func (s *PaymentEffectsSink) Name() string { return SinkPaymentEffects }

// Materialize implements Sink. Effects are keyed by paymentID:version of
// PAYMENT_COMPLETED, so a replay after a partial failure repeats nothing
// that already succeeded.
func (s *PaymentEffectsSink) Materialize(ctx context.Context, m Materialization) error {
	state, ok := m.State.(payment.State)
	if !ok {
		return fmt.Errorf("payment effects: unexpected state %T", m.State)
	}
	if !completedIn(m, state) {
		return nil
	}

	key := fmt.Sprintf("%s:%d", m.StreamID, state.CompletedVersion)
	if s.settler != nil {
		if err := s.settler.Settle(ctx, key, state); err != nil {
			return fmt.Errorf("fee settlement: %w", err)
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyCompleted(ctx, key, state); err != nil {
			return fmt.Errorf("completion notice: %w", err)
		}
	}
	return nil
}

func completedIn(m Materialization, state payment.State) bool {
	if state.CompletedVersion == 0 {
		return false
	}
	if len(m.Events) == 0 {
		// repair replay
		return true
	}
	for _, evt := range m.Events {
		if evt.EventType() == payment.EventTypeCompleted {
			return true
		}
	}
	return false
}

// PaymentIndexSink keeps the provider reference index current.
type PaymentIndexSink struct {
	index apppayment.PaymentIndex
}

// NewPaymentIndexSink creates the index sink.
func NewPaymentIndexSink(index apppayment.PaymentIndex) *PaymentIndexSink {
	return &PaymentIndexSink{index: index}
}

// Name implements Sink.
func (s *PaymentIndexSink) Name() string { return SinkPaymentIndex }

// Materialize implements Sink.
func (s *PaymentIndexSink) Materialize(ctx context.Context, m Materialization) error {
	state, ok := m.State.(payment.State)
	if !ok {
		return fmt.Errorf("payment index: unexpected state %T", m.State)
	}
	return s.index.Upsert(ctx, apppayment.EntryFromState(state, m.Version))
}

// LogNotifier records completion notices in the structured log. The dedupe
// store keeps redelivered keys from producing a second notice.
type LogNotifier struct {
	logger *slog.Logger
	dedupe apppayment.DedupeStore
}

// NewLogNotifier creates a log notifier.
func NewLogNotifier(logger *slog.Logger, dedupe apppayment.DedupeStore) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger, dedupe: dedupe}
}

// NotifyCompleted implements Notifier.
func (n *LogNotifier) NotifyCompleted(ctx context.Context, key string, p payment.State) error {
	dedupeKey := "notice:" + key
	seen, err := n.dedupe.Seen(ctx, dedupeKey)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	n.logger.InfoContext(ctx, "payment completed",
		slog.String("payment_id", p.PaymentID),
		slog.String("payer_id", p.PayerID),
		slog.Int64("amount", p.Amount),
		slog.String("currency", p.Currency),
		slog.String("idempotency_key", key),
	)
	return n.dedupe.Mark(ctx, dedupeKey)
}
