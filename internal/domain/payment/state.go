package payment

import (
	"maps"
	"time"

	"github.com/lllypuk/estately/internal/domain/event"
)

// Fees разбивка комиссий в минорных единицах
type Fees struct {
	Platform   int64 `json:"platform" bson:"platform"`
	Processing int64 `json:"processing" bson:"processing"`
	Provider   int64 `json:"provider" bson:"provider"`
	Total      int64 `json:"total" bson:"total"`
}

// NewFees builds a breakdown with its total.
func NewFees(platform, processing, provider int64) Fees {
	return Fees{
		Platform:   platform,
		Processing: processing,
		Provider:   provider,
		Total:      platform + processing + provider,
	}
}

// State состояние платежа, восстановленное из событий
type State struct {
	PaymentID             string            `json:"paymentId" bson:"_id"`
	Status                Status            `json:"status" bson:"status"`
	Amount                int64             `json:"amount" bson:"amount"`
	Currency              string            `json:"currency" bson:"currency"`
	Method                Method            `json:"method" bson:"method"`
	PayerID               string            `json:"payerId" bson:"payer_id"`
	Reference             string            `json:"reference,omitempty" bson:"reference,omitempty"`
	Fees                  Fees              `json:"fees" bson:"fees"`
	ProviderRef           string            `json:"providerRef,omitempty" bson:"provider_ref,omitempty"`
	ProviderTransactionID string            `json:"providerTransactionId,omitempty" bson:"provider_transaction_id,omitempty"`
	CompletedVersion      int               `json:"completedVersion,omitempty" bson:"completed_version,omitempty"`
	Instructions          map[string]string `json:"instructions,omitempty" bson:"instructions,omitempty"`
	AttemptCount          int               `json:"attemptCount" bson:"attempt_count"`
	ExpiresAt             time.Time         `json:"expiresAt" bson:"expires_at"`
	Refunded              int64             `json:"refunded" bson:"refunded"`
	PendingRefunds        map[string]int64  `json:"pendingRefunds,omitempty" bson:"pending_refunds,omitempty"`
	FailureReason         string            `json:"failureReason,omitempty" bson:"failure_reason,omitempty"`
	FailureStage          Stage             `json:"failureStage,omitempty" bson:"failure_stage,omitempty"`
	RetriesExhausted      bool              `json:"retriesExhausted" bson:"retries_exhausted"`
	CreatedAt             time.Time         `json:"createdAt" bson:"created_at"`
	UpdatedAt             time.Time         `json:"updatedAt" bson:"updated_at"`
}

// Exists reports whether the payment was initiated.
func (s State) Exists() bool {
	return s.Status != ""
}

// PayerTotal is the amount charged to the payer.
func (s State) PayerTotal() int64 {
	return s.Amount + s.Fees.Total
}

// RefundableAmount is what may still be refunded, counting in-flight refunds.
func (s State) RefundableAmount() int64 {
	remaining := s.Amount - s.Refunded
	for _, amount := range s.PendingRefunds {
		remaining -= amount
	}
	return max(remaining, 0)
}

// ExpiredAt reports whether a pending payment is past its horizon at now.
func (s State) ExpiredAt(now time.Time) bool {
	return s.Status == StatusPending && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Overdue reports whether an in-flight payment, PENDING or PROCESSING, is past its horizon.
func (s State) Overdue(now time.Time) bool {
	return s.Status.InFlight() && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Definition projects payment streams.
type Definition struct{}

// AggregateType returns the payment stream type.
func (Definition) AggregateType() string {
	return AggregateType
}

// Initial returns the state before PAYMENT_INITIATED.
func (Definition) Initial(streamID string) State {
	return State{PaymentID: streamID}
}

// Apply folds one event. Events whose transition the graph does not allow are
// skipped: stored history is trusted, commands are where rules are enforced.
func (Definition) Apply(s State, evt event.DomainEvent) State {
	switch e := evt.(type) {
	case *Initiated:
		if !CanTransition(s.Status, StatusPending) {
			return s
		}
		s.Status = StatusPending
		s.Amount = e.Amount
		s.Currency = e.Currency
		s.Method = e.Method
		s.PayerID = e.PayerID
		s.Reference = e.Reference
		s.Fees = e.Fees
		s.ExpiresAt = e.ExpiresAt
		s.CreatedAt = e.OccurredAt()
	case *Processing:
		if !CanTransition(s.Status, StatusProcessing) {
			return s
		}
		s.Status = StatusProcessing
		s.ProviderRef = e.ProviderRef
		s.Instructions = maps.Clone(e.Instructions)
		s.AttemptCount = e.Attempts
	case *Completed:
		if !CanTransition(s.Status, StatusCompleted) {
			return s
		}
		s.Status = StatusCompleted
		s.ProviderTransactionID = e.ProviderTransactionID
		s.CompletedVersion = e.Version()
	case *Failed:
		if !CanTransition(s.Status, StatusFailed) {
			return s
		}
		s.Status = StatusFailed
		s.FailureReason = e.Reason
		s.FailureStage = e.Stage
		s.RetriesExhausted = e.RetriesExhausted
		if e.Stage == StageInitiation {
			s.AttemptCount = e.Attempts
		}
	case *Cancelled:
		if !CanTransition(s.Status, StatusCancelled) {
			return s
		}
		s.Status = StatusCancelled
		s.FailureReason = e.Reason
	case *RefundInitiated:
		if !s.Status.Refundable() {
			return s
		}
		s.PendingRefunds = maps.Clone(s.PendingRefunds)
		if s.PendingRefunds == nil {
			s.PendingRefunds = make(map[string]int64)
		}
		s.PendingRefunds[e.RefundID] = e.Amount
	case *RefundCompleted:
		amount, ok := s.PendingRefunds[e.RefundID]
		if !ok {
			return s
		}
		s.PendingRefunds = withoutRefund(s.PendingRefunds, e.RefundID)
		s.Refunded += amount
		if s.Refunded >= s.Amount {
			s.Status = StatusRefunded
		} else {
			s.Status = StatusPartiallyRefunded
		}
	case *RefundFailed:
		if _, ok := s.PendingRefunds[e.RefundID]; !ok {
			return s
		}
		s.PendingRefunds = withoutRefund(s.PendingRefunds, e.RefundID)
	default:
		return s
	}

	s.UpdatedAt = evt.OccurredAt()
	return s
}

func withoutRefund(pending map[string]int64, refundID string) map[string]int64 {
	out := maps.Clone(pending)
	delete(out, refundID)
	if len(out) == 0 {
		return nil
	}
	return out
}
