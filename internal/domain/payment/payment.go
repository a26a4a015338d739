// Package payment models the payment lifecycle as an event-sourced aggregate.
package payment

import (
	"fmt"
	"maps"
	"time"

	"github.com/lllypuk/estately/internal/domain/errs"
	"github.com/lllypuk/estately/internal/domain/event"
)

// ReasonExpired is recorded on PAYMENT_CANCELLED raised by expiry.
const ReasonExpired = "expired"

var (
	ErrInvalidAmount           = fmt.Errorf("%w: amount must be positive", errs.ErrInvalidInput)
	ErrUnsupportedMethod       = fmt.Errorf("%w: unsupported payment method", errs.ErrInvalidInput)
	ErrRefundExceedsRefundable = fmt.Errorf("%w: refund exceeds refundable amount", errs.ErrInvalidInput)
	ErrMissingProviderRef      = fmt.Errorf("%w: provider reference is required", errs.ErrInvalidInput)
	ErrUnknownRefund           = fmt.Errorf("%w: refund", errs.ErrNotFound)
)

// Terms are the immutable terms of a payment fixed at initiation.
type Terms struct {
	Amount    int64
	Currency  string
	Method    Method
	PayerID   string
	Reference string
	Fees      Fees
	ExpiresAt time.Time
}

// Aggregate представляет Payment aggregate: команды валидируют и порождают события
type Aggregate struct {
	def     Definition
	state   State
	version int

	uncommittedEvents []event.DomainEvent
}

// NewAggregate wraps the projected state at version.
func NewAggregate(state State, version int) *Aggregate {
	return &Aggregate{state: state, version: version}
}

// Initiate создает платеж в статусе PENDING
func (a *Aggregate) Initiate(terms Terms, metadata event.Metadata) error {
	if a.state.Exists() {
		return errs.ErrAlreadyExists
	}
	if terms.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !terms.Method.Valid() {
		return ErrUnsupportedMethod
	}

	a.apply(&Initiated{
		BaseEvent: base(EventTypeInitiated, a.state.PaymentID, a.version+1, metadata),
		Amount:    terms.Amount,
		Currency:  terms.Currency,
		Method:    terms.Method,
		PayerID:   terms.PayerID,
		Reference: terms.Reference,
		Fees:      terms.Fees,
		ExpiresAt: terms.ExpiresAt,
	})
	return nil
}

// Acknowledge записывает принятие платежа провайдером (PENDING -> PROCESSING)
func (a *Aggregate) Acknowledge(providerRef string, instructions map[string]string, attempts int, metadata event.Metadata) error {
	if err := a.transitionTo(StatusProcessing); err != nil {
		return err
	}
	if providerRef == "" {
		return ErrMissingProviderRef
	}

	a.apply(&Processing{
		BaseEvent:    base(EventTypeProcessing, a.state.PaymentID, a.version+1, metadata),
		ProviderRef:  providerRef,
		Instructions: maps.Clone(instructions),
		Attempts:     attempts,
	})
	return nil
}

// Complete фиксирует подтвержденную провайдером оплату (PROCESSING -> COMPLETED)
func (a *Aggregate) Complete(providerTransactionID string, metadata event.Metadata) error {
	if err := a.transitionTo(StatusCompleted); err != nil {
		return err
	}

	a.apply(&Completed{
		BaseEvent:             base(EventTypeCompleted, a.state.PaymentID, a.version+1, metadata),
		ProviderRef:           a.state.ProviderRef,
		ProviderTransactionID: providerTransactionID,
	})
	return nil
}

// Fail переводит платеж в FAILED из PENDING или PROCESSING
func (a *Aggregate) Fail(reason string, stage Stage, attempts int, retriesExhausted bool, metadata event.Metadata) error {
	if err := a.transitionTo(StatusFailed); err != nil {
		return err
	}

	a.apply(&Failed{
		BaseEvent:        base(EventTypeFailed, a.state.PaymentID, a.version+1, metadata),
		Reason:           reason,
		Stage:            stage,
		Attempts:         attempts,
		RetriesExhausted: retriesExhausted,
	})
	return nil
}

// Expire отменяет просроченный PENDING платеж. Возвращает true, если событие создано.
func (a *Aggregate) Expire(now time.Time, metadata event.Metadata) bool {
	if !a.state.ExpiredAt(now) {
		return false
	}

	a.apply(&Cancelled{
		BaseEvent: base(EventTypeCancelled, a.state.PaymentID, a.version+1, metadata),
		Reason:    ReasonExpired,
		ExpiresAt: a.state.ExpiresAt,
	})
	return true
}

// RequestRefund резервирует сумму возврата
func (a *Aggregate) RequestRefund(refundID string, amount int64, reason string, metadata event.Metadata) error {
	if !a.state.Exists() {
		return errs.ErrNotFound
	}
	if !a.state.Status.Refundable() {
		return fmt.Errorf("%w: refund from %s", errs.ErrInvalidTransition, a.state.Status)
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > a.state.RefundableAmount() {
		return fmt.Errorf("%w: requested %d, refundable %d",
			ErrRefundExceedsRefundable, amount, a.state.RefundableAmount())
	}

	a.apply(&RefundInitiated{
		BaseEvent: base(EventTypeRefundInitiated, a.state.PaymentID, a.version+1, metadata),
		RefundID:  refundID,
		Amount:    amount,
		Reason:    reason,
	})
	return nil
}

// CompleteRefund фиксирует выполненный возврат
func (a *Aggregate) CompleteRefund(refundID, refundRef string, metadata event.Metadata) error {
	amount, ok := a.state.PendingRefunds[refundID]
	if !ok {
		return ErrUnknownRefund
	}

	a.apply(&RefundCompleted{
		BaseEvent: base(EventTypeRefundCompleted, a.state.PaymentID, a.version+1, metadata),
		RefundID:  refundID,
		Amount:    amount,
		RefundRef: refundRef,
	})
	return nil
}

// FailRefund освобождает зарезервированную сумму возврата
func (a *Aggregate) FailRefund(refundID, reason string, retriesExhausted bool, metadata event.Metadata) error {
	amount, ok := a.state.PendingRefunds[refundID]
	if !ok {
		return ErrUnknownRefund
	}

	a.apply(&RefundFailed{
		BaseEvent:        base(EventTypeRefundFailed, a.state.PaymentID, a.version+1, metadata),
		RefundID:         refundID,
		Amount:           amount,
		Reason:           reason,
		RetriesExhausted: retriesExhausted,
	})
	return nil
}

func (a *Aggregate) transitionTo(next Status) error {
	if !a.state.Exists() {
		return errs.ErrNotFound
	}
	if !CanTransition(a.state.Status, next) {
		return fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, a.state.Status, next)
	}
	return nil
}

func (a *Aggregate) apply(evt event.DomainEvent) {
	a.state = a.def.Apply(a.state, evt)
	a.version = evt.Version()
	a.uncommittedEvents = append(a.uncommittedEvents, evt)
}

// State returns the current state including uncommitted changes.
func (a *Aggregate) State() State {
	return a.state
}

// Version returns the version including uncommitted changes.
func (a *Aggregate) Version() int {
	return a.version
}

// UncommittedEvents возвращает новые события
func (a *Aggregate) UncommittedEvents() []event.DomainEvent {
	return a.uncommittedEvents
}
