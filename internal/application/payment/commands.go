package payment

import (
	"strings"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/payment"
)

// InitiateCommand starts a payment. A repeated PaymentID returns the existing payment.
type InitiateCommand struct {
	PaymentID string         `json:"paymentId,omitempty"`
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	Method    payment.Method `json:"method"`
	PayerID   string         `json:"payerId"`
	Reference string         `json:"reference,omitempty"`
}

func (c InitiateCommand) validate() error {
	if err := appcore.ValidatePositiveAmount("amount", c.Amount); err != nil {
		return err
	}
	if err := appcore.ValidateCurrency("currency", c.Currency); err != nil {
		return err
	}
	if !c.Method.Valid() {
		return appcore.NewValidationError("method", "must be one of: mobile_money, card, bank_transfer")
	}
	if err := appcore.ValidateRequired("payerId", strings.TrimSpace(c.PayerID)); err != nil {
		return err
	}
	return appcore.ValidateMaxLength("reference", c.Reference, 128)
}

// RefundCommand requests a (partial) refund of a completed payment.
type RefundCommand struct {
	PaymentID string `json:"-"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason,omitempty"`
}

func (c RefundCommand) validate() error {
	if err := appcore.ValidateRequired("paymentId", c.PaymentID); err != nil {
		return err
	}
	return appcore.ValidatePositiveAmount("amount", c.Amount)
}

// Result is the state of a payment after a saga operation.
type Result struct {
	Payment payment.State `json:"payment"`
	Version int           `json:"version"`
	// AlreadyTerminal is set when confirm found the payment past its in-flight states.
	AlreadyTerminal bool `json:"alreadyTerminal,omitempty"`
	// Attempts is the number of provider calls the step used.
	Attempts int `json:"attempts,omitempty"`
}

// RefundResult is the outcome of a refund.
type RefundResult struct {
	Result

	RefundID  string `json:"refundId"`
	Succeeded bool   `json:"succeeded"`
}
