package payment

import (
	"context"
	"fmt"

	"github.com/lllypuk/estately/internal/domain/payment"
)

// InitiateRequest is what a provider needs to start collecting a payment.
type InitiateRequest struct {
	PaymentID  string
	Amount     int64
	PayerTotal int64
	Currency   string
	Method     payment.Method
	PayerID    string
	Reference  string
}

// InitiateResponse is the provider acknowledgement.
type InitiateResponse struct {
	Accepted      bool
	ProviderRef   string
	Instructions  map[string]string
	DeclineReason string
}

// VerifyStatus is the provider's own view of a payment.
type VerifyStatus string

const (
	VerifySucceeded VerifyStatus = "succeeded"
	VerifyFailed    VerifyStatus = "failed"
	VerifyPending   VerifyStatus = "pending"
)

// VerifyResponse is the result of a provider status lookup.
type VerifyResponse struct {
	Status                VerifyStatus
	ProviderTransactionID string
	Reason                string
}

// RefundResponse is the provider answer to a refund.
type RefundResponse struct {
	Accepted      bool
	RefundRef     string
	DeclineReason string
}

// ProviderAdapter is the uniform contract over external payment processors.
// Errors wrap ErrProviderTransient or ErrProviderRejected.
type ProviderAdapter interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
	Verify(ctx context.Context, providerRef string) (VerifyResponse, error)
	Refund(ctx context.Context, providerTransactionID string, amount int64) (RefundResponse, error)
}

type idempotencyKey struct{}

// WithIdempotencyKey marks provider calls made with ctx as attempts of one
// logical operation. Adapters forward the key so the provider applies it once.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key set by WithIdempotencyKey, if any.
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}

// ProviderRegistry selects the adapter for a payment method.
type ProviderRegistry struct {
	adapters map[payment.Method]ProviderAdapter
}

// NewProviderRegistry creates a registry over a fixed method -> adapter mapping.
func NewProviderRegistry(adapters map[payment.Method]ProviderAdapter) *ProviderRegistry {
	m := make(map[payment.Method]ProviderAdapter, len(adapters))
	for method, adapter := range adapters {
		m[method] = adapter
	}
	return &ProviderRegistry{adapters: m}
}

// For returns the adapter for method.
func (r *ProviderRegistry) For(method payment.Method) (ProviderAdapter, error) {
	adapter, ok := r.adapters[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	return adapter, nil
}

// ByName returns the adapter whose Name matches, used to route webhooks.
func (r *ProviderRegistry) ByName(name string) (ProviderAdapter, bool) {
	for _, adapter := range r.adapters {
		if adapter.Name() == name {
			return adapter, true
		}
	}
	return nil, false
}
