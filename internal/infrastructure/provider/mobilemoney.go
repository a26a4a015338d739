package provider

import (
	"context"
	"net/http"
	"net/url"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
)

// MobileMoney talks to a push-prompt mobile money processor.
type MobileMoney struct {
	c *client
}

// NewMobileMoney creates the mobile money adapter.
func NewMobileMoney(cfg Config, opts ...ClientOption) *MobileMoney {
	return &MobileMoney{c: newClient("mobilemoney", cfg, opts...)}
}

type collectionRequest struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Payer     string `json:"payer"`
	Narration string `json:"narration,omitempty"`
}

type collectionResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	Prompt        string `json:"prompt"`
	TransactionID string `json:"transaction_id"`
}

// Name implements payment.ProviderAdapter.
func (m *MobileMoney) Name() string { return m.c.name }

// Initiate sends the push prompt to the payer's phone.
func (m *MobileMoney) Initiate(ctx context.Context, req apppayment.InitiateRequest) (apppayment.InitiateResponse, error) {
	var resp collectionResponse
	err := m.c.do(ctx, "initiate", http.MethodPost, "/v1/collections", collectionRequest{
		Reference: req.PaymentID,
		Amount:    req.PayerTotal,
		Currency:  req.Currency,
		Payer:     req.PayerID,
		Narration: req.Reference,
	}, &resp)
	if err != nil {
		return apppayment.InitiateResponse{}, err
	}

	if resp.Status == "declined" {
		return apppayment.InitiateResponse{Accepted: false, DeclineReason: resp.Reason}, nil
	}
	return apppayment.InitiateResponse{
		Accepted:     true,
		ProviderRef:  resp.ID,
		Instructions: map[string]string{"prompt": resp.Prompt},
	}, nil
}

// Verify reads the collection status.
func (m *MobileMoney) Verify(ctx context.Context, providerRef string) (apppayment.VerifyResponse, error) {
	var resp collectionResponse
	if err := m.c.do(ctx, "verify", http.MethodGet, "/v1/collections/"+url.PathEscape(providerRef), nil, &resp); err != nil {
		return apppayment.VerifyResponse{}, err
	}

	switch resp.Status {
	case "successful":
		return apppayment.VerifyResponse{Status: apppayment.VerifySucceeded, ProviderTransactionID: resp.TransactionID}, nil
	case "failed", "expired", "declined":
		return apppayment.VerifyResponse{Status: apppayment.VerifyFailed, Reason: resp.Reason}, nil
	default:
		return apppayment.VerifyResponse{Status: apppayment.VerifyPending}, nil
	}
}

type reversalRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

// Refund reverses part of a collection.
func (m *MobileMoney) Refund(ctx context.Context, providerTransactionID string, amount int64) (apppayment.RefundResponse, error) {
	var resp collectionResponse
	err := m.c.do(ctx, "refund", http.MethodPost, "/v1/reversals", reversalRequest{
		TransactionID: providerTransactionID,
		Amount:        amount,
	}, &resp)
	if err != nil {
		return apppayment.RefundResponse{}, err
	}
	if resp.Status == "declined" || resp.Status == "failed" {
		return apppayment.RefundResponse{Accepted: false, DeclineReason: resp.Reason}, nil
	}
	return apppayment.RefundResponse{Accepted: true, RefundRef: resp.ID}, nil
}
