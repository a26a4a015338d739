package provider

import (
	"context"
	"net/http"
	"net/url"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
)

// Card talks to a card processor using hosted payment pages.
type Card struct {
	c *client
}

// NewCard creates the card adapter.
func NewCard(cfg Config, opts ...ClientOption) *Card {
	return &Card{c: newClient("card", cfg, opts...)}
}

type chargeRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	Customer    string `json:"customer"`
	Description string `json:"description,omitempty"`
}

type chargeResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	RedirectURL    string `json:"redirect_url"`
	DeclineCode    string `json:"decline_code"`
	BalanceTxn     string `json:"balance_transaction"`
	FailureMessage string `json:"failure_message"`
}

// Name implements payment.ProviderAdapter.
func (c *Card) Name() string { return c.c.name }

// Initiate creates a charge awaiting payer authentication.
func (c *Card) Initiate(ctx context.Context, req apppayment.InitiateRequest) (apppayment.InitiateResponse, error) {
	var resp chargeResponse
	err := c.c.do(ctx, "initiate", http.MethodPost, "/v1/charges", chargeRequest{
		Amount:      req.PayerTotal,
		Currency:    req.Currency,
		Reference:   req.PaymentID,
		Customer:    req.PayerID,
		Description: req.Reference,
	}, &resp)
	if err != nil {
		return apppayment.InitiateResponse{}, err
	}

	if resp.Status == "declined" {
		return apppayment.InitiateResponse{Accepted: false, DeclineReason: resp.DeclineCode}, nil
	}
	return apppayment.InitiateResponse{
		Accepted:     true,
		ProviderRef:  resp.ID,
		Instructions: map[string]string{"redirectUrl": resp.RedirectURL},
	}, nil
}

// Verify reads the charge.
func (c *Card) Verify(ctx context.Context, providerRef string) (apppayment.VerifyResponse, error) {
	var resp chargeResponse
	if err := c.c.do(ctx, "verify", http.MethodGet, "/v1/charges/"+url.PathEscape(providerRef), nil, &resp); err != nil {
		return apppayment.VerifyResponse{}, err
	}

	switch resp.Status {
	case "succeeded":
		return apppayment.VerifyResponse{Status: apppayment.VerifySucceeded, ProviderTransactionID: resp.BalanceTxn}, nil
	case "failed", "canceled":
		return apppayment.VerifyResponse{Status: apppayment.VerifyFailed, Reason: resp.FailureMessage}, nil
	default:
		return apppayment.VerifyResponse{Status: apppayment.VerifyPending}, nil
	}
}

type cardRefundRequest struct {
	Transaction string `json:"transaction"`
	Amount      int64  `json:"amount"`
}

type cardRefundResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

// Refund refunds part of a settled charge.
func (c *Card) Refund(ctx context.Context, providerTransactionID string, amount int64) (apppayment.RefundResponse, error) {
	var resp cardRefundResponse
	err := c.c.do(ctx, "refund", http.MethodPost, "/v1/refunds", cardRefundRequest{
		Transaction: providerTransactionID,
		Amount:      amount,
	}, &resp)
	if err != nil {
		return apppayment.RefundResponse{}, err
	}
	if resp.Status == "failed" {
		return apppayment.RefundResponse{Accepted: false, DeclineReason: resp.FailureReason}, nil
	}
	return apppayment.RefundResponse{Accepted: true, RefundRef: resp.ID}, nil
}
