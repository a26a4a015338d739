package provider

import (
	"context"
	"net/http"
	"net/url"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
)

// BankTransfer talks to a virtual-account processor: the payer pushes a
// transfer to an account number issued per payment.
type BankTransfer struct {
	c *client
}

// NewBankTransfer creates the bank transfer adapter.
func NewBankTransfer(cfg Config, opts ...ClientOption) *BankTransfer {
	return &BankTransfer{c: newClient("banktransfer", cfg, opts...)}
}

type expectedTransferRequest struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type transferResponse struct {
	ID            string `json:"id"`
	Accepted      bool   `json:"accepted"`
	Reason        string `json:"reason"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	State         string `json:"state"`
	TransactionID string `json:"transaction_id"`
}

// Name implements payment.ProviderAdapter.
func (b *BankTransfer) Name() string { return b.c.name }

// Initiate reserves a virtual account for the payment.
func (b *BankTransfer) Initiate(ctx context.Context, req apppayment.InitiateRequest) (apppayment.InitiateResponse, error) {
	var resp transferResponse
	err := b.c.do(ctx, "initiate", http.MethodPost, "/v1/transfers/expected", expectedTransferRequest{
		Reference: req.PaymentID,
		Amount:    req.PayerTotal,
		Currency:  req.Currency,
	}, &resp)
	if err != nil {
		return apppayment.InitiateResponse{}, err
	}

	if !resp.Accepted {
		return apppayment.InitiateResponse{Accepted: false, DeclineReason: resp.Reason}, nil
	}
	return apppayment.InitiateResponse{
		Accepted:    true,
		ProviderRef: resp.ID,
		Instructions: map[string]string{
			"accountNumber": resp.AccountNumber,
			"bankCode":      resp.BankCode,
		},
	}, nil
}

// Verify reads whether the transfer arrived.
func (b *BankTransfer) Verify(ctx context.Context, providerRef string) (apppayment.VerifyResponse, error) {
	var resp transferResponse
	if err := b.c.do(ctx, "verify", http.MethodGet, "/v1/transfers/"+url.PathEscape(providerRef), nil, &resp); err != nil {
		return apppayment.VerifyResponse{}, err
	}

	switch resp.State {
	case "received":
		return apppayment.VerifyResponse{Status: apppayment.VerifySucceeded, ProviderTransactionID: resp.TransactionID}, nil
	case "expired", "rejected":
		return apppayment.VerifyResponse{Status: apppayment.VerifyFailed, Reason: resp.Reason}, nil
	default:
		return apppayment.VerifyResponse{Status: apppayment.VerifyPending}, nil
	}
}

type returnRequest struct {
	Amount int64 `json:"amount"`
}

// Refund returns funds of a received transfer.
func (b *BankTransfer) Refund(ctx context.Context, providerTransactionID string, amount int64) (apppayment.RefundResponse, error) {
	var resp transferResponse
	path := "/v1/transfers/" + url.PathEscape(providerTransactionID) + "/returns"
	if err := b.c.do(ctx, "refund", http.MethodPost, path, returnRequest{Amount: amount}, &resp); err != nil {
		return apppayment.RefundResponse{}, err
	}
	if !resp.Accepted {
		return apppayment.RefundResponse{Accepted: false, DeclineReason: resp.Reason}, nil
	}
	return apppayment.RefundResponse{Accepted: true, RefundRef: resp.ID}, nil
}
