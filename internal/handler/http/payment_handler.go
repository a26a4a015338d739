package httphandler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
	"github.com/lllypuk/estately/internal/domain/payment"
	"github.com/lllypuk/estately/internal/infrastructure/httpserver"
)

// PaymentService defines the saga entry points.
// Declared on the consumer side per project guidelines.
type PaymentService interface {
	Initiate(ctx context.Context, cmd apppayment.InitiateCommand) (apppayment.Result, error)
	Confirm(ctx context.Context, paymentID string) (apppayment.Result, error)
	Refund(ctx context.Context, cmd apppayment.RefundCommand) (apppayment.RefundResult, error)
	Get(ctx context.Context, paymentID string) (apppayment.Result, error)
}

// InitiatePaymentRequest is the body of POST /payments.
type InitiatePaymentRequest struct {
	PaymentID string `json:"paymentId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method"`
	PayerID   string `json:"payerId"`
	Reference string `json:"reference"`
}

// RefundRequest is the body of POST /payments/:id/refunds.
type RefundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// PaymentHandler handles payment commands.
type PaymentHandler struct {
	payments PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(payments PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// RegisterRoutes registers payment routes with the router.
func (h *PaymentHandler) RegisterRoutes(r *httpserver.Router) {
	r.API().POST("/payments", h.Initiate)
	r.API().GET("/payments/:id", h.Get)
	r.API().POST("/payments/:id/confirm", h.Confirm)
	r.API().POST("/payments/:id/refunds", h.Refund)
}

// Initiate handles POST /api/v1/payments.
func (h *PaymentHandler) Initiate(c echo.Context) error {
	var req InitiatePaymentRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
	}

	result, err := h.payments.Initiate(c.Request().Context(), apppayment.InitiateCommand{
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Method:    payment.Method(req.Method),
		PayerID:   req.PayerID,
		Reference: req.Reference,
	})
	if err != nil {
		return httpserver.RespondError(c, err)
	}
	if result.Attempts == 0 {
		// Платеж с этим id уже существует
		return httpserver.RespondOK(c, result)
	}
	return httpserver.RespondCreated(c, result)
}

// Get handles GET /api/v1/payments/:id. Expired PENDING payments are cancelled on read.
func (h *PaymentHandler) Get(c echo.Context) error {
	result, err := h.payments.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpserver.RespondError(c, err)
	}
	return httpserver.RespondOK(c, result)
}

// Confirm handles POST /api/v1/payments/:id/confirm. Confirming a terminal
// payment returns its state with alreadyTerminal set.
func (h *PaymentHandler) Confirm(c echo.Context) error {
	result, err := h.payments.Confirm(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpserver.RespondError(c, err)
	}
	return httpserver.RespondOK(c, result)
}

// Refund handles POST /api/v1/payments/:id/refunds.
func (h *PaymentHandler) Refund(c echo.Context) error {
	var req RefundRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
	}

	result, err := h.payments.Refund(c.Request().Context(), apppayment.RefundCommand{
		PaymentID: c.Param("id"),
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		return httpserver.RespondError(c, err)
	}
	return httpserver.RespondCreated(c, result)
}
