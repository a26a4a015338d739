package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
	"github.com/lllypuk/estately/internal/infrastructure/httpserver"
	"github.com/lllypuk/estately/internal/infrastructure/queue"
	"github.com/lllypuk/estately/internal/infrastructure/webhook"
)

const maxWebhookBody = 64 << 10

// WebhookVerifier checks a provider signature over the raw body.
type WebhookVerifier interface {
	Verify(ctx context.Context, provider, token string, body []byte) error
}

// CallbackQueue accepts verified callbacks for asynchronous reconciliation.
type CallbackQueue interface {
	EnqueueCallback(ctx context.Context, cb apppayment.ProviderCallback) error
}

// WebhookPayload is the provider callback body.
type WebhookPayload struct {
	ProviderRef   string `json:"providerRef"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
}

// WebhookAck is returned once a callback is queued.
type WebhookAck struct {
	Accepted    bool   `json:"accepted"`
	ProviderRef string `json:"providerRef"`
}

// WebhookHandler verifies provider callbacks, queues them and acknowledges at once.
type WebhookHandler struct {
	verifier WebhookVerifier
	queue    CallbackQueue
	logger   *slog.Logger
	now      func() time.Time
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(verifier WebhookVerifier, q CallbackQueue, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		verifier: verifier,
		queue:    q,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes registers webhook routes with the router.
func (h *WebhookHandler) RegisterRoutes(r *httpserver.Router) {
	r.Webhooks().POST("/:provider", h.Receive)
}

// Receive handles POST /webhooks/:provider.
func (h *WebhookHandler) Receive(c echo.Context) error {
	ctx := c.Request().Context()
	provider := strings.ToLower(c.Param("provider"))

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_REQUEST", "failed to read body")
	}
	if len(body) > maxWebhookBody {
		return httpserver.RespondErrorWithCode(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
			"webhook body too large")
	}

	token := c.Request().Header.Get(webhook.SignatureHeader)
	if token == "" {
		return httpserver.RespondError(c, apppayment.ErrWebhookUnverified)
	}
	if verifyErr := h.verifier.Verify(ctx, provider, token, body); verifyErr != nil {
		h.logger.WarnContext(ctx, "webhook rejected",
			slog.String("provider", provider),
			slog.String("error", verifyErr.Error()),
		)
		return httpserver.RespondError(c, apppayment.ErrWebhookUnverified)
	}

	var payload WebhookPayload
	if jsonErr := json.Unmarshal(body, &payload); jsonErr != nil {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid webhook body")
	}
	if payload.ProviderRef == "" {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "VALIDATION_FAILED", "providerRef is required")
	}

	cb := apppayment.ProviderCallback{
		Provider:              provider,
		ProviderRef:           payload.ProviderRef,
		ReportedStatus:        strings.ToUpper(payload.Status),
		ProviderTransactionID: payload.TransactionID,
		ReceivedAt:            h.now(),
	}
	if err := h.queue.EnqueueCallback(ctx, cb); err != nil {
		h.logger.ErrorContext(ctx, "failed to enqueue webhook",
			slog.String("provider", provider),
			slog.String("provider_ref", cb.ProviderRef),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, queue.ErrQueueFull) {
			return httpserver.RespondErrorWithCode(c, http.StatusServiceUnavailable, "QUEUE_FULL",
				"callback queue is full, retry later")
		}
		return httpserver.RespondErrorWithCode(c, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE",
			"callback queue is unavailable")
	}

	return httpserver.RespondAccepted(c, WebhookAck{Accepted: true, ProviderRef: cb.ProviderRef})
}
