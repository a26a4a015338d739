package payment

import (
	"errors"
	"net/http"

	"github.com/lllypuk/estately/internal/application/appcore"
)

// appError implements httpserver.HTTPError. kind, when set, lets callers match
// the error against the generic appcore sentinels.
type appError struct {
	msg        string
	httpStatus int
	httpCode   string
	httpMsg    string
	kind       error
}

func (e *appError) Error() string       { return e.msg }
func (e *appError) HTTPStatus() int     { return e.httpStatus }
func (e *appError) HTTPCode() string    { return e.httpCode }
func (e *appError) HTTPMessage() string { return e.httpMsg }
func (e *appError) Unwrap() error       { return e.kind }

var (
	// ErrPaymentNotFound возвращается когда поток платежа пуст
	ErrPaymentNotFound = &appError{
		msg:        "payment not found",
		httpStatus: http.StatusNotFound,
		httpCode:   "PAYMENT_NOT_FOUND",
		httpMsg:    "payment not found",
		kind:       appcore.ErrNotFound,
	}

	// ErrNoProviderReference возвращается при confirm до того, как провайдер выдал ссылку
	ErrNoProviderReference = &appError{
		msg:        "payment has no provider reference yet",
		httpStatus: http.StatusBadRequest,
		httpCode:   "NO_PROVIDER_REFERENCE",
		httpMsg:    "payment has not been acknowledged by the provider yet",
		kind:       appcore.ErrValidationFailed,
	}

	// ErrRefundNotAllowed возвращается при возврате из статуса, отличного от COMPLETED
	ErrRefundNotAllowed = &appError{
		msg:        "refund not allowed in current status",
		httpStatus: http.StatusUnprocessableEntity,
		httpCode:   "REFUND_NOT_ALLOWED",
		httpMsg:    "refunds are only allowed for completed payments",
	}

	// ErrRefundExceedsBalance возвращается когда сумма больше остатка
	ErrRefundExceedsBalance = &appError{
		msg:        "refund exceeds refundable amount",
		httpStatus: http.StatusBadRequest,
		httpCode:   "REFUND_EXCEEDS_BALANCE",
		httpMsg:    "refund amount exceeds the refundable balance",
		kind:       appcore.ErrValidationFailed,
	}

	// ErrUnsupportedMethod возвращается для метода без адаптера
	ErrUnsupportedMethod = &appError{
		msg:        "unsupported payment method",
		httpStatus: http.StatusBadRequest,
		httpCode:   "UNSUPPORTED_METHOD",
		httpMsg:    "payment method is not supported",
		kind:       appcore.ErrValidationFailed,
	}

	// Provider errors

	// ErrProviderTransient сетевые сбои, таймауты, 5xx и 429; повторяется
	ErrProviderTransient = &appError{
		msg:        "provider transient error",
		httpStatus: http.StatusBadGateway,
		httpCode:   "PROVIDER_UNAVAILABLE",
		httpMsg:    "payment provider is temporarily unavailable",
	}

	// ErrProviderRejected бизнес-отказ провайдера; не повторяется
	ErrProviderRejected = &appError{
		msg:        "provider rejected the request",
		httpStatus: http.StatusUnprocessableEntity,
		httpCode:   "PROVIDER_REJECTED",
		httpMsg:    "payment provider rejected the request",
	}

	// ErrProviderExhausted возвращается когда вызов провайдера исчерпал попытки
	ErrProviderExhausted = &appError{
		msg:        "provider retries exhausted",
		httpStatus: http.StatusBadGateway,
		httpCode:   "PROVIDER_RETRIES_EXHAUSTED",
		httpMsg:    "payment provider did not respond after several attempts",
		kind:       appcore.ErrRetriesExhausted,
	}

	// ErrWebhookUnverified возвращается когда подпись webhook не прошла проверку
	ErrWebhookUnverified = &appError{
		msg:        "webhook signature verification failed",
		httpStatus: http.StatusUnauthorized,
		httpCode:   "WEBHOOK_UNVERIFIED",
		httpMsg:    "webhook signature is invalid",
	}
)

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrProviderRejected) ||
		errors.Is(err, appcore.ErrValidationFailed) ||
		errors.Is(err, ErrUnsupportedMethod)
}
