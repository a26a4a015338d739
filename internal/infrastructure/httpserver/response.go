package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/domain/errs"
)

// Response represents a standard API response.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents an error in the API response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPError lets application errors define their own HTTP representation.
type HTTPError interface {
	error
	HTTPStatus() int
	HTTPCode() string
	HTTPMessage() string
}

// RespondJSON sends a successful JSON response.
func RespondJSON(c echo.Context, code int, data any) error {
	return c.JSON(code, Response{
		Success: true,
		Data:    data,
	})
}

// RespondOK sends a 200 OK response with data.
func RespondOK(c echo.Context, data any) error {
	return RespondJSON(c, http.StatusOK, data)
}

// RespondCreated sends a 201 Created response with data.
func RespondCreated(c echo.Context, data any) error {
	return RespondJSON(c, http.StatusCreated, data)
}

// RespondAccepted sends a 202 Accepted response with data.
func RespondAccepted(c echo.Context, data any) error {
	return RespondJSON(c, http.StatusAccepted, data)
}

// RespondNoContent sends a 204 No Content response.
func RespondNoContent(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// RespondError sends an error JSON response based on the error type.
func RespondError(c echo.Context, err error) error {
	statusCode, apiError := mapError(err)
	return c.JSON(statusCode, Response{
		Success: false,
		Error:   apiError,
	})
}

// RespondErrorWithCode sends an error JSON response with a specific HTTP status code.
func RespondErrorWithCode(c echo.Context, code int, errorCode, message string) error {
	return c.JSON(code, Response{
		Success: false,
		Error: &Error{
			Code:    errorCode,
			Message: message,
		},
	})
}

// ErrorHandler renders errors returned by handlers and by echo itself
// (unknown route, bad method, bind failures) in the response envelope.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	_ = RespondError(c, err)
}

// mapError maps domain and application errors to HTTP status codes and API errors.
func mapError(err error) (int, *Error) {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.HTTPStatus(), &Error{
			Code:    httpErr.HTTPCode(),
			Message: httpErr.HTTPMessage(),
		}
	}

	var validationErr *appcore.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, &Error{
			Code:    "VALIDATION_FAILED",
			Message: validationErr.Error(),
		}
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		msg, ok := echoErr.Message.(string)
		if !ok {
			msg = http.StatusText(echoErr.Code)
		}
		return echoErr.Code, &Error{
			Code:    echoCode(echoErr.Code),
			Message: msg,
		}
	}

	switch {
	case errors.Is(err, appcore.ErrValidationFailed),
		errors.Is(err, appcore.ErrInvalidID),
		errors.Is(err, appcore.ErrEmptyField),
		errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, &Error{
			Code:    "INVALID_INPUT",
			Message: "Invalid input data",
		}

	case errors.Is(err, appcore.ErrAggregateNotFound),
		errors.Is(err, appcore.ErrNotFound),
		errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, &Error{
			Code:    "NOT_FOUND",
			Message: "The requested resource was not found",
		}

	case errors.Is(err, appcore.ErrConcurrencyConflict),
		errors.Is(err, errs.ErrConcurrentModification):
		return http.StatusConflict, &Error{
			Code:    "CONCURRENT_MODIFICATION",
			Message: "Resource was modified by another request",
		}

	case errors.Is(err, appcore.ErrAlreadyExists),
		errors.Is(err, appcore.ErrConflict),
		errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, &Error{
			Code:    "ALREADY_EXISTS",
			Message: "The resource already exists",
		}

	case errors.Is(err, errs.ErrInvalidState):
		return http.StatusUnprocessableEntity, &Error{
			Code:    "INVALID_STATE",
			Message: "Operation not allowed in current state",
		}

	case errors.Is(err, errs.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, &Error{
			Code:    "INVALID_TRANSITION",
			Message: "State transition not allowed",
		}

	case errors.Is(err, appcore.ErrRetriesExhausted):
		return http.StatusBadGateway, &Error{
			Code:    "UPSTREAM_UNAVAILABLE",
			Message: "A downstream dependency did not respond",
		}

	default:
		return http.StatusInternalServerError, &Error{
			Code:    "INTERNAL_ERROR",
			Message: "An internal error occurred",
		}
	}
}

func echoCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusBadRequest:
		return "INVALID_INPUT"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	default:
		return "HTTP_ERROR"
	}
}
