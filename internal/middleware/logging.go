// Package middleware holds the echo middleware of the HTTP ingress.
package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lllypuk/estately/internal/application/appcore"
)

// HTTP status code thresholds for log levels.
const (
	statusClientError = 400
	statusServerError = 500
)

const (
	// RequestIDHeader is the header name for request ID.
	RequestIDHeader = "X-Request-ID"

	// CausationIDHeader carries the id of the message that caused this request.
	CausationIDHeader = "X-Causation-ID"

	// RequestIDKey is the echo context key for request ID.
	RequestIDKey = "request_id"
)

// LoggingConfig holds configuration for the logging middleware.
type LoggingConfig struct {
	Logger    *slog.Logger
	SkipPaths []string
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Logger:    slog.Default(),
		SkipPaths: []string{"/health", "/ready", "/metrics"},
	}
}

// Logging returns a middleware that logs HTTP requests. The request ID becomes
// the correlation id of every event appended while serving the request.
func Logging(config LoggingConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	skipPaths := make(map[string]struct{}, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()

			requestID := req.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			res.Header().Set(RequestIDHeader, requestID)
			c.Set(RequestIDKey, requestID)

			ctx := appcore.WithCorrelationID(req.Context(), requestID)
			if causation := req.Header.Get(CausationIDHeader); causation != "" {
				ctx = appcore.WithCausationID(ctx, causation)
			}
			c.SetRequest(req.WithContext(ctx))

			if _, ok := skipPaths[req.URL.Path]; ok {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			latency := time.Since(start)

			status := res.Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("route", c.Path()),
				slog.Int("status", status),
				slog.Duration("latency", latency),
				slog.String("remote_ip", c.RealIP()),
				slog.Int64("response_size", res.Size),
			}
			if query := req.URL.RawQuery; query != "" {
				attrs = append(attrs, slog.String("query", query))
			}

			level := slog.LevelInfo
			switch {
			case status >= statusServerError:
				level = slog.LevelError
			case status >= statusClientError:
				level = slog.LevelWarn
			}
			if err != nil && level != slog.LevelInfo {
				attrs = append(attrs, slog.String("error", err.Error()))
			}

			config.Logger.LogAttrs(ctx, level, "HTTP request", attrs...)
			return err
		}
	}
}

// GetRequestID retrieves the request ID from the echo context.
func GetRequestID(c echo.Context) string {
	if id, ok := c.Get(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
