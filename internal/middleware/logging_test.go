package middleware_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/middleware"
)

func TestLogging(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		status    int
		expectLog bool
		level     string
	}{
		{name: "success is logged at info", path: "/api/v1/records/listing", status: http.StatusOK, expectLog: true, level: "INFO"},
		{name: "client error is logged at warn", path: "/api/v1/records/listing", status: http.StatusBadRequest, expectLog: true, level: "WARN"},
		{name: "server error is logged at error", path: "/api/v1/records/listing", status: http.StatusInternalServerError, expectLog: true, level: "ERROR"},
		{name: "health check is skipped", path: "/health", status: http.StatusOK, expectLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			e := echo.New()
			e.Use(middleware.Logging(middleware.LoggingConfig{Logger: logger, SkipPaths: []string{"/health"}}))
			e.GET(tt.path, func(c echo.Context) error {
				return c.NoContent(tt.status)
			})

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
			if !tt.expectLog {
				assert.Empty(t, buf.String())
				return
			}

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, "HTTP request", entry["msg"])
			assert.Equal(t, tt.level, entry["level"])
			assert.InDelta(t, float64(tt.status), entry["status"], 0)
			assert.Equal(t, tt.path, entry["route"])
		})
	}
}

func TestLogging_PropagatesCorrelation(t *testing.T) {
	e := echo.New()
	e.Use(middleware.Logging(middleware.LoggingConfig{Logger: slog.New(slog.DiscardHandler)}))

	var correlation, causation, requestID string
	e.POST("/payments", func(c echo.Context) error {
		correlation = appcore.GetCorrelationID(c.Request().Context())
		causation = appcore.GetCausationID(c.Request().Context())
		requestID = middleware.GetRequestID(c)
		return c.NoContent(http.StatusAccepted)
	})

	req := httptest.NewRequest(http.MethodPost, "/payments", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	req.Header.Set(middleware.CausationIDHeader, "evt-7")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", correlation)
	assert.Equal(t, "evt-7", causation)
	assert.Equal(t, "req-42", requestID)
	assert.Equal(t, "req-42", rec.Header().Get(middleware.RequestIDHeader))
}

func TestLogging_GeneratesRequestID(t *testing.T) {
	e := echo.New()
	e.Use(middleware.Logging(middleware.DefaultLoggingConfig()))

	var correlation string
	e.GET("/health", func(c echo.Context) error {
		correlation = appcore.GetCorrelationID(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.NotEmpty(t, correlation)
	assert.Equal(t, correlation, rec.Header().Get(middleware.RequestIDHeader))
}
