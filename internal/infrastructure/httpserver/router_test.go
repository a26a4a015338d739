package httpserver_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/infrastructure/httpserver"
	"github.com/lllypuk/estately/internal/middleware"
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(r *httpserver.Router) {
	r.API().GET("/ping", func(c echo.Context) error { return httpserver.RespondOK(c, "pong") })
	r.Webhooks().POST("/:provider", func(c echo.Context) error { return httpserver.RespondAccepted(c, c.Param("provider")) })
	r.WS().GET("/streams/:id", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
}

func newRouter(t *testing.T, cfg httpserver.RouterConfig) *httpserver.Router {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = httpserver.ErrorHandler
	r := httpserver.NewRouter(e, cfg)
	r.RegisterAll(pingRoutes{})
	return r
}

func serve(r *httpserver.Router, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.Echo().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRouter_Groups(t *testing.T) {
	r := newRouter(t, httpserver.DefaultRouterConfig())

	rec := serve(r, http.MethodGet, "/api/v1/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":"pong"}`, rec.Body.String())

	rec = serve(r, http.MethodPost, "/webhooks/card")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "card")

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ws/streams/pay-1").Code)
}

func TestRouter_CustomPrefix(t *testing.T) {
	cfg := httpserver.DefaultRouterConfig()
	cfg.APIPrefix = "/v2"
	r := newRouter(t, cfg)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/v2/ping").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/ping").Code)
}

func TestRouter_GlobalMiddleware(t *testing.T) {
	var buf bytes.Buffer
	cfg := httpserver.DefaultRouterConfig()
	cfg.LoggingConfig = middleware.LoggingConfig{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	cfg.RecoveryConfig = middleware.RecoveryConfig{Logger: slog.New(slog.DiscardHandler)}
	r := newRouter(t, cfg)
	r.API().GET("/panic", func(echo.Context) error { panic("boom") })

	rec := serve(r, http.MethodGet, "/api/v1/ping")
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	assert.Contains(t, buf.String(), "/api/v1/ping")

	rec = serve(r, http.MethodGet, "/api/v1/panic")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestRouter_RateLimitAppliesToAPIAndWebhooks(t *testing.T) {
	cfg := httpserver.DefaultRouterConfig()
	cfg.RateLimitMiddleware = middleware.RateLimit(middleware.RateLimitConfig{
		Store:  middleware.NewMemoryRateLimitStore(),
		Limit:  1,
		Window: time.Minute,
	})
	r := newRouter(t, cfg)

	assert.Equal(t, http.StatusAccepted, serve(r, http.MethodPost, "/webhooks/card").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodPost, "/webhooks/card").Code)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/ping").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/api/v1/ping").Code)

	// websocket upgrades are not limited
	for range 3 {
		assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ws/streams/pay-1").Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "estately_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	r := newRouter(t, httpserver.DefaultRouterConfig())
	r.RegisterMetricsEndpoint(reg)
	r.RegisterHealthEndpoints(httpserver.NewHealthEndpoints())

	rec := serve(r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "estately_test_total 1")

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health").Code)
}
