package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/infrastructure/httpserver"
)

type staticChecker struct {
	name    string
	healthy bool
	msg     string
}

func (s staticChecker) Name() string { return s.name }

func (s staticChecker) Check(context.Context) appcore.HealthStatus {
	return appcore.HealthStatus{Healthy: s.healthy, Message: s.msg, Details: map[string]any{"check": s.name}}
}

func serveHealth(t *testing.T, path string, checkers ...appcore.HealthChecker) (int, httpserver.HealthResponse) {
	t.Helper()

	e := echo.New()
	httpserver.NewHealthEndpoints(checkers...).Register(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp httpserver.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealthEndpoints_Liveness(t *testing.T) {
	code, resp := serveHealth(t, "/health", staticChecker{name: "mongodb", healthy: false})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, httpserver.StatusHealthy, resp.Status)
	assert.Empty(t, resp.Components)
}

func TestHealthEndpoints_Ready(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		code, resp := serveHealth(t, "/ready",
			staticChecker{name: "mongodb", healthy: true},
			staticChecker{name: "redis", healthy: true},
		)

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, httpserver.StatusReady, resp.Status)
		require.Len(t, resp.Components, 2)
		assert.Equal(t, "mongodb", resp.Components[0].Name)
		assert.Equal(t, "redis", resp.Components[1].Name)
	})

	t.Run("one unhealthy", func(t *testing.T) {
		code, resp := serveHealth(t, "/ready",
			staticChecker{name: "mongodb", healthy: true},
			staticChecker{name: "outbox_backlog", healthy: false, msg: "backlog too large"},
		)

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, httpserver.StatusNotReady, resp.Status)
		assert.Equal(t, httpserver.StatusUnhealthy, resp.Components[1].Status)
		assert.Equal(t, "backlog too large", resp.Components[1].Message)
	})

	t.Run("no checkers", func(t *testing.T) {
		code, resp := serveHealth(t, "/ready")

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, httpserver.StatusReady, resp.Status)
	})
}

func TestHealthEndpoints_Details(t *testing.T) {
	code, resp := serveHealth(t, "/health/details",
		staticChecker{name: "repair_queue", healthy: false, msg: "failed tasks"},
		appcore.HealthCheckFunc{CheckerName: "ping", Ping: func(context.Context) error { return nil }},
	)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, httpserver.StatusUnhealthy, resp.Status)
	require.Len(t, resp.Components, 2)
	assert.Equal(t, "repair_queue", resp.Components[0].Name)
	assert.Equal(t, map[string]any{"check": "repair_queue"}, resp.Components[0].Details)
	assert.Equal(t, httpserver.StatusHealthy, resp.Components[1].Status)
}
