package httphandler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/infrastructure/httpserver"
)

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   *httpserver.Error `json:"error"`
}

func newRouter(t *testing.T, registrars ...httpserver.RouteRegistrar) *httpserver.Router {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = httpserver.ErrorHandler
	cfg := httpserver.DefaultRouterConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.LoggingConfig.Logger = cfg.Logger
	cfg.RecoveryConfig.Logger = cfg.Logger
	r := httpserver.NewRouter(e, cfg)
	r.RegisterAll(registrars...)
	return r
}

func do(t *testing.T, r *httpserver.Router, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	r.Echo().ServeHTTP(rec, req)

	var env envelope
	if rec.Code != http.StatusNoContent && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
