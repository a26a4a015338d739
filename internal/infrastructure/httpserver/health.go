// Package httpserver provides HTTP server infrastructure components.
package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/lllypuk/estately/internal/application/appcore"
)

// Health status constants shared by all health endpoints.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// DefaultCheckTimeout bounds a single component check.
const DefaultCheckTimeout = 3 * time.Second

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthResponse represents the response for health endpoints.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components []ComponentStatus `json:"components,omitempty"`
}

// HealthEndpoints serves liveness and readiness over a set of checkers.
type HealthEndpoints struct {
	checkers []appcore.HealthChecker
	timeout  time.Duration
}

// NewHealthEndpoints creates health endpoints. Readiness requires every checker to pass.
func NewHealthEndpoints(checkers ...appcore.HealthChecker) *HealthEndpoints {
	return &HealthEndpoints{checkers: checkers, timeout: DefaultCheckTimeout}
}

// Register registers:
//   - GET /health - liveness, always 200 while the process runs
//   - GET /ready - 200 when all checkers pass, 503 otherwise
//   - GET /health/details - every component with its details
func (h *HealthEndpoints) Register(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.GET("/ready", h.handleReady)
	e.GET("/health/details", h.handleDetails)
}

func (h *HealthEndpoints) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: StatusHealthy})
}

func (h *HealthEndpoints) handleReady(c echo.Context) error {
	components, healthy := h.check(c.Request().Context())
	if healthy {
		return c.JSON(http.StatusOK, HealthResponse{Status: StatusReady, Components: components})
	}
	return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: StatusNotReady, Components: components})
}

func (h *HealthEndpoints) handleDetails(c echo.Context) error {
	components, healthy := h.check(c.Request().Context())
	if healthy {
		return c.JSON(http.StatusOK, HealthResponse{Status: StatusHealthy, Components: components})
	}
	return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: StatusUnhealthy, Components: components})
}

// check runs all checkers concurrently, each under its own timeout.
func (h *HealthEndpoints) check(ctx context.Context) ([]ComponentStatus, bool) {
	components := make([]ComponentStatus, len(h.checkers))
	var mu sync.Mutex
	healthy := true

	var g errgroup.Group
	for i, checker := range h.checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			status := checker.Check(checkCtx)
			comp := ComponentStatus{
				Name:    checker.Name(),
				Status:  StatusHealthy,
				Message: status.Message,
				Details: status.Details,
			}
			if !status.Healthy {
				comp.Status = StatusUnhealthy
				mu.Lock()
				healthy = false
				mu.Unlock()
			}
			components[i] = comp
			return nil
		})
	}
	_ = g.Wait()

	return components, healthy
}
