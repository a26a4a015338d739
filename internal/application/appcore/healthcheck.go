package appcore

import (
	"context"
	"time"
)

// HealthChecker checks the health of a specific component or subsystem.
type HealthChecker interface {
	// Check performs health check and returns status.
	Check(ctx context.Context) HealthStatus

	// Name returns the name of this health checker.
	Name() string
}

// HealthStatus represents the health status of a component.
type HealthStatus struct {
	Healthy   bool           `json:"healthy"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
}

// HealthCheckFunc adapts a ping function into a HealthChecker.
type HealthCheckFunc struct {
	CheckerName string
	Ping        func(ctx context.Context) error
}

// Name returns the checker name.
func (f HealthCheckFunc) Name() string { return f.CheckerName }

// Check runs the ping.
func (f HealthCheckFunc) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, CheckedAt: time.Now()}
	if err := f.Ping(ctx); err != nil {
		status.Healthy = false
		status.Message = err.Error()
	}
	return status
}
