package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/estately/internal/infrastructure/metrics"
)

func TestOutboxMetrics_Registration(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := metrics.NewOutboxMetrics(registry)
	m.EventsPending.Set(42)
	m.EventsProcessed.WithLabelValues("PAYMENT_COMPLETED", "success").Inc()
	m.EventsProcessed.WithLabelValues("PAYMENT_COMPLETED", "success").Inc()

	assert.InDelta(t, 42.0, testutil.ToFloat64(m.EventsPending), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.EventsProcessed.WithLabelValues("PAYMENT_COMPLETED", "success")), 0)

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestOutboxMetrics_DoubleRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics.NewOutboxMetrics(registry)

	assert.Panics(t, func() { metrics.NewOutboxMetrics(registry) })
}

func TestDispatcherMetrics_ObserveSink(t *testing.T) {
	m := metrics.NewDispatcherMetrics(prometheus.NewRegistry())

	m.ObserveSink("payment", "cache", time.Millisecond, nil)
	m.ObserveSink("payment", "cache", time.Millisecond, errors.New("down"))

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.SinkFailures.WithLabelValues("payment", "cache")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.SinkDuration))
}

func TestRetryMetrics(t *testing.T) {
	m := metrics.NewRetryMetrics(prometheus.NewRegistry())

	m.ObserveAttempt("provider.verify", errors.New("timeout"))
	m.ObserveAttempt("provider.verify", nil)
	m.ObserveExhausted("provider.initiate")

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("provider.verify", "error")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("provider.verify", "success")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Exhausted.WithLabelValues("provider.initiate")), 0)
}

func TestSagaMetrics_ObserveOutcome(t *testing.T) {
	m := metrics.NewSagaMetrics(prometheus.NewRegistry())

	m.ObserveOutcome("confirm", "COMPLETED")

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("confirm", "COMPLETED")), 0)
}
