package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatcherMetrics tracks materialization sinks.
type DispatcherMetrics struct {
	SinkDuration  *prometheus.HistogramVec
	SinkFailures  *prometheus.CounterVec
	RepairQueued  *prometheus.CounterVec
	Rematerialize *prometheus.CounterVec
}

// NewDispatcherMetrics creates and registers dispatcher metrics.
func NewDispatcherMetrics(registerer prometheus.Registerer) *DispatcherMetrics {
	m := &DispatcherMetrics{
		SinkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "materialize",
			Name:      "sink_duration_seconds",
			Help:      "Time spent in one sink including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"aggregate_type", "sink"}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "materialize",
			Name:      "sink_failures_total",
			Help:      "Sinks that failed after all retries",
		}, []string{"aggregate_type", "sink"}),
		RepairQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "materialize",
			Name:      "repair_queued_total",
			Help:      "Failed materializations handed to the repair queue",
		}, []string{"aggregate_type", "sink"}),
		Rematerialize: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "materialize",
			Name:      "rematerialize_total",
			Help:      "Repair attempts by result",
		}, []string{"aggregate_type", "status"}),
	}
	registerer.MustRegister(m.SinkDuration, m.SinkFailures, m.RepairQueued, m.Rematerialize)
	return m
}

// ObserveSink records one sink run.
func (m *DispatcherMetrics) ObserveSink(aggregateType, sink string, took time.Duration, err error) {
	m.SinkDuration.WithLabelValues(aggregateType, sink).Observe(took.Seconds())
	if err != nil {
		m.SinkFailures.WithLabelValues(aggregateType, sink).Inc()
	}
}

// RetryMetrics tracks the retry scheduler.
type RetryMetrics struct {
	Attempts  *prometheus.CounterVec
	Exhausted *prometheus.CounterVec
}

// NewRetryMetrics creates and registers retry metrics.
func NewRetryMetrics(registerer prometheus.Registerer) *RetryMetrics {
	m := &RetryMetrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Attempts made per operation and result",
		}, []string{"operation", "result"}),
		Exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Operations that ran out of attempts",
		}, []string{"operation"}),
	}
	registerer.MustRegister(m.Attempts, m.Exhausted)
	return m
}

// ObserveAttempt records one attempt.
func (m *RetryMetrics) ObserveAttempt(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Attempts.WithLabelValues(operation, result).Inc()
}

// ObserveExhausted records an exhausted operation.
func (m *RetryMetrics) ObserveExhausted(operation string) {
	m.Exhausted.WithLabelValues(operation).Inc()
}

// ProviderMetrics tracks calls to payment providers.
type ProviderMetrics struct {
	Duration *prometheus.HistogramVec
}

// NewProviderMetrics creates and registers provider metrics.
func NewProviderMetrics(registerer prometheus.Registerer) *ProviderMetrics {
	m := &ProviderMetrics{
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Provider API latency by outcome",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "operation", "outcome"}),
	}
	registerer.MustRegister(m.Duration)
	return m
}

// ObserveCall records one provider HTTP call.
func (m *ProviderMetrics) ObserveCall(provider, operation, outcome string, took time.Duration) {
	m.Duration.WithLabelValues(provider, operation, outcome).Observe(took.Seconds())
}

// SagaMetrics counts payment saga outcomes.
type SagaMetrics struct {
	Outcomes *prometheus.CounterVec
}

// NewSagaMetrics creates and registers saga metrics.
func NewSagaMetrics(registerer prometheus.Registerer) *SagaMetrics {
	m := &SagaMetrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "saga_outcomes_total",
			Help:      "Payment saga step outcomes",
		}, []string{"operation", "outcome"}),
	}
	registerer.MustRegister(m.Outcomes)
	return m
}

// ObserveOutcome implements payment.SagaMetrics.
func (m *SagaMetrics) ObserveOutcome(operation, outcome string) {
	m.Outcomes.WithLabelValues(operation, outcome).Inc()
}
