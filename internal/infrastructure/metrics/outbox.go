// Package metrics holds the Prometheus collectors of the service.
// Constructors register with an explicit registerer so tests can use a fresh registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "estately"

// OutboxMetrics contains Prometheus metrics for monitoring outbox publication.
type OutboxMetrics struct {
	EventsPending       prometheus.Gauge
	EventsProcessed     *prometheus.CounterVec
	ProcessingDuration  *prometheus.HistogramVec
	PublishDuration     *prometheus.HistogramVec
	RetryTotal          *prometheus.CounterVec
	OldestEventAge      prometheus.Gauge
	PollBatchSize       prometheus.Histogram
	CleanupDeletedTotal prometheus.Counter
}

// NewOutboxMetrics creates and registers outbox metrics with the given registerer.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	m := &OutboxMetrics{
		EventsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_pending",
			Help:      "Current number of unpublished events in the outbox",
		}),
		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "events_processed_total",
				Help:      "Total number of outbox entries handled",
			},
			[]string{"event_type", "status"}, // status: success/failed
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "processing_duration_seconds",
				Help:      "Time from append to publication",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
		PublishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "publish_duration_seconds",
				Help:      "Time to publish one event to the bus",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"event_type"},
		),
		RetryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "retry_total",
				Help:      "Total number of failed publication attempts",
			},
			[]string{"event_type"},
		),
		OldestEventAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "oldest_event_age_seconds",
			Help:      "Age in seconds of the oldest unpublished event",
		}),
		PollBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "poll_batch_size",
			Help:      "Number of entries retrieved in each poll",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		CleanupDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "cleanup_deleted_total",
			Help:      "Total number of published entries deleted by cleanup",
		}),
	}

	registerer.MustRegister(
		m.EventsPending,
		m.EventsProcessed,
		m.ProcessingDuration,
		m.PublishDuration,
		m.RetryTotal,
		m.OldestEventAge,
		m.PollBatchSize,
		m.CleanupDeletedTotal,
	)

	return m
}
