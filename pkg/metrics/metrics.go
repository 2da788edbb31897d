package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics. Collectors are created unregistered
// so the struct can be constructed freely in tests; Register attaches them to
// a registry in main.
type Metrics struct {
	// Admission metrics
	AdmissionsTotal     *prometheus.CounterVec
	AdmissionLatency    prometheus.Histogram
	ReschedulesTotal    *prometheus.CounterVec
	CancellationsTotal  prometheus.Counter
	RequestsResolved    *prometheus.CounterVec

	// Reconciliation metrics
	ReconciliationRuns  *prometheus.CounterVec
	DriftCorrected      prometheus.Counter
	SweepSkipped        prometheus.Counter

	// Outbox metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
}

// New creates all application metrics under the given namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		AdmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Total admission attempts by result",
		}, []string{"result"}),
		AdmissionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_duration_seconds",
			Help:      "Time spent in the admission critical section",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ReschedulesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reschedules_total",
			Help:      "Total reschedule attempts by result",
		}, []string{"result"}),
		CancellationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Total booking cancellations",
		}),
		RequestsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_resolved_total",
			Help:      "Total pending requests resolved by decision",
		}, []string{"decision"}),
		ReconciliationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_runs_total",
			Help:      "Total slot counter reconciliations by outcome",
		}, []string{"status"}),
		DriftCorrected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_drift_corrected_total",
			Help:      "Reconciliations that found the cached counter out of sync",
		}),
		SweepSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_sweeps_skipped_total",
			Help:      "Provider sweeps skipped because one was already running",
		}),
		OutboxEventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}
}

// Register attaches every collector to the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.AdmissionsTotal,
		m.AdmissionLatency,
		m.ReschedulesTotal,
		m.CancellationsTotal,
		m.RequestsResolved,
		m.ReconciliationRuns,
		m.DriftCorrected,
		m.SweepSkipped,
		m.OutboxEventsProcessed,
		m.OutboxEventsFailed,
		m.OutboxProcessingLatency,
	)
}
