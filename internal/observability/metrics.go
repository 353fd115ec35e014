package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the recording engine.
// Every helper tolerates a nil receiver so telemetry can never gate the
// core state machine.
type Metrics struct {
	RecordingActive     prometheus.Gauge
	StateTransitions    *prometheus.CounterVec
	StartFailures       *prometheus.CounterVec
	StopEvents          *prometheus.CounterVec
	SegmentsSaved       prometheus.Counter
	SegmentDurationMs   prometheus.Histogram
	StorageFreeBytes    prometheus.Gauge
	ThresholdCrossings  *prometheus.CounterVec
	OrphansRecovered    prometheus.Counter
	RetentionRemovals   *prometheus.CounterVec
	RetentionFailures   *prometheus.CounterVec
	ReconcileRuns       *prometheus.CounterVec
	LifecycleEvents     *prometheus.CounterVec
	IndexOperationError *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RecordingActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording_active",
			Help:      "1 while a recording session is live.",
		}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Recorder state machine transitions.",
		}, []string{"from", "to"}),
		StartFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "start_failures_total",
			Help:      "Refused or failed session starts by reason.",
		}, []string{"reason"}),
		StopEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_events_total",
			Help:      "Session stops by reason.",
		}, []string{"reason"}),
		SegmentsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_saved_total",
			Help:      "Finalized segment artifacts persisted to the index.",
		}),
		SegmentDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_duration_ms",
			Help:      "Finalized segment duration in milliseconds.",
			Buckets:   []float64{1000, 10000, 60000, 150000, 300000, 330000},
		}),
		StorageFreeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_free_bytes",
			Help:      "Last sampled free bytes on the recording volume.",
		}),
		ThresholdCrossings: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_threshold_crossings_total",
			Help:      "Storage threshold crossings by level.",
		}, []string{"level"}),
		OrphansRecovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_recovered_total",
			Help:      "Capture files adopted by crash recovery.",
		}),
		RetentionRemovals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_removals_total",
			Help:      "Index entries removed by retention passes.",
		}, []string{"pass"}),
		RetentionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_failures_total",
			Help:      "Swallowed retention pass failures by reason.",
		}, []string{"reason"}),
		ReconcileRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Reconciliation runs by outcome.",
		}, []string{"outcome"}),
		LifecycleEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle events published by type.",
		}, []string{"type"}),
		IndexOperationError: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_errors_total",
			Help:      "Recording index failures by operation.",
		}, []string{"op"}),
	}
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveSegment(durationMs int64) {
	if m == nil {
		return
	}
	m.SegmentsSaved.Inc()
	m.SegmentDurationMs.Observe(float64(durationMs))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
