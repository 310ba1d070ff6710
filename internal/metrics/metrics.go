// Package metrics provides Prometheus metrics for snapstream components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registerOnce sync.Once

const (
	// Namespace is the Prometheus namespace for all snapstream metrics.
	Namespace = "snapstream"

	// Subsystem constants for metric organization.
	SubsystemSource     = "source"
	SubsystemCheckpoint = "checkpoint"
	SubsystemCatalog    = "catalog"
	SubsystemSink       = "sink"
	SubsystemAPI        = "api"
)

// Label constants for consistent labeling across metrics.
const (
	LabelSource    = "source"
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelBackend   = "backend"
	LabelSink      = "sink"
	LabelPath      = "path"
	LabelMethod    = "method"
)

var (
	// Source Metrics

	// SourceCyclesTotal counts poll cycles by outcome (progress, idle, error).
	SourceCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSource,
			Name:      "cycles_total",
			Help:      "Total number of poll cycles by outcome",
		},
		[]string{LabelSource, LabelStatus},
	)

	// SourceSnapshotsConsumedTotal counts snapshots consumed.
	SourceSnapshotsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSource,
			Name:      "snapshots_consumed_total",
			Help:      "Total number of snapshots consumed",
		},
		[]string{LabelSource},
	)

	// SourceTasksEmittedTotal counts combined scan tasks handed to the sink.
	SourceTasksEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSource,
			Name:      "tasks_emitted_total",
			Help:      "Total number of combined scan tasks emitted",
		},
		[]string{LabelSource},
	)

	// SourceErrorsTotal counts source errors by type.
	SourceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSource,
			Name:      "errors_total",
			Help:      "Total number of source errors",
		},
		[]string{LabelSource, LabelErrorType},
	)

	// SourceRetriesTotal counts cycle retry attempts.
	SourceRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSource,
			Name:      "retries_total",
			Help:      "Total number of retry attempts",
		},
		[]string{LabelSource},
	)

	// SourcePollIntervalSeconds is the current poll interval.
	SourcePollIntervalSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSource,
			Name:      "poll_interval_seconds",
			Help:      "Current poll interval in seconds",
		},
		[]string{LabelSource},
	)

	// SourceCursor is the id of the last consumed snapshot.
	SourceCursor = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSource,
			Name:      "cursor_snapshot_id",
			Help:      "Snapshot id of the last consumed snapshot",
		},
		[]string{LabelSource},
	)

	// SourceState represents the current state of the source.
	// Values: 0=idle, 1=running, 2=cancelled, 3=terminated, 4=failed
	SourceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSource,
			Name:      "state",
			Help:      "Current source state (0=idle, 1=running, 2=cancelled, 3=terminated, 4=failed)",
		},
		[]string{LabelSource},
	)

	// Checkpoint Metrics

	// CheckpointsTotal counts checkpoints by status.
	CheckpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCheckpoint,
			Name:      "total",
			Help:      "Total number of checkpoints taken",
		},
		[]string{LabelSource, LabelStatus},
	)

	// CheckpointDuration tracks how long a checkpoint takes, lock wait included.
	CheckpointDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCheckpoint,
			Name:      "duration_seconds",
			Help:      "Duration of checkpoints in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{LabelSource, LabelBackend},
	)

	// CheckpointRestoresTotal counts restores by whether prior state existed.
	CheckpointRestoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCheckpoint,
			Name:      "restores_total",
			Help:      "Total number of restores",
		},
		[]string{LabelSource, LabelStatus},
	)

	// Catalog Metrics

	// CatalogRequestDuration tracks catalog operation latency.
	CatalogRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemCatalog,
			Name:      "request_duration_seconds",
			Help:      "Duration of catalog operations in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{LabelOperation, LabelStatus},
	)

	// Sink Metrics

	// SinkWritesTotal counts tasks written by sinks.
	SinkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemSink,
			Name:      "writes_total",
			Help:      "Total number of tasks written by sinks",
		},
		[]string{LabelSink, LabelStatus},
	)

	// API Metrics

	// APIRequestsTotal counts admin API requests.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: SubsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of admin API requests",
		},
		[]string{LabelPath, LabelMethod, LabelStatus},
	)

	// APIRequestDuration tracks admin API request latency.
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: SubsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of admin API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelPath, LabelMethod},
	)
)

// allMetrics contains all metrics for registration.
var allMetrics = []prometheus.Collector{
	SourceCyclesTotal,
	SourceSnapshotsConsumedTotal,
	SourceTasksEmittedTotal,
	SourceErrorsTotal,
	SourceRetriesTotal,
	SourcePollIntervalSeconds,
	SourceCursor,
	SourceState,
	CheckpointsTotal,
	CheckpointDuration,
	CheckpointRestoresTotal,
	CatalogRequestDuration,
	SinkWritesTotal,
	APIRequestsTotal,
	APIRequestDuration,
}

// Register registers all snapstream metrics with the default Prometheus registry.
// It is safe to call multiple times.
func Register() {
	registerOnce.Do(func() {
		for _, m := range allMetrics {
			prometheus.MustRegister(m)
		}
	})
}

// RegisterWith registers all snapstream metrics with the given registry.
func RegisterWith(reg prometheus.Registerer) {
	for _, m := range allMetrics {
		reg.MustRegister(m)
	}
}

// NewRegistry creates a new Prometheus registry with all snapstream metrics
// and standard Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	// Register standard collectors
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	RegisterWith(reg)

	return reg
}
