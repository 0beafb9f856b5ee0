// Package metrics holds the prometheus collectors of the model engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeDegraded = "degraded"
)

var (
	FrameOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaimodel_frame_operations_total",
		Help: "Frame attach and detach operations by outcome",
	}, []string{"operation", "outcome"})

	FrameOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kaimodel_frame_operation_duration_seconds",
		Help:    "Time to run a frame attach or detach",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
	}, []string{"operation"})

	InferredEdgesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaimodel_inferred_edges_removed_total",
		Help: "Inferred socket pairs removed by frame operations",
	})

	DependentValuesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaimodel_dependent_values_enqueued_total",
		Help: "Attribute values enqueued for recomputation",
	})

	ApprovalRequirements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaimodel_approval_requirements_total",
		Help: "Approval requirements produced by variant",
	}, []string{"variant"})

	CASBatchReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaimodel_cas_batch_reads_total",
		Help: "Batch reads issued against the content store",
	})

	CASBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kaimodel_cas_batch_size",
		Help:    "Hashes per content store batch read",
		Buckets: []float64{1, 10, 100, 1000, 10000},
	})

	QueueItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaimodel_queue_items_processed_total",
		Help: "Dependent value queue items processed by status",
	}, []string{"status"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
