package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the report pipeline service.
// Metrics are organized by subsystem: jobs, stages, locks, cache, and LLM
// operations. All counters and histograms are registered via promauto for
// automatic registration with the default Prometheus registry.
type Metrics struct {
	// JobsStarted counts report jobs claimed by workers.
	JobsStarted prometheus.Counter

	// JobsCompleted counts report jobs that finished successfully.
	JobsCompleted prometheus.Counter

	// JobsFailed counts report jobs that ended in failure.
	JobsFailed prometheus.Counter

	// JobDuration observes end-to-end job duration in seconds.
	JobDuration prometheus.Histogram

	// StagesStarted counts stage executions, labeled by stage.
	StagesStarted *prometheus.CounterVec

	// StagesCompleted counts successful stage executions, labeled by stage.
	StagesCompleted *prometheus.CounterVec

	// StagesAborted counts stage executions aborted by the failure threshold,
	// labeled by stage.
	StagesAborted *prometheus.CounterVec

	// StageDuration observes stage duration in seconds, labeled by stage.
	StageDuration *prometheus.HistogramVec

	// UnitsProcessed counts work units that completed, labeled by stage and
	// outcome (ok, failed, filtered, dropped).
	UnitsProcessed *prometheus.CounterVec

	// LockAcquisitions counts lock acquisition attempts, labeled by outcome
	// (acquired, contended, error).
	LockAcquisitions *prometheus.CounterVec

	// LockHeartbeatsLost counts heartbeats that found the lock expired or stolen.
	LockHeartbeatsLost prometheus.Counter

	// CheckpointWrites counts checkpoint batch writes, labeled by outcome
	// (ok, lock_expired, lock_stolen, error).
	CheckpointWrites *prometheus.CounterVec

	// CacheOperations counts store operations, labeled by operation and outcome.
	CacheOperations *prometheus.CounterVec

	// LLMRequestsTotal counts LLM API requests, labeled by stage and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM API requests, labeled by stage, model, and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMTokensUsed counts tokens consumed, labeled by stage, model, and token type.
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD accumulates estimated LLM spend in USD, labeled by model.
	LLMCostUSD *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		JobsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Total number of report jobs claimed by workers",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of report jobs completed successfully",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Total number of report jobs that failed",
		}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "End-to-end report job duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		StagesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_started_total",
			Help:      "Total number of pipeline stage executions started",
		}, []string{"stage"}),
		StagesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_completed_total",
			Help:      "Total number of pipeline stage executions completed",
		}, []string{"stage"}),
		StagesAborted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_aborted_total",
			Help:      "Total number of stage executions aborted by the failure threshold",
		}, []string{"stage"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		UnitsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_processed_total",
			Help:      "Total number of work units processed, by stage and outcome",
		}, []string{"stage", "outcome"}),
		LockAcquisitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquisitions_total",
			Help:      "Total number of job lock acquisition attempts, by outcome",
		}, []string{"outcome"}),
		LockHeartbeatsLost: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_heartbeats_lost_total",
			Help:      "Total number of heartbeats that found the job lock expired or stolen",
		}),
		CheckpointWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of checkpoint batch writes, by outcome",
		}, []string{"outcome"}),
		CacheOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of shared store operations, by operation and outcome",
		}, []string{"operation", "outcome"}),
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM API requests, by stage and model",
		}, []string{"stage", "model"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed LLM API requests, by stage, model, and error type",
		}, []string{"stage", "model", "error_type"}),
		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of LLM tokens consumed, by stage, model, and token type",
		}, []string{"stage", "model", "token_type"}),
		LLMCostUSD: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Estimated LLM spend in USD, by model",
		}, []string{"model"}),
	}
}
