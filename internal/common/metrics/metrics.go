// internal/common/metrics/metrics.go
package metrics

import (
	"context"
	"time"

	"document-eligibility/internal/engine"
	"document-eligibility/internal/engine/breaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_evaluations_total",
			Help: "Evaluations by result: included, excluded or failed",
		},
		[]string{"result"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eligibility_evaluation_duration_seconds",
			Help:    "Duration of a whole evaluation in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	DataSourceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_datasource_calls_total",
			Help: "Data source executions by outcome",
		},
		[]string{"source", "outcome"},
	)

	DataSourceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "eligibility_datasource_duration_seconds",
			Help: "Duration of a data source execution in seconds",
		},
		[]string{"source"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_retry_attempts_total",
			Help: "Retried data source calls",
		},
		[]string{"source"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eligibility_circuit_state",
			Help: "Circuit breaker state per template and data source: 0 closed, 1 half-open, 2 open",
		},
		[]string{"template", "source"},
	)
)

// Result labels for EvaluationsTotal.
const (
	ResultIncluded = "included"
	ResultExcluded = "excluded"
	ResultFailed   = "failed"
)

// Recorder exports engine events to Prometheus. It observes data source
// calls, breaker transitions and finished evaluations.
type Recorder struct{}

func NewRecorder() *Recorder { return &Recorder{} }

func (Recorder) SourceCall(source, outcome string, elapsed time.Duration) {
	DataSourceCalls.WithLabelValues(source, outcome).Inc()
	DataSourceDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func (Recorder) CacheLookup(_ string, hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CacheLookups.WithLabelValues("miss").Inc()
}

func (Recorder) RetryAttempt(source string) {
	RetryAttempts.WithLabelValues(source).Inc()
}

// BreakerState matches breaker.StateFunc.
func (Recorder) BreakerState(key breaker.Key, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	CircuitState.WithLabelValues(key.Template, key.Source).Set(v)
}

func (Recorder) EvaluationFinished(_ context.Context, r engine.Report) {
	EvaluationsTotal.WithLabelValues(ResultOf(r.Result)).Inc()
	EvaluationDuration.Observe(r.Duration.Seconds())
}

// ResultOf labels an evaluation result.
func ResultOf(res *engine.EligibilityResult) string {
	switch {
	case res == nil || res.FailureReason != "":
		return ResultFailed
	case res.Included:
		return ResultIncluded
	default:
		return ResultExcluded
	}
}
