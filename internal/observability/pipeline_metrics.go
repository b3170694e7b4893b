package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_pipeline_stage_duration_seconds",
			Help:    "Latency of each pipeline stage.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
	pipelineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_pipeline_requests_total",
			Help: "Pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)
	parseCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_parse_cache_lookups_total",
			Help: "Validator parse cache lookups by result.",
		},
		[]string{"result"},
	)
	tableExtractionFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_table_extraction_fallbacks_total",
			Help: "Documents whose table extraction fell back to token scanning.",
		},
	)
	sqlExtractionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_sql_extraction_total",
			Help: "SQL extraction attempts by winning strategy.",
		},
		[]string{"strategy"},
	)
	validationResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_validation_results_total",
			Help: "Validation results by validity.",
		},
		[]string{"valid"},
	)
	executorBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_executor_blocked_total",
			Help: "Statements refused before reaching the warehouse, by reason.",
		},
		[]string{"reason"},
	)
	executorRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_executor_runs_total",
			Help: "Warehouse runs by outcome and dry-run flag.",
		},
		[]string{"outcome", "dry_run"},
	)
	executorBytesProcessed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_executor_bytes_processed",
			Help:    "Bytes processed (or estimated) per warehouse run.",
			Buckets: prometheus.ExponentialBuckets(1<<10, 8, 10),
		},
	)
	llmTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_llm_tokens_total",
			Help: "Model tokens consumed by pipeline role.",
		},
		[]string{"role"},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineStageDurationSeconds,
		pipelineRequestsTotal,
		parseCacheLookupsTotal,
		tableExtractionFallbacksTotal,
		sqlExtractionTotal,
		validationResultsTotal,
		executorBlockedTotal,
		executorRunsTotal,
		executorBytesProcessed,
		llmTokensTotal,
	)
}

func ObserveStage(stage string, elapsed time.Duration) {
	pipelineStageDurationSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func ObservePipelineOutcome(outcome string) {
	pipelineRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObserveParseCache(hit bool) {
	if hit {
		parseCacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	parseCacheLookupsTotal.WithLabelValues("miss").Inc()
}

func IncrementTableExtractionFallback() {
	tableExtractionFallbacksTotal.Inc()
}

func ObserveSQLExtraction(strategy string) {
	if strategy == "" {
		strategy = "none"
	}
	sqlExtractionTotal.WithLabelValues(strategy).Inc()
}

func ObserveValidation(valid bool) {
	validationResultsTotal.WithLabelValues(strconv.FormatBool(valid)).Inc()
}

func ObserveExecutorBlocked(reason string) {
	executorBlockedTotal.WithLabelValues(reason).Inc()
}

func ObserveExecution(dryRun, success bool, bytesProcessed int64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	executorRunsTotal.WithLabelValues(outcome, strconv.FormatBool(dryRun)).Inc()
	if success && bytesProcessed >= 0 {
		executorBytesProcessed.Observe(float64(bytesProcessed))
	}
}

func ObserveTokens(role string, tokens int) {
	if tokens > 0 {
		llmTokensTotal.WithLabelValues(role).Add(float64(tokens))
	}
}
