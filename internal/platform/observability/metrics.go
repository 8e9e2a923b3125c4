package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ArticlesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_articles_ingested_total",
		Help: "The total number of ingested articles",
	}, []string{"source_type"})

	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_fetch_requests_total",
		Help: "Total number of HTTP fetch attempts",
	}, []string{"status"})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newspipe_fetch_duration_seconds",
		Help:    "Duration of HTTP fetches including retries",
		Buckets: prometheus.DefBuckets,
	})

	RenderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_render_requests_total",
		Help: "Total number of headless browser renders",
	}, []string{"status"})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newspipe_render_duration_seconds",
		Help:    "Duration of headless browser renders",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60},
	})

	ExtractionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_extraction_attempts_total",
		Help: "Total number of extraction attempts by strategy and outcome",
	}, []string{"strategy", "status"})

	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newspipe_extraction_duration_seconds",
		Help:    "Duration of a single extraction strategy run",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})

	MemoryPatternHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_memory_pattern_hits_total",
		Help: "Total number of extraction attempts resolved by a remembered pattern",
	}, []string{"result"})

	MemoryAISkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newspipe_memory_ai_skipped_total",
		Help: "Total number of AI discovery calls suppressed by stability, cooldown or budget",
	})

	FilterDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_filter_drops_total",
		Help: "Total number of articles dropped by the smart filter by reason",
	}, []string{"reason"})

	FilterQualityScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newspipe_filter_quality_score",
		Help:    "Distribution of quality scores for filtered articles",
		Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	AdScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newspipe_ad_score",
		Help:    "Distribution of advertisement detector scores",
		Buckets: []float64{0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.5, 0.75, 1.0},
	})

	AIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_ai_requests_total",
		Help: "Total number of AI requests",
	}, []string{"model", "task", "status"})

	AIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newspipe_ai_request_duration_seconds",
		Help:    "Duration of AI requests",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"model", "task"})

	AITokensPrompt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_ai_tokens_prompt_total",
		Help: "Total number of prompt tokens used",
	}, []string{"model", "task"})

	AITokensCompletion = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_ai_tokens_completion_total",
		Help: "Total number of completion tokens used",
	}, []string{"model", "task"})

	AICacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newspipe_ai_cache_hits_total",
		Help: "Total number of AI response cache hits",
	})

	AICacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newspipe_ai_cache_misses_total",
		Help: "Total number of AI response cache misses",
	})

	AICircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "newspipe_ai_circuit_breaker_state",
		Help: "Current state of the AI circuit breaker (0=closed, 1=open)",
	})

	AICircuitBreakerOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newspipe_ai_circuit_breaker_opens_total",
		Help: "Total number of times the AI circuit breaker opened",
	})

	CategoryResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_category_resolutions_total",
		Help: "Total number of AI category label resolutions by outcome",
	}, []string{"outcome"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "newspipe_queue_depth",
		Help: "Number of queued tasks by status",
	}, []string{"status"})

	QueueOldestAgeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "newspipe_queue_oldest_age_seconds",
		Help: "Age in seconds of the oldest pending task",
	})

	QueueWriteRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_queue_write_retries_total",
		Help: "Total number of retried queue writes by SQLSTATE code",
	}, []string{"code"})

	QueueBackpressureWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newspipe_queue_backpressure_waits_total",
		Help: "Total number of producer waits triggered by the high-water mark",
	})

	PipelineProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_pipeline_processed_total",
		Help: "The total number of articles processed by the pipeline",
	}, []string{"status"})

	PipelineBatchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newspipe_pipeline_batch_duration_seconds",
		Help:    "Duration in seconds to process a pipeline batch",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	PipelineArticleAgeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newspipe_pipeline_article_age_seconds",
		Help:    "Age of articles when pipeline processing starts",
		Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 43200, 86400, 172800, 604800},
	})

	DigestsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_digests_posted_total",
		Help: "The total number of digests posted",
	}, []string{"status"})

	DigestArticles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "newspipe_digest_articles",
		Help: "Number of articles included in the last digest",
	})

	SchedulerTaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_scheduler_task_runs_total",
		Help: "Total number of scheduled task executions",
	}, []string{"task", "status"})

	SchedulerTaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newspipe_scheduler_task_duration_seconds",
		Help:    "Duration of scheduled task executions",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
	}, []string{"task"})

	SchedulerStuckResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newspipe_scheduler_stuck_resets_total",
		Help: "Total number of tasks reset after exceeding the stuck threshold",
	})

	MigrationDegradedMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "newspipe_migration_degraded_mode",
		Help: "Whether the service is running in degraded schema mode (0=no, 1=yes)",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_http_requests_total",
		Help: "Total number of HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "newspipe_http_request_duration_seconds",
		Help:    "Duration of HTTP requests by route",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "route"})

	SourceFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newspipe_source_fetch_errors_total",
		Help: "Total number of source fetch failures",
	}, []string{"source_type"})
)
