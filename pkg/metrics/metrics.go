// Package metrics holds the Prometheus collectors shared by nadia services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadia_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"service", "method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadia_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "method", "path"})

	StreamsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nadia_streams_active",
		Help: "Chat streams currently open",
	})

	SSEEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadia_sse_events_total",
		Help: "SSE events emitted by type",
	}, []string{"event"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nadia_rate_limited_total",
		Help: "Requests rejected by rate limiting or backpressure",
	})

	GatherLayerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadia_gather_layer_duration_seconds",
		Help:    "Context gather fan-out latency per layer",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1, 2, 5},
	}, []string{"layer"})

	GatherLayerMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadia_gather_layer_misses_total",
		Help: "Gather layers that returned nothing, by cause (deadline/error/empty)",
	}, []string{"layer", "cause"})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadia_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"provider", "model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadia_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider", "model"})

	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadia_llm_tokens_total",
		Help: "Tokens consumed by direction (input/output)",
	}, []string{"provider", "model", "direction"})

	MemorySavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadia_memory_saves_total",
		Help: "Memory write outcomes (inserted/merged/rejected)",
	}, []string{"tier", "outcome"})

	RecallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nadia_recall_duration_seconds",
		Help:    "Hybrid recall latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 1},
	})

	RecallResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nadia_recall_results",
		Help:    "Memories returned per recall",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
	})

	AuditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadia_audits_total",
		Help: "Audit pipeline runs by outcome",
	}, []string{"outcome"})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadia_jobs_total",
		Help: "Recall jobs by type and outcome",
	}, []string{"type", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nadia_job_duration_seconds",
		Help:    "Recall job execution duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"type"})

	CapsulesPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nadia_capsules_published_total",
		Help: "Research capsules published to the cache",
	})

	CapsulesInjectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nadia_capsules_injected_total",
		Help: "Research capsules injected into streams",
	})

	RecallInjectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadia_recall_injections_total",
		Help: "Unlimited-recall injections by trigger and strategy",
	}, []string{"trigger", "strategy"})

	MemoriesExpiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nadia_memories_expired_total",
		Help: "Memories soft-deleted by TTL sweep",
	}, []string{"tier"})

	EmbeddingsBackfilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nadia_embeddings_backfilled_total",
		Help: "Memory embeddings generated by the backfill sweep",
	})
)
