package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brand_assistant_turn_duration_seconds",
			Help:    "Conversation turn processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"state"},
	)

	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_turns_total",
			Help: "Total number of conversation turns by final state",
		},
		[]string{"brand", "state"},
	)

	RetrievalResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brand_assistant_retrieval_results_count",
			Help:    "Number of passages returned per retrieval",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		},
		[]string{"brand"},
	)

	RetrievalFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_retrieval_failures_total",
			Help: "Retrievals that failed because the index or embedder was unavailable",
		},
		[]string{"brand"},
	)

	TopSimilarity = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brand_assistant_top_similarity_score",
			Help:    "Similarity of the best passage per retrieval",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	WebSearchTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_web_search_total",
			Help: "Web search fallbacks by outcome",
		},
		[]string{"status"},
	)

	SchedulingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_scheduling_requests_total",
			Help: "Scheduling proposals by outcome",
		},
		[]string{"status"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_llm_requests_total",
			Help: "LLM provider calls by outcome",
		},
		[]string{"provider", "status"},
	)

	LLMFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_llm_fallbacks_total",
			Help: "Times generation fell through to the named provider",
		},
		[]string{"provider"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"provider", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_documents_processed_total",
			Help: "Total documents ingested",
		},
		[]string{"brand"},
	)

	ChunksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_chunks_ingested_total",
			Help: "Total chunks written to the vector index",
		},
		[]string{"brand"},
	)

	LeadsCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_leads_captured_total",
			Help: "Completed lead collections by brand",
		},
		[]string{"brand_id"},
	)

	SubscriptionChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brand_assistant_subscription_changes_total",
			Help: "Opt-out and opt-in requests by action",
		},
		[]string{"action"},
	)

	SessionLockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "brand_assistant_session_lock_wait_seconds",
			Help:    "Time spent waiting for the per-session lock",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			TurnDuration,
			TurnsTotal,
			RetrievalResults,
			RetrievalFailures,
			TopSimilarity,
			WebSearchTriggered,
			SchedulingRequests,
			LLMRequests,
			LLMFallbacks,
			LLMTokensUsed,
			CacheHits,
			CacheMisses,
			DocumentsProcessed,
			ChunksIngested,
			LeadsCaptured,
			SubscriptionChanges,
			SessionLockWait,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
