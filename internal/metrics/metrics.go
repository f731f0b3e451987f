package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the service
type Metrics struct {
	DocumentsProcessed *prometheus.CounterVec
	TokensUsed         *prometheus.CounterVec

	LLMRequests       prometheus.Counter
	LLMRequestLatency prometheus.Histogram

	QueueDepth   prometheus.Gauge
	ScanDuration prometheus.Histogram

	EntityCreations *prometheus.CounterVec
	CacheRefreshes  *prometheus.CounterVec
}

var globalMetrics *Metrics

// Init registers the Prometheus metrics. Call once from main; the Record
// helpers are no-ops until then so library code can run uninstrumented.
func Init() *Metrics {
	metrics := &Metrics{
		DocumentsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfmark_documents_processed_total",
			Help: "Documents run through the pipeline by outcome",
		}, []string{"outcome"}), // outcome: "processed", "skipped" or "failed"

		TokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfmark_llm_tokens_total",
			Help: "Tokens spent on completions by kind",
		}, []string{"kind"}), // kind: "prompt" or "completion"

		LLMRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shelfmark_llm_requests_total",
			Help: "Completion calls sent to the model endpoint",
		}),

		LLMRequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shelfmark_llm_request_duration_seconds",
			Help:    "Completion call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for slow local models
		}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shelfmark_queue_depth",
			Help: "Webhook items waiting for the pipeline",
		}),

		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shelfmark_scan_duration_seconds",
			Help:    "Full catalog scan duration in seconds",
			Buckets: []float64{1, 10, 60, 300, 900, 3600},
		}),

		EntityCreations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfmark_entities_created_total",
			Help: "Catalog entities created on behalf of suggestions",
		}, []string{"kind"}),

		CacheRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shelfmark_cache_refreshes_total",
			Help: "Wholesale catalog cache reloads",
		}, []string{"kind"}),
	}

	globalMetrics = metrics
	return metrics
}

// Get returns the global metrics instance, nil before Init.
func Get() *Metrics {
	return globalMetrics
}

// RecordDocumentProcessed counts one pipeline run by outcome.
func RecordDocumentProcessed(outcome string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.DocumentsProcessed.WithLabelValues(outcome).Inc()
}

// RecordTokenUsage counts tokens spent on one document.
func RecordTokenUsage(promptTokens, completionTokens int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.TokensUsed.WithLabelValues("prompt").Add(float64(promptTokens))
	globalMetrics.TokensUsed.WithLabelValues("completion").Add(float64(completionTokens))
}

// RecordLLMRequest counts one completion call and its latency.
func RecordLLMRequest(seconds float64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.LLMRequests.Inc()
	globalMetrics.LLMRequestLatency.Observe(seconds)
}

// SetQueueDepth publishes the current queue length.
func SetQueueDepth(depth int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.QueueDepth.Set(float64(depth))
}

// ObserveScanDuration records one finished scan.
func ObserveScanDuration(seconds float64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.ScanDuration.Observe(seconds)
}

// RecordEntityCreated counts one catalog creation by kind.
func RecordEntityCreated(kind string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.EntityCreations.WithLabelValues(kind).Inc()
}

// RecordCacheRefresh counts one wholesale cache reload by kind.
func RecordCacheRefresh(kind string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.CacheRefreshes.WithLabelValues(kind).Inc()
}
