package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP requests
	RequestsTotal *prometheus.CounterVec

	// Pipeline runs
	RunsTotal   *prometheus.CounterVec // by outcome: completed, partial, failed, wrong_secret, too_large, no_documents, invalid
	RunDuration prometheus.Histogram
	ActiveRuns  prometheus.Gauge

	// Per-document recompression
	DocumentsTotal      *prometheus.CounterVec   // by result: success, error
	DocumentDuration    *prometheus.HistogramVec // by strategy
	OriginalBytesHist   prometheus.Histogram
	CompressedBytesHist prometheus.Histogram
	ReductionRatio      prometheus.Histogram // compressed/original

	// Archive extraction
	ExtractedEntriesHist prometheus.Histogram

	// Downloads of published results
	DownloadsTotal *prometheus.CounterVec // by status: served, expired, unauthorized, not_found, error

	// Backend performance
	DatabaseQueryDuration *prometheus.HistogramVec // by db_type, op
	StorageOpDuration     *prometheus.HistogramVec // by storage_type, op, result

	// Authentication/Security
	SignatureFailuresTotal prometheus.Counter
	ExpiredLinksTotal      prometheus.Counter
	RateLimitedTotal       prometheus.Counter

	// Callback metrics
	CallbacksTotal  *prometheus.CounterVec // by status: success, failure
	CallbackRetries prometheus.Counter

	// Janitor
	JanitorSweepsTotal  *prometheus.CounterVec // by result: ok, error
	JanitorDeletedTotal prometheus.Counter

	// Circuit breaker
	CircuitBreakerState *prometheus.GaugeVec // by backend

	// Health checks
	HealthStatus       *prometheus.GaugeVec   // by component: index, storage (1=healthy, 0=unhealthy)
	HealthChecksFailed *prometheus.CounterVec // by component

	// System metrics
	MemoryGauge     prometheus.Gauge
	GoroutinesGauge prometheus.Gauge
}

var sizeBuckets = prometheus.ExponentialBuckets(1024, 2, 24) // 1KB to ~8GB

// New creates and registers all metrics
func New() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = &Metrics{
			RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pdfsqueeze_requests_total",
				Help: "Total number of HTTP requests by route and status code",
			}, []string{"route", "status"}),

			RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pdfsqueeze_runs_total",
				Help: "Total number of pipeline runs by outcome",
			}, []string{"outcome"}),
			RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "pdfsqueeze_run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			}),
			ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "pdfsqueeze_active_runs",
				Help: "Number of currently executing pipeline runs",
			}),

			DocumentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pdfsqueeze_documents_total",
				Help: "Total documents processed by result (success, error)",
			}, []string{"result"}),
			DocumentDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "pdfsqueeze_document_duration_seconds",
				Help:    "Per-document recompression duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			}, []string{"strategy"}),
			OriginalBytesHist: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "pdfsqueeze_original_bytes",
				Help:    "Size of input documents in bytes",
				Buckets: sizeBuckets,
			}),
			CompressedBytesHist: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "pdfsqueeze_compressed_bytes",
				Help:    "Size of recompressed documents in bytes",
				Buckets: sizeBuckets,
			}),
			ReductionRatio: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "pdfsqueeze_compression_ratio",
				Help:    "Compression ratio (compressed/original)",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 1.5, 2.0},
			}),

			ExtractedEntriesHist: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "pdfsqueeze_extracted_entries",
				Help:    "Number of entries extracted per archive",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
			}),

			DownloadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pdfsqueeze_downloads_total",
				Help: "Total result downloads by status",
			}, []string{"status"}),

			DatabaseQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "pdfsqueeze_index_query_duration_seconds",
				Help:    "Result index query duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			}, []string{"db_type", "op"}),
			StorageOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "pdfsqueeze_storage_op_duration_seconds",
				Help:    "Result storage operation duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			}, []string{"storage_type", "op", "result"}),

			SignatureFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pdfsqueeze_signature_failures_total",
				Help: "Total number of failed download link verifications",
			}),
			ExpiredLinksTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pdfsqueeze_expired_links_total",
				Help: "Total number of download requests with expired links",
			}),
			RateLimitedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pdfsqueeze_rate_limited_total",
				Help: "Total number of requests rejected by the per-IP rate limiter",
			}),

			CallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pdfsqueeze_callbacks_total",
				Help: "Total number of callback attempts by status",
			}, []string{"status"}),
			CallbackRetries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pdfsqueeze_callback_retries_total",
				Help: "Total number of callback retry attempts",
			}),

			JanitorSweepsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pdfsqueeze_janitor_sweeps_total",
				Help: "Total number of expired-result sweeps by result",
			}, []string{"result"}),
			JanitorDeletedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pdfsqueeze_janitor_deleted_total",
				Help: "Total number of expired results removed",
			}),

			CircuitBreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pdfsqueeze_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			}, []string{"backend"}),

			HealthStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pdfsqueeze_health_status",
				Help: "Health status by component (1=healthy, 0=unhealthy)",
			}, []string{"component"}),
			HealthChecksFailed: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pdfsqueeze_health_checks_failed_total",
				Help: "Total number of failed health checks by component",
			}, []string{"component"}),

			MemoryGauge: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "pdfsqueeze_memory_heap_alloc_bytes",
				Help: "Current heap allocation in bytes",
			}),
			GoroutinesGauge: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "pdfsqueeze_goroutines",
				Help: "Number of goroutines",
			}),
		}
	})

	return defaultMetrics
}

// StartRuntimeMetricsCollector updates runtime gauges every interval until ctx is done
func (m *Metrics) StartRuntimeMetricsCollector(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			m.MemoryGauge.Set(float64(mem.HeapAlloc))
			m.GoroutinesGauge.Set(float64(runtime.NumGoroutine()))

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
