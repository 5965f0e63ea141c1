// Package metrics holds the Prometheus metric definitions for the
// indexing engine: queue depth, dedup ratio, per-phase pipeline latency,
// transaction throughput, and GC sweep counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	EventQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultdex_event_queue_depth",
			Help: "Current number of events waiting in the event queue",
		},
	)

	EventQueueDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultdex_event_queue_drops_total",
			Help: "Total number of events dropped by backpressure policy",
		},
		[]string{"policy"},
	)

	TransactionQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultdex_transaction_queue_depth",
			Help: "Current number of transactions waiting in the transaction queue",
		},
	)

	// Pipeline metrics
	PipelinePhaseLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaultdex_pipeline_phase_duration_seconds",
			Help:    "Time taken by each pipeline phase in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	NotesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultdex_notes_processed_total",
			Help: "Total number of notes processed by outcome",
		},
		[]string{"outcome"},
	)

	// Dedup / block store metrics
	BlockStoreDedupRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultdex_blockstore_dedup_ratio",
			Help: "Fraction of stored blocks that are references to an existing hash",
		},
	)

	BlocksStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultdex_blocks_stored_total",
			Help: "Total number of distinct block hashes stored",
		},
	)

	// Enrichment metrics
	EnrichmentBatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultdex_enrichment_batch_duration_seconds",
			Help:    "Time taken to embed one enrichment batch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EnrichmentBlocksEmbeddedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultdex_enrichment_blocks_embedded_total",
			Help: "Total number of blocks successfully embedded",
		},
	)

	EnrichmentRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultdex_enrichment_retries_total",
			Help: "Total number of embedding provider retries",
		},
	)

	// Transaction metrics
	TransactionApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultdex_transaction_apply_duration_seconds",
			Help:    "Time taken to apply a transaction in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TransactionsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultdex_transactions_applied_total",
			Help: "Total number of transactions applied by outcome",
		},
		[]string{"outcome"},
	)

	// GC metrics
	GCSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultdex_gc_sweep_duration_seconds",
			Help:    "Time taken for an orphaned-block sweep cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	GCBlocksReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultdex_gc_blocks_reclaimed_total",
			Help: "Total number of orphaned blocks reclaimed by GC",
		},
	)

	// Watcher metrics
	FileEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultdex_file_events_total",
			Help: "Total number of filesystem events observed by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(EventQueueDepth)
	prometheus.MustRegister(EventQueueDropsTotal)
	prometheus.MustRegister(TransactionQueueDepth)
	prometheus.MustRegister(PipelinePhaseLatency)
	prometheus.MustRegister(NotesProcessedTotal)
	prometheus.MustRegister(BlockStoreDedupRatio)
	prometheus.MustRegister(BlocksStoredTotal)
	prometheus.MustRegister(EnrichmentBatchLatency)
	prometheus.MustRegister(EnrichmentBlocksEmbeddedTotal)
	prometheus.MustRegister(EnrichmentRetriesTotal)
	prometheus.MustRegister(TransactionApplyDuration)
	prometheus.MustRegister(TransactionsAppliedTotal)
	prometheus.MustRegister(GCSweepDuration)
	prometheus.MustRegister(GCBlocksReclaimedTotal)
	prometheus.MustRegister(FileEventsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
