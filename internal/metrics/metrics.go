package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IngestMetrics covers parsing, persistence and the call-tree cache.
type IngestMetrics struct {
	ThreadsParsed   *prometheus.CounterVec // by file type
	StanzaFailures  *prometheus.CounterVec // by error kind
	FilesProcessed  *prometheus.CounterVec // by file type
	RowsInserted    *prometheus.CounterVec // by table
	BatchErrors     *prometheus.CounterVec // by table
	BatchDuration   *prometheus.HistogramVec
	TreeCacheHits   prometheus.Counter
	TreeCacheMisses prometheus.Counter
	TasksRunning    prometheus.Gauge
}

var (
	metrics     *IngestMetrics
	metricsOnce sync.Once
)

func InitMetrics() {
	metricsOnce.Do(func() {
		metrics = &IngestMetrics{
			ThreadsParsed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "threadviewer_threads_parsed_total",
					Help: "Thread stanzas parsed successfully",
				},
				[]string{"file_type"},
			),
			StanzaFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "threadviewer_stanza_failures_total",
					Help: "Thread stanzas skipped because they could not be parsed",
				},
				[]string{"reason"},
			),
			FilesProcessed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "threadviewer_files_processed_total",
					Help: "Bundle files classified during analysis",
				},
				[]string{"file_type"},
			),
			RowsInserted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "threadviewer_rows_inserted_total",
					Help: "Rows committed by the batch ingestion pipeline",
				},
				[]string{"table"},
			),
			BatchErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "threadviewer_batch_errors_total",
					Help: "Failed ingestion transactions",
				},
				[]string{"table"},
			),
			BatchDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "threadviewer_batch_duration_seconds",
					Help:    "Wall time of one BatchAdd call",
					Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
				},
				[]string{"table"},
			),
			TreeCacheHits: promauto.NewCounter(prometheus.CounterOpts{
				Name: "threadviewer_tree_cache_hits_total",
				Help: "Call-tree lookups served from cache",
			}),
			TreeCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
				Name: "threadviewer_tree_cache_misses_total",
				Help: "Call-tree lookups that required a build",
			}),
			TasksRunning: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "threadviewer_tasks_running",
				Help: "Analysis tasks currently executing",
			}),
		}
	})
}

// GetMetrics returns the initialized metrics
func GetMetrics() *IngestMetrics {
	InitMetrics()
	return metrics
}
