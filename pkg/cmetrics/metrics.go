package cmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Catalog metrics
	CatalogSequence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronicle_catalog_sequence",
			Help: "Current applied catalog sequence number",
		},
	)

	CatalogDatabasesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronicle_catalog_databases_total",
			Help: "Total number of non-deleted databases in the catalog",
		},
	)

	CatalogTablesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronicle_catalog_tables_total",
			Help: "Total number of non-deleted tables across all databases",
		},
	)

	CatalogWriteRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_catalog_write_retries_total",
			Help: "Total number of GetPermitAndVerify retries due to sequence mismatch",
		},
	)

	CatalogCheckpointsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_catalog_checkpoints_total",
			Help: "Total number of catalog checkpoints written",
		},
	)

	CatalogApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chronicle_catalog_apply_duration_seconds",
			Help:    "Time to compose, log, and apply one catalog batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Write path metrics
	WriteRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_write_rows_total",
			Help: "Total number of line-protocol rows admitted, by database",
		},
		[]string{"database"},
	)

	WriteRejectedLinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_write_rejected_lines_total",
			Help: "Total number of line-protocol lines rejected, by reason",
		},
		[]string{"reason"},
	)

	WriteAdmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chronicle_write_admit_duration_seconds",
			Help:    "Time to admit one write batch end to end",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Persister metrics
	PersistedFilesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_persisted_files_total",
			Help: "Total number of Parquet files written",
		},
	)

	PersistedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_persisted_bytes_total",
			Help: "Total number of bytes written to Parquet files",
		},
	)

	PersistDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chronicle_persist_duration_seconds",
			Help:    "Time to encode and write one Parquet file",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Compactor metrics
	CompactionJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_compaction_jobs_total",
			Help: "Total number of compaction jobs, by outcome",
		},
		[]string{"outcome"},
	)

	CompactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chronicle_compaction_job_duration_seconds",
			Help:    "Time taken to execute one compaction job",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source_generation", "target_generation"},
	)

	CompactionCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_compaction_cycles_total",
			Help: "Total number of compaction cycles completed",
		},
	)

	CompactionFilesInTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_compaction_files_input_total",
			Help: "Total number of input files consumed by compaction jobs",
		},
	)

	CompactionFilesOutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chronicle_compaction_files_output_total",
			Help: "Total number of output files produced by compaction jobs",
		},
	)

	FileIndexFilesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronicle_file_index_files_total",
			Help: "Number of Parquet files currently registered, by generation",
		},
		[]string{"generation"},
	)
)

func init() {
	prometheus.MustRegister(
		CatalogSequence,
		CatalogDatabasesTotal,
		CatalogTablesTotal,
		CatalogWriteRetries,
		CatalogCheckpointsTotal,
		CatalogApplyDuration,
		WriteRowsTotal,
		WriteRejectedLinesTotal,
		WriteAdmitDuration,
		PersistedFilesTotal,
		PersistedBytesTotal,
		PersistDuration,
		CompactionJobsTotal,
		CompactionDuration,
		CompactionCyclesTotal,
		CompactionFilesInTotal,
		CompactionFilesOutTotal,
		FileIndexFilesTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
