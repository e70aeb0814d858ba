/*
Package cmetrics provides Prometheus metrics collection and exposition for
chronicle storage nodes.

Metrics are grouped by the component that owns them and registered at
package init via MustRegister.

# Metrics Catalog

Catalog:

	chronicle_catalog_sequence               Gauge   current applied sequence number
	chronicle_catalog_databases_total         Gauge   non-deleted databases
	chronicle_catalog_tables_total            Gauge   non-deleted tables across all databases
	chronicle_catalog_write_retries_total     Counter GetPermitAndVerify retries due to sequence mismatch
	chronicle_catalog_checkpoints_total       Counter checkpoints written
	chronicle_catalog_apply_duration_seconds  Histogram time to compose, log, and apply one batch

Write path:

	chronicle_write_rows_total{database}           Counter rows admitted
	chronicle_write_rejected_lines_total{reason}   Counter rejected lines
	chronicle_write_admit_duration_seconds         Histogram time to admit one batch

Persister:

	chronicle_persisted_files_total    Counter Parquet files written
	chronicle_persisted_bytes_total    Counter bytes written
	chronicle_persist_duration_seconds Histogram time to encode and write one file

Compactor:

	chronicle_compaction_jobs_total{outcome}                                  Counter jobs by outcome
	chronicle_compaction_job_duration_seconds{source_generation,target_generation} Histogram
	chronicle_compaction_cycles_total        Counter cycles completed
	chronicle_compaction_files_input_total   Counter input files consumed
	chronicle_compaction_files_output_total  Counter output files produced
	chronicle_file_index_files_total{generation} Gauge files currently registered

# Usage

	import "github.com/cuemby/chronicle/pkg/cmetrics"

	cmetrics.CatalogDatabasesTotal.Set(3)
	cmetrics.WriteRowsTotal.WithLabelValues("weather").Add(42)

	timer := cmetrics.NewTimer()
	persistFile()
	timer.ObserveDuration(cmetrics.PersistDuration)

	http.Handle("/metrics", cmetrics.Handler())

# Health

HealthHandler, ReadyHandler, and LivenessHandler expose /healthz, /readyz,
and /livez; RegisterComponent/UpdateComponent track per-subsystem health,
with catalog, objstore, and cataloglog treated as critical.
*/
package cmetrics
