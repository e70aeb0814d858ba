// Package fileindex is the persisted-files index: per (db_id,
// table_id), the list of Parquet file descriptors the write path and
// compactor register and retire. It follows a Put/Delete/ForEach
// per-bucket shape generalized from a persistent bucket store to an
// in-memory map guarded by a single mutex. It is made durable by saving
// a snapshot of the whole index as one JSON object in the object store
// (persist.go), so the index itself only needs to be fast and correct
// for concurrent readers and a single compactor/writer.
package fileindex
