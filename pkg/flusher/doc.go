// Package flusher periodically drains the write path's staging buffer
// into generation-1 Parquet files: for each staged (db, table,
// chunk_time) bucket it persists one file, registers it in the
// persisted-files index, and appends a persisted snapshot record
// summarizing what was added.
//
// Its run loop follows the same time.Ticker-plus-shutdown-channel shape
// as pkg/compactor's, since both are periodic background cycles with
// the same cooperative-cancellation requirement.
package flusher
