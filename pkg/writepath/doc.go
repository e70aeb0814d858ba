// Package writepath admits line-protocol batches into a database: it
// extends the catalog with any schema elements a batch needs before
// acknowledging a single row, then routes admitted rows into a staging
// buffer keyed by (db_id, table_id, chunk_time) ready for the
// persister to flush at generation 1.
//
// Admitter.Admit is a synchronous request/response path, not a
// reconciliation loop, but keeps the same incremental "stage work,
// commit state, report partial outcomes" shape and the same
// log-and-continue style for the lines a partial_ok request rejects
// rather than aborts.
package writepath
