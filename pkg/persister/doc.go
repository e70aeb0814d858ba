// Package persister encodes row batches into Parquet files and writes
// them to the object store: Arrow schema built once, a pqarrow.FileWriter
// configured for ZSTD compression, written through in one shot, closed.
// Persist returns ErrNoRows instead of ever writing an empty file.
package persister
