// Package compactor periodically rewrites small Parquet files into
// coarser generations.
//
// Its run loop is a time.Ticker plus select against a shutdown channel,
// one cycle per tick, logging and continuing past per-entity errors so
// that one failure never aborts the cycle. Each cycle groups
// per-(database, table) jobs and executes them with bounded
// concurrency (MaxConcurrentJobs defaults to 4) implemented with
// golang.org/x/sync/errgroup plus a buffered channel semaphore.
//
// ledger.go uses go.etcd.io/bbolt as a small local "jobs in flight"
// durability log: a crash mid-cycle must not double-run a job whose
// outputs already landed but whose index swap hadn't committed yet.
package compactor
