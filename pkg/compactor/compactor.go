package compactor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/clog"
	"github.com/cuemby/chronicle/pkg/cmetrics"
	"github.com/cuemby/chronicle/pkg/fileindex"
	"github.com/cuemby/chronicle/pkg/objstore"
	"github.com/cuemby/chronicle/pkg/persister"
)

// MinFilesForCompaction is the default eligibility threshold for a
// generation to be considered for compaction.
const MinFilesForCompaction = 4

// MaxConcurrentJobs bounds how many compaction jobs run at once.
const MaxConcurrentJobs = 4

// Config configures a Compactor.
type Config struct {
	Interval              time.Duration
	MinFilesForCompaction int
	MaxConcurrentJobs     int
}

// DefaultConfig returns sensible defaults: a 1h interval, 4 files
// minimum per generation, and 4 concurrent jobs.
func DefaultConfig() Config {
	return Config{
		Interval:              time.Hour,
		MinFilesForCompaction: MinFilesForCompaction,
		MaxConcurrentJobs:     MaxConcurrentJobs,
	}
}

// Compactor runs periodic background compaction cycles over every
// non-deleted (database, table) pair.
type Compactor struct {
	cat       *catalog.Catalog
	index     *fileindex.Index
	persister *persister.Persister
	store     objstore.Store
	ledger    *Ledger
	cfg       Config

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Compactor. ledger may be nil, in which case in-flight
// jobs are not durably tracked across restarts.
func New(cat *catalog.Catalog, index *fileindex.Index, store objstore.Store, ledger *Ledger, cfg Config) *Compactor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MinFilesForCompaction <= 0 {
		cfg.MinFilesForCompaction = MinFilesForCompaction
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = MaxConcurrentJobs
	}
	return &Compactor{
		cat:       cat,
		index:     index,
		persister: persister.New(store),
		store:     store,
		ledger:    ledger,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the run loop in a goroutine.
func (c *Compactor) Start() {
	go c.run()
}

// Stop signals shutdown and waits for the in-flight cycle to finish.
func (c *Compactor) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Compactor) run() {
	defer close(c.doneCh)
	logger := clog.WithComponent("compactor")
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", c.cfg.Interval).Msg("compactor started")

	for {
		select {
		case <-ticker.C:
			if err := c.runCycle(context.Background()); err != nil {
				logger.Error().Err(err).Msg("compaction cycle failed")
			}
		case <-c.stopCh:
			logger.Info().Msg("compactor stopped")
			return
		}
	}
}

// runCycle executes one compaction cycle: plan jobs for every
// non-deleted table, then run them with bounded concurrency. Per-job
// failures are logged and do not abort the cycle.
func (c *Compactor) runCycle(ctx context.Context) error {
	defer cmetrics.CompactionCyclesTotal.Inc()

	logger := clog.WithComponent("compactor")

	var jobs []job
	for _, db := range c.cat.ListDatabases() {
		if db.Deleted {
			continue
		}
		for _, table := range db.Tables.List() {
			if table.Deleted {
				continue
			}
			key := fileindex.TableKey{DbID: db.ID, TableID: table.ID}
			jobs = append(jobs, c.planJobs(key, table)...)
		}
	}

	if len(jobs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, c.cfg.MaxConcurrentJobs)

	for _, j := range jobs {
		j := j
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := c.executeJob(gctx, j); err != nil {
				logger.Error().
					Err(err).
					Str("database", j.Table.Name).
					Int("source_generation", int(j.Source)).
					Int("target_generation", int(j.Target)).
					Msg("compaction job failed")
				cmetrics.CompactionJobsTotal.WithLabelValues("failed").Inc()
				return nil
			}
			cmetrics.CompactionJobsTotal.WithLabelValues("succeeded").Inc()
			return nil
		})
	}
	err := g.Wait()
	if saveErr := c.index.SaveToStore(ctx, c.store); saveErr != nil {
		logger.Warn().Err(saveErr).Msg("failed to persist file index snapshot")
	}
	return err
}

// executeJob runs one compaction job end to end.
func (c *Compactor) executeJob(ctx context.Context, j job) error {
	if len(j.Table.SortKey) == 0 {
		return fmt.Errorf("compactor: table %q has empty sort key", j.Table.Name)
	}
	if j.Source > 5 || j.Target > 5 {
		return fmt.Errorf("compactor: generation %d out of range", j.Source)
	}

	if c.ledger != nil {
		if pending, err := c.ledger.Pending(j); err != nil {
			return fmt.Errorf("compactor: checking ledger: %w", err)
		} else if pending {
			return fmt.Errorf("compactor: job already in flight for table %q generation %d", j.Table.Name, j.Source)
		}
		if err := c.ledger.Begin(j); err != nil {
			return fmt.Errorf("compactor: recording job start: %w", err)
		}
	}

	timer := cmetrics.NewTimer()
	defer timer.ObserveDurationVec(cmetrics.CompactionDuration, fmt.Sprint(j.Source), fmt.Sprint(j.Target))

	rows, err := c.readAndReorder(ctx, j)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		// Empty batches are skipped entirely; there is nothing to rewrite.
		if c.ledger != nil {
			_ = c.ledger.Commit(j)
		}
		return nil
	}

	outputs, err := c.writeOutputs(ctx, j, rows)
	if err != nil {
		return err
	}
	if err := validateGloballyOrdered(outputs); err != nil {
		return err
	}

	key := fileindex.TableKey{DbID: j.DbID, TableID: j.Table.ID}
	inputIDs := make([]uint64, len(j.Inputs))
	for i, f := range j.Inputs {
		inputIDs[i] = f.ID
	}
	c.index.Swap(key, inputIDs, outputs)

	cmetrics.CompactionFilesInTotal.Add(float64(len(j.Inputs)))
	cmetrics.CompactionFilesOutTotal.Add(float64(len(outputs)))

	c.deleteInputsBestEffort(ctx, j)

	if c.ledger != nil {
		if err := c.ledger.Commit(j); err != nil {
			logger := clog.WithComponent("compactor")
			logger.Warn().Err(err).Msg("failed to clear ledger entry after successful swap")
		}
	}
	return nil
}

// readAndReorder streams every input file's rows and sorts the
// combined set by the table's sort key. The sort key columns are
// compared lexicographically in the order they appear in Table.SortKey.
func (c *Compactor) readAndReorder(ctx context.Context, j job) ([]persister.Row, error) {
	var rows []persister.Row
	for _, f := range j.Inputs {
		fileRows, err := c.persister.ReadRows(ctx, c.store, f.Path, j.Table)
		if err != nil {
			return nil, fmt.Errorf("compactor: reading %s: %w", f.Path, err)
		}
		rows = append(rows, fileRows...)
	}
	sort.SliceStable(rows, func(i, ii int) bool {
		return lessBySortKey(rows[i], rows[ii], j.Table.SortKey)
	})
	return rows, nil
}

func lessBySortKey(a, b persister.Row, sortKey []catalog.ColumnID) bool {
	for _, col := range sortKey {
		av, bv := a[col], b[col]
		cmp := compareValues(av, bv)
		if cmp != 0 {
			return cmp < 0
		}
	}
	return false
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case int64:
		bv, _ := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case uint64:
		bv, _ := b.(uint64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case float64:
		bv, _ := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// writeOutputs persists rows (already reordered by sort key) as Parquet
// files at the job's target generation, recomputing and
// validating (min_time, max_time) from the written rows.
// Large inputs are split on RowGroupSize*4 row boundaries so a single
// compaction job never produces one unbounded file.
func (c *Compactor) writeOutputs(ctx context.Context, j job, rows []persister.Row) ([]catalog.ParquetFile, error) {
	timeCol, ok := j.Table.TimeColumn()
	if !ok {
		return nil, fmt.Errorf("compactor: table %q has no time column", j.Table.Name)
	}

	const maxRowsPerOutput = persister.RowGroupSize * 4
	var outputs []catalog.ParquetFile

	for start := 0; start < len(rows); start += maxRowsPerOutput {
		end := start + maxRowsPerOutput
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		if err := validateNonDecreasing(chunk, timeCol.ID); err != nil {
			return nil, err
		}

		firstTS, _ := chunk[0][timeCol.ID].(int64)
		chunkTime := time.Unix(0, firstTS).UTC()
		fileID := c.index.NextID()
		key := persister.ObjectKey(j.Table, j.DbID, j.Target, chunkTime, int(fileID))

		result, err := c.persister.Persist(ctx, key, j.Table, chunk)
		if err != nil {
			return nil, fmt.Errorf("compactor: persisting output: %w", err)
		}
		cmetrics.PersistedFilesTotal.Inc()
		cmetrics.PersistedBytesTotal.Add(float64(result.BytesWritten))

		outputs = append(outputs, catalog.ParquetFile{
			ID:         fileID,
			Path:       key,
			SizeBytes:  result.BytesWritten,
			RowCount:   result.RowCount,
			ChunkTime:  firstTS,
			MinTime:    result.MinTime,
			MaxTime:    result.MaxTime,
			Generation: j.Target,
		})
	}
	return outputs, nil
}

func validateNonDecreasing(rows []persister.Row, timeColID catalog.ColumnID) error {
	var prev int64
	first := true
	for _, row := range rows {
		ts, _ := row[timeColID].(int64)
		if !first && ts < prev {
			return fmt.Errorf("compactor: time column is not non-decreasing after sort")
		}
		prev = ts
		first = false
	}
	return nil
}

// validateGloballyOrdered asserts outputs are ordered by MinTime.
func validateGloballyOrdered(outputs []catalog.ParquetFile) error {
	for i := 1; i < len(outputs); i++ {
		if outputs[i].MinTime < outputs[i-1].MinTime {
			return fmt.Errorf("compactor: output files are not globally ordered by min_time")
		}
	}
	return nil
}

// deleteInputsBestEffort removes input blobs after a successful index
// swap; failures are logged, never propagated.
func (c *Compactor) deleteInputsBestEffort(ctx context.Context, j job) {
	logger := clog.WithComponent("compactor")
	for _, f := range j.Inputs {
		if err := c.store.Delete(ctx, f.Path); err != nil {
			logger.Warn().Err(err).Str("path", f.Path).Msg("failed to delete compacted input file")
		}
	}
}
