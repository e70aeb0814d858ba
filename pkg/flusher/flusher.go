package flusher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/clog"
	"github.com/cuemby/chronicle/pkg/cmetrics"
	"github.com/cuemby/chronicle/pkg/fileindex"
	"github.com/cuemby/chronicle/pkg/objstore"
	"github.com/cuemby/chronicle/pkg/persister"
	"github.com/cuemby/chronicle/pkg/persistedsnapshots"
	"github.com/cuemby/chronicle/pkg/writepath"
)

// Flusher periodically drains a Staging buffer into generation-1
// Parquet files and registers them in a fileindex.Index.
type Flusher struct {
	staging   *writepath.Staging
	persister *persister.Persister
	index     *fileindex.Index
	snapshots *persistedsnapshots.Log
	cat       *catalog.Catalog
	store     objstore.Store

	interval time.Duration
	seq      uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Flusher. interval <= 0 defaults to 10s.
func New(staging *writepath.Staging, store objstore.Store, index *fileindex.Index, snapshots *persistedsnapshots.Log, cat *catalog.Catalog, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Flusher{
		staging:   staging,
		persister: persister.New(store),
		index:     index,
		snapshots: snapshots,
		cat:       cat,
		store:     store,
		interval:  interval,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the run loop in a goroutine.
func (fl *Flusher) Start() {
	go fl.run()
}

// Stop signals shutdown and waits for the in-flight cycle to finish,
// after running one final drain so no staged rows are lost.
func (fl *Flusher) Stop() {
	close(fl.stopCh)
	<-fl.doneCh
}

func (fl *Flusher) run() {
	defer close(fl.doneCh)
	logger := clog.WithComponent("flusher")
	ticker := time.NewTicker(fl.interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", fl.interval).Msg("flusher started")

	for {
		select {
		case <-ticker.C:
			if err := fl.Drain(context.Background()); err != nil {
				logger.Error().Err(err).Msg("flush cycle failed")
			}
		case <-fl.stopCh:
			if err := fl.Drain(context.Background()); err != nil {
				logger.Error().Err(err).Msg("final flush failed")
			}
			logger.Info().Msg("flusher stopped")
			return
		}
	}
}

// Drain persists every currently staged bucket as a generation-1
// Parquet file, registers the outputs in the index, and appends one
// persisted snapshot record for the cycle. A cycle with nothing staged
// is a no-op and writes no snapshot record.
func (fl *Flusher) Drain(ctx context.Context) error {
	buckets := fl.staging.DrainAll()
	if len(buckets) == 0 {
		return nil
	}

	var added []catalog.ParquetFile
	var firstErr error
	for _, b := range buckets {
		f, err := fl.persistBucket(ctx, b)
		if err != nil {
			if errors.Is(err, persister.ErrNoRows) {
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			logger := clog.WithComponent("flusher")
			logger.Error().Err(err).
				Str("table", b.Table.Name).Msg("failed to persist staged bucket")
			continue
		}
		key := fileindex.TableKey{DbID: b.DbID, TableID: b.Table.ID}
		fl.index.Add(key, f)
		added = append(added, f)
		cmetrics.PersistedFilesTotal.Inc()
		cmetrics.PersistedBytesTotal.Add(float64(f.SizeBytes))
	}

	if len(added) == 0 {
		return firstErr
	}

	if fl.snapshots != nil {
		fl.seq++
		snap := catalog.PersistedSnapshot{
			SnapshotSeq: fl.seq,
			CatalogSeq:  fl.cat.Sequence(),
			Added:       added,
		}
		if err := fl.snapshots.Append(ctx, snap); err != nil {
			snapLogger := clog.WithComponent("flusher")
			snapLogger.Error().Err(err).Msg("failed to append persisted snapshot")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := fl.index.SaveToStore(ctx, fl.store); err != nil {
		idxLogger := clog.WithComponent("flusher")
		idxLogger.Warn().Err(err).Msg("failed to persist file index snapshot")
	}

	return firstErr
}

func (fl *Flusher) persistBucket(ctx context.Context, b writepath.Bucket) (catalog.ParquetFile, error) {
	fileID := fl.index.NextID()
	key := persister.ObjectKey(b.Table, b.DbID, 1, time.Unix(0, b.ChunkTime).UTC(), int(fileID))

	result, err := fl.persister.Persist(ctx, key, b.Table, b.Rows)
	if err != nil {
		return catalog.ParquetFile{}, fmt.Errorf("flusher: persisting %s: %w", key, err)
	}

	return catalog.ParquetFile{
		ID:         fileID,
		Path:       key,
		SizeBytes:  result.BytesWritten,
		RowCount:   result.RowCount,
		ChunkTime:  b.ChunkTime,
		MinTime:    result.MinTime,
		MaxTime:    result.MaxTime,
		Generation: 1,
	}, nil
}
