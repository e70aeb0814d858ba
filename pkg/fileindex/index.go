package fileindex

import (
	"sort"
	"sync"

	"github.com/cuemby/chronicle/pkg/catalog"
)

// TableKey identifies a table's file list.
type TableKey struct {
	DbID    catalog.DbID
	TableID catalog.TableID
}

// Index is the per-table append-only list of registered Parquet files,
// protected by a single mutex. Eviction is driven solely by compaction
// (Remove of the inputs it rewrote) and hard deletion; retention-driven
// deletion is layered on top by a caller using catalog.RetentionCutoffs,
// not by the index itself.
type Index struct {
	mu    sync.RWMutex
	files map[TableKey]map[uint64]catalog.ParquetFile
	next  uint64
}

// New creates an empty Index.
func New() *Index {
	return &Index{files: make(map[TableKey]map[uint64]catalog.ParquetFile)}
}

// NextID allocates a file id. Ids are process-local monotonic counters;
// they are never persisted independently of the file they name, so a
// restored Index (see LoadSnapshot) rebases its counter past the
// highest id it restores.
func (idx *Index) NextID() uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	id := idx.next
	idx.next++
	return id
}

// Add registers files under key, keyed by their own IDs.
func (idx *Index) Add(key TableKey, files ...catalog.ParquetFile) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bucket := idx.files[key]
	if bucket == nil {
		bucket = make(map[uint64]catalog.ParquetFile, len(files))
		idx.files[key] = bucket
	}
	for _, f := range files {
		bucket[f.ID] = f
		if f.ID >= idx.next {
			idx.next = f.ID + 1
		}
	}
}

// Remove deletes files named by ids from key's list.
func (idx *Index) Remove(key TableKey, ids ...uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bucket := idx.files[key]
	if bucket == nil {
		return
	}
	for _, id := range ids {
		delete(bucket, id)
	}
}

// Swap atomically removes inputIDs and adds outputs under key in one
// critical section, so a reader under the same mutex never observes a
// state with neither the inputs nor the outputs: it sees either the
// pre-compaction set or the post-compaction set, never a mix.
func (idx *Index) Swap(key TableKey, inputIDs []uint64, outputs []catalog.ParquetFile) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bucket := idx.files[key]
	if bucket == nil {
		bucket = make(map[uint64]catalog.ParquetFile)
		idx.files[key] = bucket
	}
	for _, id := range inputIDs {
		delete(bucket, id)
	}
	for _, f := range outputs {
		bucket[f.ID] = f
		if f.ID >= idx.next {
			idx.next = f.ID + 1
		}
	}
}

// Get returns every file registered for key, sorted by MinTime then ID
// for deterministic iteration (plan building, snapshotting).
func (idx *Index) Get(key TableKey) []catalog.ParquetFile {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	bucket := idx.files[key]
	out := make([]catalog.ParquetFile, 0, len(bucket))
	for _, f := range bucket {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MinTime != out[j].MinTime {
			return out[i].MinTime < out[j].MinTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Keys returns every (db_id, table_id) pair with at least one registered
// file.
func (idx *Index) Keys() []TableKey {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]TableKey, 0, len(idx.files))
	for k, bucket := range idx.files {
		if len(bucket) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// Count returns the total number of registered files across all tables.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, bucket := range idx.files {
		n += len(bucket)
	}
	return n
}

// CountByGeneration returns the number of registered files per
// generation, for the chronicle_file_index_files_total metric.
func (idx *Index) CountByGeneration() map[catalog.Generation]int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[catalog.Generation]int)
	for _, bucket := range idx.files {
		for _, f := range bucket {
			out[f.Generation]++
		}
	}
	return out
}

// Snapshot is the full, flattened contents of the index, produced by
// SaveSnapshot and consumed by LoadSnapshot; SaveToStore/LoadFromStore
// persist it as its own object in the store.
type Snapshot struct {
	Entries []SnapshotEntry
}

// SnapshotEntry pairs a TableKey with one of its files.
type SnapshotEntry struct {
	Key  TableKey
	File catalog.ParquetFile
}

// SaveSnapshot flattens the index for serialization.
func (idx *Index) SaveSnapshot() Snapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out Snapshot
	for key, bucket := range idx.files {
		for _, f := range bucket {
			out.Entries = append(out.Entries, SnapshotEntry{Key: key, File: f})
		}
	}
	return out
}

// LoadSnapshot replaces the index's contents with snap's, rebasing the
// id counter past the highest restored file id.
func (idx *Index) LoadSnapshot(snap Snapshot) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.files = make(map[TableKey]map[uint64]catalog.ParquetFile)
	for _, e := range snap.Entries {
		bucket := idx.files[e.Key]
		if bucket == nil {
			bucket = make(map[uint64]catalog.ParquetFile)
			idx.files[e.Key] = bucket
		}
		bucket[e.File.ID] = e.File
		if e.File.ID >= idx.next {
			idx.next = e.File.ID + 1
		}
	}
}
