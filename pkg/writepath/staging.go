package writepath

import (
	"sync"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/persister"
)

// chunkKey identifies one staging bucket: a table at a given
// generation-1 chunk boundary.
type chunkKey struct {
	DbID      catalog.DbID
	TableID   catalog.TableID
	ChunkTime int64
}

// Staging accumulates admitted rows keyed by (db_id, table_id,
// chunk_time), where chunk_time = floor(ts/gen1_duration)*gen1_duration.
// It is flushed by the write path's owner (directly, or on a timer)
// into generation-1 Parquet files.
type Staging struct {
	mu      sync.Mutex
	buckets map[chunkKey][]persister.Row
	tables  map[catalog.TableID]catalog.Table
	dbIDs   map[catalog.TableID]catalog.DbID
}

// NewStaging creates an empty Staging buffer.
func NewStaging() *Staging {
	return &Staging{
		buckets: make(map[chunkKey][]persister.Row),
		tables:  make(map[catalog.TableID]catalog.Table),
		dbIDs:   make(map[catalog.TableID]catalog.DbID),
	}
}

// Route appends row to the bucket for (dbID, table, chunkTime).
func (s *Staging) Route(dbID catalog.DbID, table catalog.Table, chunkTime int64, row persister.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := chunkKey{DbID: dbID, TableID: table.ID, ChunkTime: chunkTime}
	s.buckets[key] = append(s.buckets[key], row)
	s.tables[table.ID] = table
	s.dbIDs[table.ID] = dbID
}

// Bucket is one flushable unit of staged rows.
type Bucket struct {
	DbID      catalog.DbID
	Table     catalog.Table
	ChunkTime int64
	Rows      []persister.Row
}

// DrainAll removes and returns every staged bucket, for a full flush
// cycle.
func (s *Staging) DrainAll() []Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Bucket, 0, len(s.buckets))
	for key, rows := range s.buckets {
		out = append(out, Bucket{DbID: key.DbID, Table: s.tables[key.TableID], ChunkTime: key.ChunkTime, Rows: rows})
	}
	s.buckets = make(map[chunkKey][]persister.Row)
	return out
}

// Len reports the total number of staged rows across all buckets.
func (s *Staging) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rows := range s.buckets {
		n += len(rows)
	}
	return n
}
