package fileindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/objstore/memobj"
)

func TestAddAndGetOrdersByMinTimeThenID(t *testing.T) {
	idx := New()
	key := TableKey{DbID: 1, TableID: 1}

	idx.Add(key,
		catalog.ParquetFile{ID: 2, MinTime: 200},
		catalog.ParquetFile{ID: 1, MinTime: 100},
		catalog.ParquetFile{ID: 3, MinTime: 100},
	)

	files := idx.Get(key)
	require.Len(t, files, 3)
	require.Equal(t, uint64(1), files[0].ID)
	require.Equal(t, uint64(3), files[1].ID)
	require.Equal(t, uint64(2), files[2].ID)
}

func TestSwapRemovesInputsAndAddsOutputsAtomically(t *testing.T) {
	idx := New()
	key := TableKey{DbID: 1, TableID: 1}

	idx.Add(key,
		catalog.ParquetFile{ID: 1, MinTime: 0, Generation: 1},
		catalog.ParquetFile{ID: 2, MinTime: 100, Generation: 1},
	)
	require.Equal(t, 2, idx.Count())

	idx.Swap(key, []uint64{1, 2}, []catalog.ParquetFile{
		{ID: 3, MinTime: 0, Generation: 2},
	})

	files := idx.Get(key)
	require.Len(t, files, 1)
	require.Equal(t, uint64(3), files[0].ID)
	require.Equal(t, 1, idx.CountByGeneration()[catalog.Generation(2)])
}

func TestNextIDRebasesPastHighestLoadedID(t *testing.T) {
	idx := New()
	key := TableKey{DbID: 1, TableID: 1}
	idx.Add(key, catalog.ParquetFile{ID: 41})

	next := idx.NextID()
	require.Equal(t, uint64(42), next)
}

func TestSaveAndLoadFromStoreRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := memobj.New()

	idx := New()
	key := TableKey{DbID: 2, TableID: 7}
	idx.Add(key, catalog.ParquetFile{ID: 5, Path: "dbs/x/gen1/a.parquet", MinTime: 10, MaxTime: 20})

	require.NoError(t, idx.SaveToStore(ctx, store))

	restored := New()
	require.NoError(t, restored.LoadFromStore(ctx, store))

	files := restored.Get(key)
	require.Len(t, files, 1)
	require.Equal(t, "dbs/x/gen1/a.parquet", files[0].Path)
	require.Equal(t, uint64(6), restored.NextID())
}

func TestLoadFromStoreWithNoSnapshotStartsEmpty(t *testing.T) {
	ctx := context.Background()
	store := memobj.New()

	idx := New()
	require.NoError(t, idx.LoadFromStore(ctx, store))
	require.Equal(t, 0, idx.Count())
}

func TestKeysOnlyReturnsNonEmptyBuckets(t *testing.T) {
	idx := New()
	key := TableKey{DbID: 1, TableID: 1}
	idx.Add(key, catalog.ParquetFile{ID: 1})
	idx.Remove(key, 1)

	require.Empty(t, idx.Keys())
}
