package compactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/fileindex"
	"github.com/cuemby/chronicle/pkg/objstore/memobj"
	"github.com/cuemby/chronicle/pkg/persister"
)

func TestExecuteJobCompactsFilesIntoNextGeneration(t *testing.T) {
	ctx := context.Background()
	cat := catalog.New(catalog.DefaultLimits, nil, nil)
	require.NoError(t, cat.SetGenerationDuration(ctx, 1, time.Minute))
	require.NoError(t, cat.SetGenerationDuration(ctx, 2, time.Hour))

	db, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)
	table, err := cat.CreateTable(ctx, db.ID, "readings", []catalog.ColumnSpec{
		{Name: "host", Type: catalog.ColumnTag},
		{Name: "temp", Type: catalog.ColumnFieldFloat64},
		{Name: "time", Type: catalog.ColumnTimestamp},
	})
	require.NoError(t, err)

	store := memobj.New()
	p := persister.New(store)
	index := fileindex.New()
	key := fileindex.TableKey{DbID: db.ID, TableID: table.ID}

	hostCol, _, _ := table.Columns.GetByName("host")
	tempCol, _, _ := table.Columns.GetByName("temp")
	timeCol, _, _ := table.Columns.GetByName("time")
	hour := time.Hour.Nanoseconds()

	var inputs []catalog.ParquetFile
	for i := 0; i < 4; i++ {
		ts := int64(i) * hour / 3
		row := persister.Row{hostCol.ID: "a", tempCol.ID: float64(i), timeCol.ID: ts}
		path := persister.ObjectKey(table, db.ID, 1, time.Unix(0, ts), i)
		result, err := p.Persist(ctx, path, table, []persister.Row{row})
		require.NoError(t, err)
		inputs = append(inputs, catalog.ParquetFile{
			ID: index.NextID(), Path: path, SizeBytes: result.BytesWritten,
			RowCount: result.RowCount, MinTime: result.MinTime, MaxTime: result.MaxTime,
			Generation: 1,
		})
	}
	index.Add(key, inputs...)
	require.Equal(t, 4, index.Count())

	c := New(cat, index, store, nil, DefaultConfig())
	jobs := c.planJobs(key, table)
	require.Len(t, jobs, 1)

	err = c.executeJob(ctx, jobs[0])
	require.NoError(t, err)

	remaining := index.Get(key)
	require.Len(t, remaining, 1, "the four generation-1 inputs should be replaced by one generation-2 output")
	require.Equal(t, catalog.Generation(2), remaining[0].Generation)
	require.Equal(t, int64(4), remaining[0].RowCount)

	for _, f := range inputs {
		_, err := store.Get(ctx, f.Path)
		require.Error(t, err, "compacted input files should be deleted")
	}
}

func TestExecuteJobRejectsTableWithoutSortKey(t *testing.T) {
	cat := catalog.New(catalog.DefaultLimits, nil, nil)
	store := memobj.New()
	index := fileindex.New()
	c := New(cat, index, store, nil, DefaultConfig())

	j := job{
		Table:  catalog.Table{ID: 1, Name: "readings"},
		Source: 1,
		Target: 2,
	}
	err := c.executeJob(context.Background(), j)
	require.Error(t, err)
}
