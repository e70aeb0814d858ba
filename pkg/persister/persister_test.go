package persister

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/objstore/memobj"
)

func newTestTable(t *testing.T) catalog.Table {
	t.Helper()
	cat := catalog.New(catalog.DefaultLimits, nil, nil)
	ctx := context.Background()
	db, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)
	table, err := cat.CreateTable(ctx, db.ID, "readings", []catalog.ColumnSpec{
		{Name: "host", Type: catalog.ColumnTag, Nullable: true},
		{Name: "temp", Type: catalog.ColumnFieldFloat64},
		{Name: "time", Type: catalog.ColumnTimestamp},
	})
	require.NoError(t, err)
	return table
}

func rowFor(t catalog.Table, host string, temp float64, ts int64) Row {
	hostCol, _, _ := t.Columns.GetByName("host")
	tempCol, _, _ := t.Columns.GetByName("temp")
	timeCol, _, _ := t.Columns.GetByName("time")
	return Row{
		hostCol.ID: host,
		tempCol.ID: temp,
		timeCol.ID: ts,
	}
}

func TestPersistRejectsEmptyBatch(t *testing.T) {
	p := New(memobj.New())
	table := newTestTable(t)

	_, err := p.Persist(context.Background(), "x.parquet", table, nil)
	require.ErrorIs(t, err, ErrNoRows)
}

func TestPersistThenReadRowsRoundTrips(t *testing.T) {
	store := memobj.New()
	p := New(store)
	table := newTestTable(t)
	ctx := context.Background()

	rows := []Row{
		rowFor(table, "a", 1.5, 1000),
		rowFor(table, "b", 2.5, 2000),
		rowFor(table, "c", 3.5, 500),
	}

	result, err := p.Persist(ctx, "dbs/weather/gen1/x.parquet", table, rows)
	require.NoError(t, err)
	require.Equal(t, int64(3), result.RowCount)
	require.Equal(t, int64(500), result.MinTime)
	require.Equal(t, int64(2000), result.MaxTime)
	require.Greater(t, result.BytesWritten, int64(0))

	readBack, err := p.ReadRows(ctx, store, "dbs/weather/gen1/x.parquet", table)
	require.NoError(t, err)
	require.Len(t, readBack, 3)

	hostCol, _, _ := table.Columns.GetByName("host")
	got := make(map[string]bool)
	for _, row := range readBack {
		got[row[hostCol.ID].(string)] = true
	}
	require.True(t, got["a"])
	require.True(t, got["b"])
	require.True(t, got["c"])
}

func TestPersistAppendsNullForMissingNullableColumn(t *testing.T) {
	store := memobj.New()
	p := New(store)
	table := newTestTable(t)
	ctx := context.Background()

	timeCol, _, _ := table.Columns.GetByName("time")
	rows := []Row{
		{timeCol.ID: int64(42)},
	}

	_, err := p.Persist(ctx, "dbs/weather/gen1/sparse.parquet", table, rows)
	require.NoError(t, err)

	readBack, err := p.ReadRows(ctx, store, "dbs/weather/gen1/sparse.parquet", table)
	require.NoError(t, err)
	require.Len(t, readBack, 1)

	hostCol, _, _ := table.Columns.GetByName("host")
	_, present := readBack[0][hostCol.ID]
	require.False(t, present, "a null column should be absent from the decoded row")
}
