package cataloglog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/objstore/memobj"
)

func TestAppendThenLoadReplaysBatches(t *testing.T) {
	ctx := context.Background()
	store := memobj.New()
	walLog := New(store, "node-a")

	cat := catalog.New(catalog.DefaultLimits, nil, walLog)
	db, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)
	_, err = cat.CreateTable(ctx, db.ID, "readings", []catalog.ColumnSpec{
		{Name: "host", Type: catalog.ColumnTag},
		{Name: "temp", Type: catalog.ColumnFieldFloat64},
	})
	require.NoError(t, err)
	require.NoError(t, cat.SetGenerationDuration(ctx, 1, time.Minute))

	restored := catalog.New(catalog.DefaultLimits, nil, nil)
	restoredLog := New(store, "node-a")
	replayed, err := restoredLog.Load(ctx, restored)
	require.NoError(t, err)
	require.Greater(t, replayed, 0)

	restoredDB, ok := restored.GetDatabase("weather")
	require.True(t, ok)
	table, _, ok := restoredDB.Tables.GetByName("readings")
	require.True(t, ok)
	_, _, ok = table.Columns.GetByName("host")
	require.True(t, ok)
	require.Equal(t, cat.Sequence(), restored.Sequence())
}

func TestLoadFromCheckpointSkipsOlderLogEntries(t *testing.T) {
	ctx := context.Background()
	store := memobj.New()
	walLog := New(store, "node-a")

	cat := catalog.New(catalog.DefaultLimits, nil, walLog)
	_, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)

	require.NoError(t, walLog.Checkpoint(ctx, cat.Checkpoint()))

	_, err = cat.DbOrCreate(ctx, "ocean")
	require.NoError(t, err)

	restored := catalog.New(catalog.DefaultLimits, nil, nil)
	restoredLog := New(store, "node-a")
	replayed, err := restoredLog.Load(ctx, restored)
	require.NoError(t, err)
	require.Equal(t, 1, replayed, "only the log entry past the checkpoint should replay")

	_, ok := restored.GetDatabase("weather")
	require.True(t, ok)
	_, ok = restored.GetDatabase("ocean")
	require.True(t, ok)
}

func TestLoadWithNoCheckpointOrLogStartsEmpty(t *testing.T) {
	ctx := context.Background()
	store := memobj.New()
	walLog := New(store, "node-a")

	cat := catalog.New(catalog.DefaultLimits, nil, nil)
	replayed, err := walLog.Load(ctx, cat)
	require.NoError(t, err)
	require.Equal(t, 0, replayed)
	require.Empty(t, cat.ListDatabases())
}
