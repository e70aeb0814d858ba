package cataloglog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/catalogevents"
	"github.com/cuemby/chronicle/pkg/objstore/memobj"
)

func TestCheckpointerCoversDeletedLogEntries(t *testing.T) {
	ctx := context.Background()
	store := memobj.New()
	walLog := New(store, "node-a")

	bus := catalogevents.NewBus()
	bus.Start()
	defer bus.Stop()

	cat := catalog.New(catalog.DefaultLimits, bus, walLog)
	ckpt := NewCheckpointer(walLog, cat, bus, 10)
	ckpt.Start()
	defer ckpt.Stop()

	db, err := cat.DbOrCreate(ctx, "test_db")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := cat.CreateTable(ctx, db.ID, fmt.Sprintf("table_%d", i), []catalog.ColumnSpec{
			{Name: "f1", Type: catalog.ColumnFieldFloat64},
		})
		require.NoError(t, err)
	}

	// 11 batches applied; the checkpointer fires once the sequence is 10
	// past its base.
	require.Eventually(t, func() bool {
		_, err := store.Get(ctx, walLog.checkpointKey())
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	for seq := catalog.CatalogSequenceNumber(1); seq <= 10; seq++ {
		require.NoError(t, store.Delete(ctx, walLog.logKey(seq)))
	}

	restored := catalog.New(catalog.DefaultLimits, nil, nil)
	_, err = New(store, "node-a").Load(ctx, restored)
	require.NoError(t, err)

	got, ok := restored.GetDatabase("test_db")
	require.True(t, ok)
	require.Equal(t, 10, got.Tables.Len())
}
