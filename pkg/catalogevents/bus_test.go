package catalogevents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/chronicle/pkg/catalog"
)

func TestBusDeliversPublishedBatches(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	defer sub.Close()

	require.Equal(t, 1, bus.SubscriberCount())

	batch := catalog.CatalogBatch{Kind: catalog.BatchDatabase}
	bus.Publish(7, batch)

	select {
	case ev := <-sub.C:
		require.Equal(t, catalog.CatalogSequenceNumber(7), ev.Seq)
		require.Equal(t, catalog.BatchDatabase, ev.Batch.Kind)
		require.Zero(t, ev.Lagged)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusReportsLaggedSubscriber(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	defer sub.Close()

	// Fill the subscriber's buffer without draining it, then publish five
	// more than it can hold; the overflow events must be reflected in the
	// next delivered event's Lagged count rather than silently lost.
	for i := 0; i < subscriberBuffer+5; i++ {
		bus.Publish(catalog.CatalogSequenceNumber(i), catalog.CatalogBatch{Kind: catalog.BatchDatabase})
	}

	// Drain until the channel is empty, collecting the highest Lagged
	// count observed across the stream.
	var maxLagged int
	timeout := time.After(2 * time.Second)
drain:
	for {
		select {
		case ev := <-sub.C:
			if ev.Lagged > maxLagged {
				maxLagged = ev.Lagged
			}
		case <-timeout:
			break drain
		default:
			if len(sub.C) == 0 {
				break drain
			}
		}
	}
	require.Greater(t, maxLagged, 0)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	sub := bus.Subscribe()
	sub.Close()

	_, ok := <-sub.C
	require.False(t, ok)
	require.Equal(t, 0, bus.SubscriberCount())
}
