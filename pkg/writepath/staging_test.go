package writepath

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/persister"
)

func TestStagingRoutesByChunkKeyAndDrainsAll(t *testing.T) {
	s := NewStaging()
	table := catalog.Table{ID: 1, Name: "readings"}

	s.Route(1, table, 0, persister.Row{1: "a"})
	s.Route(1, table, 0, persister.Row{1: "b"})
	s.Route(1, table, 60, persister.Row{1: "c"})
	require.Equal(t, 3, s.Len())

	buckets := s.DrainAll()
	total := 0
	for _, b := range buckets {
		total += len(b.Rows)
	}
	require.Equal(t, 3, total)
	require.Equal(t, 0, s.Len(), "DrainAll must empty the staging buffer")
}
