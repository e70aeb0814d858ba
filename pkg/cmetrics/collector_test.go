package cmetrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/fileindex"
)

func TestCollectorCollectDoesNotPanicOnEmptyState(t *testing.T) {
	cat := catalog.New(catalog.DefaultLimits, nil, nil)
	index := fileindex.New()
	c := NewCollector(cat, index)
	c.collect()
}

func TestCollectorCollectReflectsCatalogState(t *testing.T) {
	cat := catalog.New(catalog.DefaultLimits, nil, nil)
	index := fileindex.New()
	c := NewCollector(cat, index)

	ctx := context.Background()
	if _, err := cat.DbOrCreate(ctx, "weather"); err != nil {
		t.Fatalf("DbOrCreate: %v", err)
	}

	c.collect()

	if got := testutil.ToFloat64(CatalogDatabasesTotal); got != 1 {
		t.Errorf("CatalogDatabasesTotal = %v, want 1", got)
	}
}
