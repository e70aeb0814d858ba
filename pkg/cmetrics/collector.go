package cmetrics

import (
	"strconv"
	"time"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/fileindex"
)

// Collector periodically samples catalog and file-index state into the
// gauges declared in metrics.go.
type Collector struct {
	cat    *catalog.Catalog
	index  *fileindex.Index
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over cat and index.
func NewCollector(cat *catalog.Catalog, index *fileindex.Index) *Collector {
	return &Collector{
		cat:    cat,
		index:  index,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectCatalogMetrics()
	c.collectFileIndexMetrics()
}

func (c *Collector) collectCatalogMetrics() {
	CatalogSequence.Set(float64(c.cat.Sequence()))

	liveDBs, tables := 0, 0
	for _, db := range c.cat.ListDatabases() {
		if db.Deleted {
			continue
		}
		liveDBs++
		for _, t := range db.Tables.List() {
			if !t.Deleted {
				tables++
			}
		}
	}
	CatalogDatabasesTotal.Set(float64(liveDBs))
	CatalogTablesTotal.Set(float64(tables))
}

func (c *Collector) collectFileIndexMetrics() {
	if c.index == nil {
		return
	}
	for gen, count := range c.index.CountByGeneration() {
		FileIndexFilesTotal.WithLabelValues(strconv.Itoa(int(gen))).Set(float64(count))
	}
}
