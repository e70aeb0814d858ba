package persister

import (
	"fmt"
	"time"

	"github.com/cuemby/chronicle/pkg/catalog"
)

// ObjectKey builds the Parquet object key for one output file:
//
//	dbs/<table>-<db_id>/<table>-<table_id>/gen<L>/<YYYY-MM-DD>/<HH-MM>/<index>.parquet
func ObjectKey(table catalog.Table, dbID catalog.DbID, gen catalog.Generation, chunkTime time.Time, index int) string {
	chunkTime = chunkTime.UTC()
	return fmt.Sprintf("dbs/%s-%d/%s-%d/gen%d/%s/%s/%d.parquet",
		table.Name, dbID,
		table.Name, table.ID,
		gen,
		chunkTime.Format("2006-01-02"),
		chunkTime.Format("15-04"),
		index,
	)
}
