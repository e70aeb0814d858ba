package persister

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/objstore"
)

// ReadRows reads every row out of the Parquet file at key, the mirror
// of Persist's encoding, used by the compactor to rebuild a stream of
// input rows to reorder and rewrite.
func (p *Persister) ReadRows(ctx context.Context, store objstore.Store, key string, table catalog.Table) ([]Row, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("persister: reading %s: %w", key, err)
	}

	reader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("persister: opening parquet reader for %s: %w", key, err)
	}
	defer reader.Close()

	fileReader, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, p.alloc)
	if err != nil {
		return nil, fmt.Errorf("persister: opening arrow reader for %s: %w", key, err)
	}

	table2, err := fileReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("persister: reading table from %s: %w", key, err)
	}
	defer table2.Release()

	cols := table.Columns.List()
	byName := make(map[string]catalog.Column, len(cols))
	for _, c := range cols {
		byName[c.Name] = c
	}

	var rows []Row
	tr := array.NewTableReader(table2, table2.NumRows())
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		n := int(rec.NumRows())
		schema := rec.Schema()
		for i := 0; i < n; i++ {
			row := make(Row, len(cols))
			for fieldIdx := 0; fieldIdx < len(schema.Fields()); fieldIdx++ {
				name := schema.Field(fieldIdx).Name
				col, ok := byName[name]
				if !ok {
					continue
				}
				v, err := readValue(rec.Column(fieldIdx), i)
				if err != nil {
					return nil, fmt.Errorf("persister: column %q: %w", name, err)
				}
				if v != nil {
					row[col.ID] = v
				}
			}
			rows = append(rows, row)
		}
	}
	if err := tr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("persister: iterating %s: %w", key, err)
	}
	return rows, nil
}

func readValue(col arrow.Array, i int) (any, error) {
	if col.IsNull(i) {
		return nil, nil
	}
	switch c := col.(type) {
	case *array.String:
		return c.Value(i), nil
	case *array.Int64:
		return c.Value(i), nil
	case *array.Uint64:
		return c.Value(i), nil
	case *array.Float64:
		return c.Value(i), nil
	case *array.Boolean:
		return c.Value(i), nil
	default:
		return nil, fmt.Errorf("unsupported arrow type %T", col)
	}
}
