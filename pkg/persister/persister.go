package persister

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/objstore"
)

// RowGroupSize is the row-group length forced on every written file.
const RowGroupSize = 1_000_000

// ErrNoRows is returned by Persist when the input stream yields zero
// rows total; no file is ever written for an empty batch.
var ErrNoRows = errors.New("persister: no rows")

// Row is one staged row of typed column values, keyed by column id. The
// write path and compactor are responsible for handing Persist rows
// already ordered by the table's sort key: Persist does not sort.
type Row map[catalog.ColumnID]any

// Result is what a successful Persist returns: enough to register the
// file in the persisted-files index.
type Result struct {
	BytesWritten int64
	RowCount     int64
	MinTime      int64
	MaxTime      int64
}

// Persister writes row batches as Parquet files to an objstore.Store.
type Persister struct {
	store objstore.Store
	alloc memory.Allocator
}

// New creates a Persister writing through store.
func New(store objstore.Store) *Persister {
	return &Persister{store: store, alloc: memory.NewGoAllocator()}
}

// Persist encodes rows as a single Parquet file at key, ZSTD-compressed
// with a forced row-group length of RowGroupSize, and writes it to the
// object store. It fails with ErrNoRows for an empty batch, and
// otherwise returns the byte count and (min_time, max_time, row_count)
// computed from the table's time column.
func (p *Persister) Persist(ctx context.Context, key string, table catalog.Table, rows []Row) (Result, error) {
	if len(rows) == 0 {
		return Result{}, ErrNoRows
	}

	timeCol, ok := table.TimeColumn()
	if !ok {
		return Result{}, fmt.Errorf("persister: table %q has no time column", table.Name)
	}

	cols := table.Columns.List()
	schema := buildSchema(cols)
	record, err := buildRecord(p.alloc, schema, cols, rows)
	if err != nil {
		return Result{}, err
	}
	defer record.Release()

	minT, maxT := timeRange(rows, timeCol.ID)

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithMaxRowGroupLength(RowGroupSize),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	written, err := p.writeRecord(ctx, key, schema, record, props, arrowProps)
	if err != nil {
		return Result{}, err
	}

	return Result{
		BytesWritten: written,
		RowCount:     int64(len(rows)),
		MinTime:      minT,
		MaxTime:      maxT,
	}, nil
}

// writeRecord writes record through a StreamingStore when the backing
// store supports one (avoiding buffering the whole file in memory), and
// falls back to a buffered Put otherwise. Either way a countingWriter
// tracks exact bytes written for the returned Result.
func (p *Persister) writeRecord(ctx context.Context, key string, schema *arrow.Schema, record arrow.Record, props *parquet.WriterProperties, arrowProps pqarrow.ArrowWriterProperties) (int64, error) {
	if streaming, ok := p.store.(objstore.StreamingStore); ok {
		w, err := streaming.Create(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("persister: opening stream for %s: %w", key, err)
		}
		cw := &countingWriter{w: w}
		if err := encodeParquet(cw, schema, record, props, arrowProps); err != nil {
			_ = w.Close()
			return 0, err
		}
		if err := w.Close(); err != nil {
			return 0, fmt.Errorf("persister: closing stream for %s: %w", key, err)
		}
		return cw.n, nil
	}

	var buf bytes.Buffer
	if err := encodeParquet(&buf, schema, record, props, arrowProps); err != nil {
		return 0, err
	}
	if _, err := p.store.Put(ctx, key, buf.Bytes()); err != nil {
		return 0, fmt.Errorf("persister: writing %s: %w", key, err)
	}
	return int64(buf.Len()), nil
}

func encodeParquet(w io.Writer, schema *arrow.Schema, record arrow.Record, props *parquet.WriterProperties, arrowProps pqarrow.ArrowWriterProperties) error {
	writer, err := pqarrow.NewFileWriter(schema, w, props, arrowProps)
	if err != nil {
		return fmt.Errorf("persister: creating parquet writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		return fmt.Errorf("persister: writing record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("persister: closing parquet writer: %w", err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// buildSchema maps a table's columns to an Arrow schema, in the table's
// column insertion order.
func buildSchema(cols []catalog.Column) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, col := range cols {
		fields[i] = arrow.Field{Name: col.Name, Type: arrowType(col.Type), Nullable: col.Nullable}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(t catalog.ColumnType) arrow.DataType {
	switch t {
	case catalog.ColumnTag, catalog.ColumnFieldString:
		return arrow.BinaryTypes.String
	case catalog.ColumnFieldInt64:
		return arrow.PrimitiveTypes.Int64
	case catalog.ColumnFieldUint64:
		return arrow.PrimitiveTypes.Uint64
	case catalog.ColumnFieldFloat64:
		return arrow.PrimitiveTypes.Float64
	case catalog.ColumnFieldBool:
		return arrow.FixedWidthTypes.Boolean
	case catalog.ColumnTimestamp:
		return arrow.PrimitiveTypes.Int64
	default:
		return arrow.BinaryTypes.String
	}
}

// buildRecord materializes rows into a single Arrow record, column by
// column, appending a null for any row missing a nullable column's
// value.
func buildRecord(alloc memory.Allocator, schema *arrow.Schema, cols []catalog.Column, rows []Row) (arrow.Record, error) {
	builder := array.NewRecordBuilder(alloc, schema)
	defer builder.Release()

	for i, col := range cols {
		fb := builder.Field(i)
		for _, row := range rows {
			v, present := row[col.ID]
			if !present {
				fb.AppendNull()
				continue
			}
			if err := appendValue(fb, col.Type, v); err != nil {
				return nil, fmt.Errorf("persister: column %q: %w", col.Name, err)
			}
		}
	}
	return builder.NewRecord(), nil
}

func appendValue(fb array.Builder, t catalog.ColumnType, v any) error {
	switch t {
	case catalog.ColumnTag, catalog.ColumnFieldString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		fb.(*array.StringBuilder).Append(s)
	case catalog.ColumnFieldInt64, catalog.ColumnTimestamp:
		n, ok := v.(int64)
		if !ok {
			return fmt.Errorf("expected int64, got %T", v)
		}
		fb.(*array.Int64Builder).Append(n)
	case catalog.ColumnFieldUint64:
		n, ok := v.(uint64)
		if !ok {
			return fmt.Errorf("expected uint64, got %T", v)
		}
		fb.(*array.Uint64Builder).Append(n)
	case catalog.ColumnFieldFloat64:
		f, ok := v.(float64)
		if !ok {
			return fmt.Errorf("expected float64, got %T", v)
		}
		fb.(*array.Float64Builder).Append(f)
	case catalog.ColumnFieldBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
		fb.(*array.BooleanBuilder).Append(b)
	default:
		return fmt.Errorf("unsupported column type %v", t)
	}
	return nil
}

func timeRange(rows []Row, timeColID catalog.ColumnID) (min, max int64) {
	first := true
	for _, row := range rows {
		v, ok := row[timeColID]
		if !ok {
			continue
		}
		ts, ok := v.(int64)
		if !ok {
			continue
		}
		if first {
			min, max = ts, ts
			first = false
			continue
		}
		if ts < min {
			min = ts
		}
		if ts > max {
			max = ts
		}
	}
	return min, max
}
