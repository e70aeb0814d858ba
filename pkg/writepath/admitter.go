package writepath

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/chronicle/pkg/catalog"
	"github.com/cuemby/chronicle/pkg/cmetrics"
	"github.com/cuemby/chronicle/pkg/lineprotocol"
	"github.com/cuemby/chronicle/pkg/persister"
)

const timeColumnName = "time"

// ErrAllLinesRejected is returned when every line in a partial_ok
// request was rejected by catalog limits, signaling an HTTP 422
// response to the caller.
var ErrAllLinesRejected = errors.New("writepath: all lines rejected")

// AdmitRequest is one write admission call.
type AdmitRequest struct {
	Database      string
	LineProtocol  string
	DefaultTimeNS int64
	PartialOK     bool
	Precision     lineprotocol.Precision
	NoSync        bool
}

// RowError attributes a rejection to its originating line number.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// AdmitResult reports how many rows were admitted and, for a
// partial_ok request, which lines were rejected and why.
type AdmitResult struct {
	Admitted int
	Rejected []RowError
}

// Admitter admits line-protocol writes, extending the catalog as
// needed and routing rows into Staging at generation 1.
type Admitter struct {
	cat     *catalog.Catalog
	staging *Staging
}

// New creates an Admitter writing extensions into cat and rows into
// staging.
func New(cat *catalog.Catalog, staging *Staging) *Admitter {
	return &Admitter{cat: cat, staging: staging}
}

// Admit runs the admission sequence: validate the
// database name, parse line protocol, extend the catalog with any new
// tables/columns a row needs, and route admitted rows to Staging keyed
// by (db_id, table_id, chunk_time).
func (a *Admitter) Admit(ctx context.Context, req AdmitRequest) (AdmitResult, error) {
	timer := cmetrics.NewTimer()
	defer timer.ObserveDuration(cmetrics.WriteAdmitDuration)

	if err := ValidateDatabaseName(req.Database); err != nil {
		return AdmitResult{}, err
	}

	parsedRows, parseErrs := lineprotocol.Parse(req.LineProtocol, req.DefaultTimeNS, req.Precision)

	var result AdmitResult
	for _, pe := range parseErrs {
		result.Rejected = append(result.Rejected, RowError{Line: pe.Line, Err: pe.Err})
		cmetrics.WriteRejectedLinesTotal.WithLabelValues("parse_error").Inc()
	}
	if len(parsedRows) == 0 {
		if len(result.Rejected) > 0 && !req.PartialOK {
			return result, result.Rejected[0].Err
		}
		return result, nil
	}

	db, err := a.cat.DbOrCreate(ctx, req.Database)
	if err != nil {
		return AdmitResult{}, err
	}
	if db.Deleted {
		return AdmitResult{}, catalogNotFound("Admit")
	}

	gen1, _ := a.cat.GenerationDuration(1)
	if gen1 <= 0 {
		gen1 = time.Minute
	}

	for i, row := range parsedRows {
		table, err := a.ensureSchema(ctx, db.ID, row)
		if err != nil {
			if !req.PartialOK {
				return result, err
			}
			result.Rejected = append(result.Rejected, RowError{Line: i + 1, Err: err})
			cmetrics.WriteRejectedLinesTotal.WithLabelValues(rejectReason(err)).Inc()
			continue
		}

		chunkTime := floorToChunk(row.TimeNS, gen1.Nanoseconds())
		a.staging.Route(db.ID, table, chunkTime, toPersisterRow(table, row))
		result.Admitted++
	}

	cmetrics.WriteRowsTotal.WithLabelValues(req.Database).Add(float64(result.Admitted))

	if result.Admitted == 0 && len(result.Rejected) > 0 {
		return result, ErrAllLinesRejected
	}
	return result, nil
}

// ensureSchema creates the table (if absent) or adds any columns row
// needs that the table doesn't already have, and returns the
// up-to-date Table.
func (a *Admitter) ensureSchema(ctx context.Context, dbID catalog.DbID, row lineprotocol.Row) (catalog.Table, error) {
	db, ok := a.cat.GetDatabaseByID(dbID)
	if !ok {
		return catalog.Table{}, catalogNotFound("ensureSchema")
	}

	table, exists, softDeleted := lookupTable(db, row.Measurement)
	if softDeleted {
		return catalog.Table{}, catalogNotFound("ensureSchema")
	}

	specs := columnSpecs(row)
	if !exists {
		specs = append(specs, catalog.ColumnSpec{Name: timeColumnName, Type: catalog.ColumnTimestamp, Nullable: false})
		return a.cat.CreateTable(ctx, dbID, row.Measurement, specs)
	}

	var missing []catalog.ColumnSpec
	for _, spec := range specs {
		if _, _, ok := table.Columns.GetByName(spec.Name); !ok {
			missing = append(missing, spec)
		}
	}
	if len(missing) == 0 {
		return table, nil
	}
	return a.cat.AddColumns(ctx, dbID, table.ID, missing)
}

func lookupTable(db catalog.Database, name string) (table catalog.Table, exists bool, softDeleted bool) {
	table, _, exists = db.Tables.GetByName(name)
	if exists && table.Deleted {
		return catalog.Table{}, true, true
	}
	return table, exists, false
}

func columnSpecs(row lineprotocol.Row) []catalog.ColumnSpec {
	specs := make([]catalog.ColumnSpec, 0, len(row.Tags)+len(row.Fields))
	for _, tag := range row.Tags {
		specs = append(specs, catalog.ColumnSpec{Name: tag.Key, Type: catalog.ColumnTag, Nullable: true})
	}
	for _, field := range row.Fields {
		specs = append(specs, catalog.ColumnSpec{Name: field.Key, Type: fieldType(field.Value), Nullable: true})
	}
	return specs
}

func fieldType(v any) catalog.ColumnType {
	switch v.(type) {
	case string:
		return catalog.ColumnFieldString
	case int64:
		return catalog.ColumnFieldInt64
	case uint64:
		return catalog.ColumnFieldUint64
	case bool:
		return catalog.ColumnFieldBool
	default:
		return catalog.ColumnFieldFloat64
	}
}

func toPersisterRow(table catalog.Table, row lineprotocol.Row) persister.Row {
	out := make(persister.Row, len(row.Tags)+len(row.Fields)+1)
	for _, tag := range row.Tags {
		if col, _, ok := table.Columns.GetByName(tag.Key); ok {
			out[col.ID] = tag.Value
		}
	}
	for _, field := range row.Fields {
		if col, _, ok := table.Columns.GetByName(field.Key); ok {
			out[col.ID] = field.Value
		}
	}
	if col, _, ok := table.Columns.GetByName(timeColumnName); ok {
		out[col.ID] = row.TimeNS
	}
	return out
}

func floorToChunk(ts, chunkNS int64) int64 {
	if chunkNS <= 0 {
		return ts
	}
	if ts >= 0 {
		return (ts / chunkNS) * chunkNS
	}
	return ((ts - chunkNS + 1) / chunkNS) * chunkNS
}

func rejectReason(err error) string {
	var catErr *catalog.Error
	if errors.As(err, &catErr) {
		return catErr.Kind.String()
	}
	return "error"
}

func catalogNotFound(op string) error {
	return fmt.Errorf("%s: %w", op, catalog.ErrNotFound)
}
