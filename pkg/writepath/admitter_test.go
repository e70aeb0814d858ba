package writepath

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/chronicle/pkg/catalog"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New(catalog.DefaultLimits, nil, nil)
	require.NoError(t, cat.SetGenerationDuration(context.Background(), 1, time.Minute))
	return cat
}

func TestAdmitCreatesTableAndStagesRow(t *testing.T) {
	cat := newTestCatalog(t)
	staging := NewStaging()
	admitter := New(cat, staging)

	result, err := admitter.Admit(context.Background(), AdmitRequest{
		Database:     "test_db",
		LineProtocol: "cpu,host=a usage=0.5 60000000000",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Admitted)
	require.Empty(t, result.Rejected)
	require.Equal(t, 1, staging.Len())

	db, ok := cat.GetDatabase("test_db")
	require.True(t, ok)
	table, _, ok := db.Tables.GetByName("cpu")
	require.True(t, ok)
	_, _, ok = table.Columns.GetByName("host")
	require.True(t, ok)
	_, _, ok = table.Columns.GetByName("usage")
	require.True(t, ok)
	_, _, ok = table.Columns.GetByName("time")
	require.True(t, ok)
}

func TestAdmitRejectsInvalidDatabaseName(t *testing.T) {
	cat := newTestCatalog(t)
	admitter := New(cat, NewStaging())

	_, err := admitter.Admit(context.Background(), AdmitRequest{
		Database:     "bad/name/here",
		LineProtocol: "cpu usage=1.0",
	})
	require.Error(t, err)
}

func TestAdmitAddsColumnsOnSecondWrite(t *testing.T) {
	cat := newTestCatalog(t)
	staging := NewStaging()
	admitter := New(cat, staging)
	ctx := context.Background()

	_, err := admitter.Admit(ctx, AdmitRequest{Database: "test_db", LineProtocol: "cpu,host=a usage=0.5 1000"})
	require.NoError(t, err)

	result, err := admitter.Admit(ctx, AdmitRequest{Database: "test_db", LineProtocol: "cpu,host=a usage=0.6,extra=1i 2000"})
	require.NoError(t, err)
	require.Equal(t, 1, result.Admitted)

	db, _ := cat.GetDatabase("test_db")
	table, _, _ := db.Tables.GetByName("cpu")
	_, _, ok := table.Columns.GetByName("extra")
	require.True(t, ok)
}

func TestAdmitPartialOKSkipsParseErrorsAndContinues(t *testing.T) {
	cat := newTestCatalog(t)
	staging := NewStaging()
	admitter := New(cat, staging)

	result, err := admitter.Admit(context.Background(), AdmitRequest{
		Database:     "test_db",
		LineProtocol: "cpu usage=1.0\nnot a valid line\ncpu usage=2.0",
		PartialOK:    true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Admitted)
	require.Len(t, result.Rejected, 1)
}
