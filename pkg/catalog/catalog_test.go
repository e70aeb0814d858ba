package catalog

import (
	"context"
	"crypto/sha512"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	return New(DefaultLimits, nil, nil)
}

func TestDbOrCreateIsIdempotent(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	db1, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)

	db2, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)
	require.Equal(t, db1.ID, db2.ID)
	require.Equal(t, 1, len(cat.ListDatabases()))
}

func TestCreateTableThenAddColumnsPromotesSeriesAndSortKey(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	db, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)

	table, err := cat.CreateTable(ctx, db.ID, "readings", []ColumnSpec{
		{Name: "host", Type: ColumnTag},
		{Name: "time", Type: ColumnTimestamp},
		{Name: "temp", Type: ColumnFieldFloat64},
	})
	require.NoError(t, err)
	require.NotEmpty(t, table.SeriesKey)
	require.NotEmpty(t, table.SortKey)

	table, err = cat.AddColumns(ctx, db.ID, table.ID, []ColumnSpec{
		{Name: "region", Type: ColumnTag},
	})
	require.NoError(t, err)

	regionCol, _, ok := table.Columns.GetByName("region")
	require.True(t, ok)

	found := false
	for _, id := range table.SeriesKey {
		if id == regionCol.ID {
			found = true
		}
	}
	require.True(t, found, "new tag column must be promoted into series key")
	require.Equal(t, table.SeriesKey, table.SortKey[:len(table.SeriesKey)])
}

func TestAddColumnsRejectsFieldTypeMismatch(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	db, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)

	table, err := cat.CreateTable(ctx, db.ID, "readings", []ColumnSpec{
		{Name: "temp", Type: ColumnFieldFloat64},
	})
	require.NoError(t, err)

	_, err = cat.AddColumns(ctx, db.ID, table.ID, []ColumnSpec{
		{Name: "temp", Type: ColumnFieldInt64},
	})
	require.Error(t, err)
	var catErr *Error
	require.True(t, errors.As(err, &catErr))
	require.Equal(t, KindFieldTypeMismatch, catErr.Kind)
}

func TestAddColumnsSameTypeIsNoOp(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	db, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)
	table, err := cat.CreateTable(ctx, db.ID, "readings", []ColumnSpec{
		{Name: "temp", Type: ColumnFieldFloat64},
	})
	require.NoError(t, err)
	seqBefore := cat.Sequence()

	table2, err := cat.AddColumns(ctx, db.ID, table.ID, []ColumnSpec{
		{Name: "temp", Type: ColumnFieldFloat64},
	})
	require.NoError(t, err)
	require.Equal(t, table.ID, table2.ID)
	require.Equal(t, seqBefore, cat.Sequence(), "redundant AddColumns must not advance the sequence")
}

func TestTooManyTagColumnsRejectedAtLimit(t *testing.T) {
	limits := DefaultLimits
	limits.MaxTagColumnsPerTable = 2
	cat := New(limits, nil, nil)
	ctx := context.Background()

	db, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)

	_, err = cat.CreateTable(ctx, db.ID, "readings", []ColumnSpec{
		{Name: "a", Type: ColumnTag},
		{Name: "b", Type: ColumnTag},
		{Name: "c", Type: ColumnTag},
	})
	require.Error(t, err)
	var catErr *Error
	require.True(t, errors.As(err, &catErr))
	require.Equal(t, KindTooManyTagColumns, catErr.Kind)
	require.Equal(t, 3, catErr.Attempted)
	require.Equal(t, 2, catErr.Max)
}

func TestSoftDeleteDatabaseIsIdempotent(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	db, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)

	require.NoError(t, cat.SoftDeleteDatabase(ctx, db.ID, HardDeleteSelector{Kind: HardDeleteDefault}))
	deleted, ok := cat.GetDatabaseByID(db.ID)
	require.True(t, ok)
	require.True(t, deleted.Deleted)
	require.NotEqual(t, "weather", deleted.Name)

	err = cat.SoftDeleteDatabase(ctx, db.ID, HardDeleteSelector{Kind: HardDeleteDefault})
	require.ErrorIs(t, err, ErrAlreadyDeleted)
}

func TestHardDeleteInternalDatabaseRejected(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	db, err := cat.DbOrCreate(ctx, InternalDatabaseName)
	require.NoError(t, err)

	err = cat.HardDeleteDatabase(ctx, db.ID)
	require.ErrorIs(t, err, ErrCannotDeleteInternalDatabase)
}

func TestSetGenerationDurationIsImmutableOnceSet(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, cat.SetGenerationDuration(ctx, 1, time.Minute))
	require.NoError(t, cat.SetGenerationDuration(ctx, 1, time.Minute)) // idempotent re-set

	err := cat.SetGenerationDuration(ctx, 1, 2*time.Minute)
	require.Error(t, err)
	var catErr *Error
	require.True(t, errors.As(err, &catErr))
	require.Equal(t, KindCannotChangeGenerationDuration, catErr.Kind)
}

func TestCheckpointAndRestoreReproducesCatalog(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	db, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)
	_, err = cat.CreateTable(ctx, db.ID, "readings", []ColumnSpec{
		{Name: "host", Type: ColumnTag},
		{Name: "temp", Type: ColumnFieldFloat64},
	})
	require.NoError(t, err)
	require.NoError(t, cat.SetGenerationDuration(ctx, 1, time.Minute))

	snap := cat.Checkpoint()

	restored := New(DefaultLimits, nil, nil)
	require.NoError(t, restored.RestoreFromCheckpoint(snap))

	require.Equal(t, cat.Sequence(), restored.Sequence())
	restoredDB, ok := restored.GetDatabase("weather")
	require.True(t, ok)
	table, _, ok := restoredDB.Tables.GetByName("readings")
	require.True(t, ok)
	_, _, ok = table.Columns.GetByName("host")
	require.True(t, ok)
	d, ok := restored.GenerationDuration(1)
	require.True(t, ok)
	require.Equal(t, time.Minute, d)
}

func TestTokenLifecycle(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	plaintext, token, err := cat.CreateAdminToken(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, plaintext)
	require.True(t, token.IsAdmin)

	_, _, err = cat.CreateNamedAdminToken(ctx, AdminTokenName)
	require.ErrorIs(t, err, ErrTokenNameAlreadyExists)

	err = cat.DeleteToken(ctx, token.ID)
	require.ErrorIs(t, err, ErrCannotDeleteOperatorToken)

	_, scoped, err := cat.CreateScopedToken(ctx, "reader", []Permission{
		{ResourceType: ResourceWildcard, Identifier: ResourceIdentifier{Wildcard: true}, Actions: PermRead},
	})
	require.NoError(t, err)
	require.NoError(t, cat.DeleteToken(ctx, scoped.ID))
}

func TestRegisterNodeRejectsInstanceUUIDMismatch(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	uuid1 := [16]byte{1}
	uuid2 := [16]byte{2}

	_, err := cat.RegisterNode(ctx, "node-a", uuid1, []NodeMode{NodeModeIngest}, 4)
	require.NoError(t, err)

	_, err = cat.RegisterNode(ctx, "node-a", uuid2, []NodeMode{NodeModeIngest}, 4)
	require.Error(t, err)
	var catErr *Error
	require.True(t, errors.As(err, &catErr))
	require.Equal(t, KindInvalidConfiguration, catErr.Kind)
}

func TestMaxDatabasesLimitEnforced(t *testing.T) {
	limits := DefaultLimits
	limits.MaxDatabases = 1
	cat := New(limits, nil, nil)
	ctx := context.Background()

	_, err := cat.DbOrCreate(ctx, "first")
	require.NoError(t, err)

	_, err = cat.DbOrCreate(ctx, "second")
	require.Error(t, err)
	var catErr *Error
	require.True(t, errors.As(err, &catErr))
	require.Equal(t, KindTooManyDatabases, catErr.Kind)
}

func TestTokenPlaintextShapeAndHash(t *testing.T) {
	cat := newTestCatalog(t)

	plaintext, token, err := cat.CreateAdminToken(context.Background())
	require.NoError(t, err)
	require.Regexp(t, `^apiv3_[A-Za-z0-9_-]{86}$`, plaintext)
	require.Equal(t, sha512.Sum512([]byte(plaintext)), token.Hash)

	got, ok := cat.Authenticate(sha512.Sum512([]byte(plaintext)))
	require.True(t, ok)
	require.Equal(t, token.ID, got.ID)
}

func TestRegenerateAdminTokenReplacesOnlyHash(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	oldPlaintext, before, err := cat.CreateAdminToken(ctx)
	require.NoError(t, err)
	require.Nil(t, before.UpdatedAt)

	newPlaintext, err := cat.RegenerateAdminToken(ctx, before.ID)
	require.NoError(t, err)
	require.NotEqual(t, oldPlaintext, newPlaintext)

	after, ok := cat.GetToken(before.ID)
	require.True(t, ok)
	require.Equal(t, before.Name, after.Name)
	require.Equal(t, before.CreatedAt, after.CreatedAt)
	require.NotEqual(t, before.Hash, after.Hash)
	require.NotNil(t, after.UpdatedAt)

	_, ok = cat.Authenticate(sha512.Sum512([]byte(oldPlaintext)))
	require.False(t, ok)
	_, ok = cat.Authenticate(sha512.Sum512([]byte(newPlaintext)))
	require.True(t, ok)
}

func TestGetPermitAndVerifyRetriesOnStaleSequence(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	observed := cat.Sequence()
	stale := newBatch(BatchGeneration, 0, OpSetGenerationDuration{Level: 1, Duration: time.Minute})

	// Another writer lands a batch first, advancing the sequence.
	_, err := cat.DbOrCreate(ctx, "weather")
	require.NoError(t, err)
	require.Equal(t, observed+1, cat.Sequence())

	_, _, err = cat.GetPermitAndVerify(stale, observed)
	require.ErrorIs(t, err, ErrRetryVerification)

	// Recomposing against the current sequence succeeds and lands at
	// observed+2.
	ordered, permit, err := cat.GetPermitAndVerify(stale, cat.Sequence())
	require.NoError(t, err)
	require.NoError(t, cat.ApplyOrdered(ordered, permit))
	permit.Release()
	require.Equal(t, observed+2, cat.Sequence())
}

func TestSoftDeleteTimestampThenDefaultKeepsScheduledTime(t *testing.T) {
	cat := newTestCatalog(t)
	ctx := context.Background()

	db, err := cat.DbOrCreate(ctx, "test_db")
	require.NoError(t, err)

	at := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	err = cat.SoftDeleteDatabase(ctx, db.ID, HardDeleteSelector{Kind: HardDeleteTimestamp, At: at})
	require.NoError(t, err)

	deleted, ok := cat.GetDatabaseByID(db.ID)
	require.True(t, ok)
	require.True(t, deleted.Deleted)
	require.NotNil(t, deleted.HardDeleteTime)
	require.True(t, deleted.HardDeleteTime.Equal(at))

	err = cat.SoftDeleteDatabase(ctx, db.ID, HardDeleteSelector{Kind: HardDeleteDefault})
	require.ErrorIs(t, err, ErrAlreadyDeleted)

	unchanged, _ := cat.GetDatabaseByID(db.ID)
	require.True(t, unchanged.HardDeleteTime.Equal(at))
}
