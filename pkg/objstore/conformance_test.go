package objstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/chronicle/pkg/objstore"
	"github.com/cuemby/chronicle/pkg/objstore/fsobj"
	"github.com/cuemby/chronicle/pkg/objstore/memobj"
)

// backends exercises the same behavior contract against every Store
// implementation so fsobj and memobj cannot silently diverge.
func backends(t *testing.T) map[string]objstore.Store {
	t.Helper()
	fs, err := fsobj.New(t.TempDir())
	require.NoError(t, err)
	return map[string]objstore.Store{
		"memobj": memobj.New(),
		"fsobj":  fs,
	}
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Put(ctx, "a/b.txt", []byte("hello"))
			require.NoError(t, err)

			got, err := s.Get(ctx, "a/b.txt")
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), got)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "nope")
			assert.ErrorIs(t, err, objstore.ErrNotFound)
		})
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Put(ctx, "k", []byte("v1"))
			require.NoError(t, err)
			_, err = s.Put(ctx, "k", []byte("v2"))
			require.NoError(t, err)

			got, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got)
		})
	}
}

func TestStore_PutIfAbsentRejectsCollision(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.PutIfAbsent(ctx, "k", []byte("v1"))
			require.NoError(t, err)

			_, err = s.PutIfAbsent(ctx, "k", []byte("v2"))
			assert.ErrorIs(t, err, objstore.ErrAlreadyExists)

			got, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), got, "the loser must not clobber the winner")
		})
	}
}

func TestStore_DeleteAbsentIsNotError(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, s.Delete(ctx, "never-existed"))
		})
	}
}

func TestStore_ListPrefixAndPagination(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			keys := []string{"db/1/a", "db/1/b", "db/1/c", "db/2/a"}
			for _, k := range keys {
				_, err := s.Put(ctx, k, []byte(k))
				require.NoError(t, err)
			}

			all, err := s.List(ctx, "db/1/", 0, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "db/1/a", all[0].Key)
			assert.Equal(t, "db/1/c", all[2].Key)

			page, err := s.List(ctx, "db/1/", 1, 1)
			require.NoError(t, err)
			require.Len(t, page, 1)
			assert.Equal(t, "db/1/b", page[0].Key)

			none, err := s.List(ctx, "db/1/", 10, 0)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStore_DeleteRemovesFromList(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Put(ctx, "x", []byte("1"))
			require.NoError(t, err)
			require.NoError(t, s.Delete(ctx, "x"))

			_, err = s.Get(ctx, "x")
			assert.ErrorIs(t, err, objstore.ErrNotFound)

			listed, err := s.List(ctx, "x", 0, 0)
			require.NoError(t, err)
			assert.Empty(t, listed)
		})
	}
}
