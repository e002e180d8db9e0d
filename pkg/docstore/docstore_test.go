package docstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/docvault/storagenode/pkg/types"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	db, err := bolt.Open(filepath.Join(dir, "docs.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := Open(db)
	require.NoError(t, err)
	return s
}

func TestAddPatchDeleteRoundTrip(t *testing.T) {
	s := openTestStore(t)
	dbAddr := types.Address{1}

	require.NoError(t, s.AddStrDocs(dbAddr, "notes", [][]byte{[]byte("a"), []byte("b")}, []int64{1, 2}))

	ids, docs, err := s.ExecuteQuery(dbAddr, "notes", nil)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.ElementsMatch(t, [][]byte{[]byte("a"), []byte("b")}, docs)

	require.NoError(t, s.PatchDocs(dbAddr, "notes", [][]byte{[]byte("a2")}, []int64{1}))
	_, docs, err = s.ExecuteQuery(dbAddr, "notes", []byte("a2"))
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, s.DeleteDocs(dbAddr, "notes", []int64{1}))
	ids, _, err = s.ExecuteQuery(dbAddr, "notes", nil)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, ids)
}

func TestExecuteQueryScopedToCollectionAndDatabase(t *testing.T) {
	s := openTestStore(t)
	dbA := types.Address{1}
	dbB := types.Address{2}

	require.NoError(t, s.AddStrDocs(dbA, "notes", [][]byte{[]byte("x")}, []int64{1}))
	require.NoError(t, s.AddStrDocs(dbA, "other", [][]byte{[]byte("y")}, []int64{1}))
	require.NoError(t, s.AddStrDocs(dbB, "notes", [][]byte{[]byte("z")}, []int64{1}))

	ids, docs, err := s.ExecuteQuery(dbA, "notes", nil)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, ids)
	require.Equal(t, [][]byte{[]byte("x")}, docs)
}

func TestNoopStoreIsAlwaysSuccessfulAndEmpty(t *testing.T) {
	var s Store = NoopStore{}
	require.NoError(t, s.CreateDatabase(types.Address{}))
	require.NoError(t, s.CreateCollection(types.Address{}, "c"))
	require.NoError(t, s.AddStrDocs(types.Address{}, "c", nil, nil))
	ids, docs, err := s.ExecuteQuery(types.Address{}, "c", nil)
	require.NoError(t, err)
	require.Nil(t, ids)
	require.Nil(t, docs)
}
