package dbstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	dvcrypto "github.com/docvault/storagenode/pkg/crypto"
	"github.com/docvault/storagenode/pkg/docstore"
	"github.com/docvault/storagenode/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "db.db"), docstore.NoopStore{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateDatabaseAndGet(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{1}
	dbAddr := dvcrypto.DatabaseAddress(owner, 1, 7)

	record, err := s.CreateDatabase(owner, types.DatabaseVariantDocument, &types.Mutation{Description: "d"}, 1, 7, 0, 0, dbAddr)
	require.NoError(t, err)
	require.Equal(t, dbAddr, record.Address)

	got, err := s.GetDatabase(dbAddr)
	require.NoError(t, err)
	require.Equal(t, owner, got.Owner)
	require.Equal(t, "d", got.Description)
}

func TestCreateDatabaseDuplicateAddressFails(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{2}
	dbAddr := dvcrypto.DatabaseAddress(owner, 1, 1)

	_, err := s.CreateDatabase(owner, types.DatabaseVariantDocument, &types.Mutation{}, 1, 1, 0, 0, dbAddr)
	require.NoError(t, err)

	_, err = s.CreateDatabase(owner, types.DatabaseVariantDocument, &types.Mutation{}, 1, 1, 0, 1, dbAddr)
	require.ErrorIs(t, err, types.ErrDatabaseExists)
}

func TestGetDatabaseNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetDatabase(types.Address{9})
	require.ErrorIs(t, err, types.ErrDatabaseNotFound)
}

func TestGetDatabasesOfOwner(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{3}
	addr1 := dvcrypto.DatabaseAddress(owner, 1, 1)
	addr2 := dvcrypto.DatabaseAddress(owner, 2, 1)
	_, err := s.CreateDatabase(owner, types.DatabaseVariantDocument, &types.Mutation{}, 1, 1, 0, 0, addr1)
	require.NoError(t, err)
	_, err = s.CreateDatabase(owner, types.DatabaseVariantDocument, &types.Mutation{}, 2, 1, 1, 0, addr2)
	require.NoError(t, err)

	dbs, err := s.GetDatabasesOfOwner(owner)
	require.NoError(t, err)
	require.Len(t, dbs, 2)
}

func setupDatabase(t *testing.T, s *Store, owner types.Address) types.Address {
	t.Helper()
	dbAddr := dvcrypto.DatabaseAddress(owner, 1, 1)
	_, err := s.CreateDatabase(owner, types.DatabaseVariantDocument, &types.Mutation{}, 1, 1, 0, 0, dbAddr)
	require.NoError(t, err)
	return dbAddr
}

func TestCreateCollectionRequiresDatabase(t *testing.T) {
	s := openTestStore(t)
	_, err := s.CreateCollection(types.Address{9}, types.Address{1}, "coll", nil, 0, 0, 0)
	require.ErrorIs(t, err, types.ErrDatabaseNotFound)
}

func TestCreateCollectionRejectsDuplicateName(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{4}
	dbAddr := setupDatabase(t, s, owner)

	_, err := s.CreateCollection(dbAddr, owner, "users", nil, 0, 1, 0)
	require.NoError(t, err)

	_, err = s.CreateCollection(dbAddr, owner, "users", nil, 0, 2, 1)
	require.ErrorIs(t, err, types.ErrCollectionExists)
}

func TestAddDocsAllocatesSequentialIDs(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{5}
	dbAddr := setupDatabase(t, s, owner)
	_, err := s.CreateCollection(dbAddr, owner, "users", nil, 0, 1, 0)
	require.NoError(t, err)

	ids, err := s.AddDocs(dbAddr, owner, "users", [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, ids)

	ids2, err := s.AddDocs(dbAddr, owner, "users", [][]byte{[]byte("d")})
	require.NoError(t, err)
	require.Equal(t, []int64{4}, ids2)
}

func TestAddDocsRequiresExistingCollection(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{6}
	dbAddr := setupDatabase(t, s, owner)

	_, err := s.AddDocs(dbAddr, owner, "missing", [][]byte{[]byte("a")})
	require.ErrorIs(t, err, types.ErrCollectionNotFound)
}

func TestIndexRowsWrittenUpdatedAndRemoved(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "db.db"), docstore.NoopStore{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	boltDocs, err := docstore.Open(s.DB())
	require.NoError(t, err)
	s.SetDocStore(boltDocs)

	owner := types.Address{7}
	dbAddr := setupDatabase(t, s, owner)
	_, err = s.CreateCollection(dbAddr, owner, "people", []types.IndexField{{Name: "name"}}, 0, 1, 0)
	require.NoError(t, err)

	ids, err := s.AddDocs(dbAddr, owner, "people", [][]byte{[]byte(`{"name":"John"}`)})
	require.NoError(t, err)

	coll, err := s.GetCollection(dbAddr, "people")
	require.NoError(t, err)
	collID := collectionKey(dbAddr, coll.Name)

	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIndex).Get(indexKey(collID, 0, []byte(`"John"`), ids[0]))
		require.NotNil(t, v)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateDocs(dbAddr, owner, "people", [][]byte{[]byte(`{"name":"Mike"}`)}, ids))

	err = s.db.View(func(tx *bolt.Tx) error {
		require.Nil(t, tx.Bucket(bucketIndex).Get(indexKey(collID, 0, []byte(`"John"`), ids[0])))
		require.NotNil(t, tx.Bucket(bucketIndex).Get(indexKey(collID, 0, []byte(`"Mike"`), ids[0])))
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteDocs(dbAddr, owner, "people", ids))

	err = s.db.View(func(tx *bolt.Tx) error {
		require.Nil(t, tx.Bucket(bucketIndex).Get(indexKey(collID, 0, []byte(`"Mike"`), ids[0])))
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateDocsByNonOwnerFails(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{7}
	other := types.Address{8}
	dbAddr := setupDatabase(t, s, owner)
	_, err := s.CreateCollection(dbAddr, owner, "users", nil, 0, 1, 0)
	require.NoError(t, err)

	ids, err := s.AddDocs(dbAddr, owner, "users", [][]byte{[]byte("a")})
	require.NoError(t, err)

	err = s.UpdateDocs(dbAddr, other, "users", [][]byte{[]byte("b")}, ids)
	require.ErrorIs(t, err, types.ErrOwnerVerifyFailed)

	err = s.UpdateDocs(dbAddr, owner, "users", [][]byte{[]byte("b")}, ids)
	require.NoError(t, err)
}

func TestDeleteDocsByNonOwnerFailsAndIDsNotReassigned(t *testing.T) {
	s := openTestStore(t)
	owner := types.Address{10}
	other := types.Address{11}
	dbAddr := setupDatabase(t, s, owner)
	_, err := s.CreateCollection(dbAddr, owner, "users", nil, 0, 1, 0)
	require.NoError(t, err)

	ids, err := s.AddDocs(dbAddr, owner, "users", [][]byte{[]byte("a")})
	require.NoError(t, err)

	err = s.DeleteDocs(dbAddr, other, "users", ids)
	require.ErrorIs(t, err, types.ErrOwnerVerifyFailed)

	err = s.DeleteDocs(dbAddr, owner, "users", ids)
	require.NoError(t, err)

	next, err := s.AddDocs(dbAddr, owner, "users", [][]byte{[]byte("b")})
	require.NoError(t, err)
	require.Equal(t, []int64{2}, next, "document ids are never reassigned after deletion")
}

func TestApplyMutationCreateDocumentDb(t *testing.T) {
	s := openTestStore(t)
	signer := types.Address{12}

	items, err := s.ApplyMutation(&types.Mutation{Action: types.ActionCreateDocumentDb, Description: "x"}, signer, 1, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "database_address", items[0].Key)
}

func TestApplyMutationAddCollectionAndDocument(t *testing.T) {
	s := openTestStore(t)
	signer := types.Address{13}
	dbAddr := dvcrypto.DatabaseAddress(signer, 1, 1)

	_, err := s.ApplyMutation(&types.Mutation{Action: types.ActionCreateDocumentDb}, signer, 1, 1, 0, 0)
	require.NoError(t, err)

	items, err := s.ApplyMutation(&types.Mutation{
		Action:          types.ActionAddCollection,
		DatabaseAddress: dbAddr,
		CollectionName:  "notes",
	}, signer, 1, 2, 0, 1)
	require.NoError(t, err)
	require.Equal(t, "collection_name", items[0].Key)

	items, err = s.ApplyMutation(&types.Mutation{
		Action:          types.ActionAddDocument,
		DatabaseAddress: dbAddr,
		CollectionName:  "notes",
		Documents:       [][]byte{[]byte("hello")},
	}, signer, 1, 3, 0, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "document_id", items[0].Key)
	require.Equal(t, "1", items[0].Value)
}

func TestRecoverCountersAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db.db")

	s, err := Open(path, docstore.NoopStore{})
	require.NoError(t, err)
	owner := types.Address{14}
	dbAddr := setupDatabase(t, s, owner)
	_, err = s.CreateCollection(dbAddr, owner, "users", nil, 0, 1, 0)
	require.NoError(t, err)
	_, err = s.AddDocs(dbAddr, owner, "users", [][]byte{[]byte("a"), []byte("b")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(path, docstore.NoopStore{})
	require.NoError(t, err)
	defer s2.Close()

	ids, err := s2.AddDocs(dbAddr, owner, "users", [][]byte{[]byte("c")})
	require.NoError(t, err)
	require.Equal(t, []int64{3}, ids, "counter must be recovered from doc_owner on reopen")
}
