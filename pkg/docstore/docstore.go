// Package docstore implements C5: storage of document bodies keyed by
// per-database document id. It is an external collaborator from
// dbstore's perspective: dbstore owns ids and ownership, docstore owns
// bytes.
package docstore

import (
	"bytes"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/docvault/storagenode/pkg/types"
)

// Store is the interface C4 depends on. Both the bbolt-backed
// BoltStore and NoopStore satisfy it.
type Store interface {
	CreateDatabase(dbAddr types.Address) error
	CreateCollection(dbAddr types.Address, coll string) error
	AddStrDocs(dbAddr types.Address, coll string, docs [][]byte, ids []int64) error
	PatchDocs(dbAddr types.Address, coll string, docs [][]byte, ids []int64) error
	DeleteDocs(dbAddr types.Address, coll string, ids []int64) error
	// GetDocs returns the current body for each id, in the same order;
	// a missing document yields a nil entry rather than an error. C4
	// uses this to read the prior body of a document it is about to
	// patch or delete, for index-row maintenance.
	GetDocs(dbAddr types.Address, coll string, ids []int64) ([][]byte, error)
	ExecuteQuery(dbAddr types.Address, coll string, query []byte) ([]int64, [][]byte, error)
	Close() error
}

var bucketBody = []byte("doc_body")

func docKey(dbAddr types.Address, coll string, id int64) []byte {
	key := make([]byte, 0, 20+len(coll)+1+8)
	key = append(key, dbAddr.Bytes()...)
	key = append(key, ':')
	key = append(key, coll...)
	key = append(key, ':')
	key = append(key, encodeInt64(id)...)
	return key
}

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	u := uint64(v)
	for i := 7; i >= 0; i-- {
		b[i] = byte(u & 0xff)
		u >>= 8
	}
	return b
}

// BoltStore persists document bodies in the doc_body bucket of the
// shared dbstore database.
type BoltStore struct {
	db *bolt.DB

	mu sync.RWMutex
}

// Open opens (or creates) the doc_body bucket on the given bbolt
// handle. The handle is typically shared with pkg/dbstore so documents
// and their ownership rows live in the same file, matching the
// six-family layout where doc-body is "managed by C5" but colocated.
func Open(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBody)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("init doc store bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return nil }

func (s *BoltStore) CreateDatabase(types.Address) error { return nil }

func (s *BoltStore) CreateCollection(types.Address, string) error { return nil }

func (s *BoltStore) AddStrDocs(dbAddr types.Address, coll string, docs [][]byte, ids []int64) error {
	if len(docs) != len(ids) {
		return fmt.Errorf("docstore: docs/ids length mismatch")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBody)
		for i, doc := range docs {
			if err := b.Put(docKey(dbAddr, coll, ids[i]), doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) PatchDocs(dbAddr types.Address, coll string, docs [][]byte, ids []int64) error {
	return s.AddStrDocs(dbAddr, coll, docs, ids)
}

func (s *BoltStore) DeleteDocs(dbAddr types.Address, coll string, ids []int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBody)
		for _, id := range ids {
			if err := b.Delete(docKey(dbAddr, coll, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetDocs(dbAddr types.Address, coll string, ids []int64) ([][]byte, error) {
	docs := make([][]byte, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBody)
		for i, id := range ids {
			v := b.Get(docKey(dbAddr, coll, id))
			if v == nil {
				continue
			}
			docCopy := make([]byte, len(v))
			copy(docCopy, v)
			docs[i] = docCopy
		}
		return nil
	})
	return docs, err
}

// ExecuteQuery is a full scan over the collection's documents with a
// substring filter on query. Query planning against the index family
// is a docstore concern left to a real document engine; this in-tree
// implementation only needs to support tests and the optional
// read path.
func (s *BoltStore) ExecuteQuery(dbAddr types.Address, coll string, query []byte) ([]int64, [][]byte, error) {
	prefix := append(dbAddr.Bytes(), ':')
	prefix = append(prefix, coll...)
	prefix = append(prefix, ':')

	var ids []int64
	var docs [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBody).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if len(query) > 0 && !bytes.Contains(v, query) {
				continue
			}
			idBytes := k[len(prefix):]
			ids = append(ids, decodeInt64(idBytes))
			docCopy := make([]byte, len(v))
			copy(docCopy, v)
			docs = append(docs, docCopy)
		}
		return nil
	})
	return ids, docs, err
}

func decodeInt64(b []byte) int64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return int64(v)
}

// NoopStore implements Store with no-ops, for enable_doc_store = false.
type NoopStore struct{}

func (NoopStore) CreateDatabase(types.Address) error   { return nil }
func (NoopStore) CreateCollection(types.Address, string) error { return nil }
func (NoopStore) AddStrDocs(types.Address, string, [][]byte, []int64) error { return nil }
func (NoopStore) PatchDocs(types.Address, string, [][]byte, []int64) error  { return nil }
func (NoopStore) DeleteDocs(types.Address, string, []int64) error          { return nil }
func (NoopStore) GetDocs(_ types.Address, _ string, ids []int64) ([][]byte, error) {
	return make([][]byte, len(ids)), nil
}
func (NoopStore) ExecuteQuery(types.Address, string, []byte) ([]int64, [][]byte, error) {
	return nil, nil, nil
}
func (NoopStore) Close() error { return nil }
