// Package dbstore implements C4: databases, collections, document
// ownership, and document-id allocation, plus the apply_mutation
// dispatch used by the node to turn a verified mutation into state
// changes.
package dbstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	dvcrypto "github.com/docvault/storagenode/pkg/crypto"
	"github.com/docvault/storagenode/pkg/docstore"
	"github.com/docvault/storagenode/pkg/types"
)

var (
	bucketDatabase   = []byte("database")
	bucketCollection = []byte("collection")
	bucketIndex      = []byte("index")
	bucketDocOwner   = []byte("doc_owner")
	bucketDBOwner    = []byte("db_owner")
)

// Store is the C4 DB store.
type Store struct {
	db   *bolt.DB
	docs docstore.Store

	countersMu sync.Mutex
	counters   map[types.Address]int64
}

// Open opens (creating if absent) the db store database at path and
// wires docs as the C5 collaborator for document bodies. Pass
// docstore.NoopStore{} when enable_doc_store is false.
func Open(path string, docs docstore.Store) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open db store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDatabase, bucketCollection, bucketIndex, bucketDocOwner, bucketDBOwner} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init db store buckets: %w", err)
	}

	s := &Store{db: db, docs: docs}
	if err := s.recoverCounters(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle so C5's bbolt implementation can
// colocate its bucket in the same file.
func (s *Store) DB() *bolt.DB { return s.db }

// SetDocStore swaps the C5 collaborator after construction, used when
// the bbolt-backed doc store is opened against this store's own
// handle (see pkg/node.New).
func (s *Store) SetDocStore(docs docstore.Store) { s.docs = docs }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// recoverCounters rebuilds the per-database document-id counter by
// scanning doc_owner for the highest id per database (spec §9: rebuild
// on boot, no separate persisted counter).
func (s *Store) recoverCounters() error {
	counters := make(map[types.Address]int64)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDocOwner).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if len(k) < 28 {
				continue
			}
			var addr types.Address
			copy(addr[:], k[:20])
			id := int64(binary.BigEndian.Uint64(k[20:28]))
			if id > counters[addr] {
				counters[addr] = id
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.counters = counters
	return nil
}

func docOwnerKey(dbAddr types.Address, id int64) []byte {
	key := make([]byte, 28)
	copy(key[:20], dbAddr.Bytes())
	binary.BigEndian.PutUint64(key[20:], uint64(id))
	return key
}

func dbOwnerKey(owner types.Address, block uint64, order uint32) []byte {
	key := make([]byte, 32)
	copy(key[:20], owner.Bytes())
	binary.BigEndian.PutUint64(key[20:28], block)
	binary.BigEndian.PutUint32(key[28:], order)
	return key
}

func collectionKey(dbAddr types.Address, name string) []byte {
	key := make([]byte, 0, 20+len(name))
	key = append(key, dbAddr.Bytes()...)
	key = append(key, name...)
	return key
}

// indexKey builds an index-family row key: coll_id || field_id ||
// encoded_key || doc_id_be (spec §4.4). collID is the collection's own
// key (db_address || name), reused here since collections have no
// separate numeric id.
func indexKey(collID []byte, fieldID uint16, encodedKey []byte, docID int64) []byte {
	key := make([]byte, 0, len(collID)+2+len(encodedKey)+8)
	key = append(key, collID...)
	key = append(key, byte(fieldID>>8), byte(fieldID))
	key = append(key, encodedKey...)
	key = append(key, encodeDocID(docID)...)
	return key
}

func encodeDocID(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// indexFieldValue extracts field's raw JSON encoding from a document
// body, so distinct JSON representations of the same value (e.g.
// number formatting) collapse to one index row. Non-JSON bodies or
// absent fields are skipped rather than treated as an error: index
// rows are a storage-layout concern, not a schema enforcement one.
func indexFieldValue(doc []byte, field string) ([]byte, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, false
	}
	v, ok := m[field]
	return []byte(v), ok
}

// putIndexRows writes one index row per declared index field found in
// doc, for use by a future secondary-index query path (spec §4.4);
// this store does not itself execute index queries.
func (s *Store) putIndexRows(tx *bolt.Tx, coll types.Collection, dbAddr types.Address, id int64, doc []byte) error {
	if len(coll.Index) == 0 || len(doc) == 0 {
		return nil
	}
	b := tx.Bucket(bucketIndex)
	collID := collectionKey(dbAddr, coll.Name)
	for i, field := range coll.Index {
		encoded, ok := indexFieldValue(doc, field.Name)
		if !ok {
			continue
		}
		if err := b.Put(indexKey(collID, uint16(i), encoded, id), nil); err != nil {
			return err
		}
	}
	return nil
}

// deleteIndexRows removes the index rows written by putIndexRows for
// doc's prior body.
func (s *Store) deleteIndexRows(tx *bolt.Tx, coll types.Collection, dbAddr types.Address, id int64, doc []byte) error {
	if len(coll.Index) == 0 || len(doc) == 0 {
		return nil
	}
	b := tx.Bucket(bucketIndex)
	collID := collectionKey(dbAddr, coll.Name)
	for i, field := range coll.Index {
		encoded, ok := indexFieldValue(doc, field.Name)
		if !ok {
			continue
		}
		if err := b.Delete(indexKey(collID, uint16(i), encoded, id)); err != nil {
			return err
		}
	}
	return nil
}

// CreateDatabase writes the database record and its db-owner index
// entry at dbAddr, which callers derive as H(owner||nonce||network)
// with crypto.DatabaseAddress (spec §4.4).
func (s *Store) CreateDatabase(owner types.Address, variant types.DatabaseVariant, mutation *types.Mutation, nonce, network, block uint64, order uint32, dbAddr types.Address) (types.Database, error) {
	record := types.Database{
		Address:     dbAddr,
		Owner:       owner,
		Variant:     variant,
		Nonce:       nonce,
		NetworkID:   network,
		Description: mutation.Description,

		ContractAddress: mutation.ContractAddress,
		EventABI:        mutation.EventABI,
		NodeURL:         mutation.NodeURL,
		TTL:             time.Duration(mutation.TTL) * time.Second,
		Tables:          mutation.Tables,

		CreatedBlock: block,
		CreatedOrder: order,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDatabase)
		if b.Get(dbAddr.Bytes()) != nil {
			return types.ErrDatabaseExists
		}
		data, err := marshalJSON(record)
		if err != nil {
			return err
		}
		if err := b.Put(dbAddr.Bytes(), data); err != nil {
			return err
		}
		return tx.Bucket(bucketDBOwner).Put(dbOwnerKey(owner, block, order), dbAddr.Bytes())
	})
	if err != nil {
		return types.Database{}, err
	}
	if err := s.docs.CreateDatabase(dbAddr); err != nil {
		return types.Database{}, fmt.Errorf("docstore create database: %w", err)
	}
	return record, nil
}

// GetDatabase returns the database record, or ErrDatabaseNotFound.
func (s *Store) GetDatabase(dbAddr types.Address) (types.Database, error) {
	var record types.Database
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDatabase).Get(dbAddr.Bytes())
		if v == nil {
			return types.ErrDatabaseNotFound
		}
		return unmarshalJSON(v, &record)
	})
	return record, err
}

// GetDatabasesOfOwner returns every database owned by owner, in
// creation order, via the prefix-scannable db-owner family.
func (s *Store) GetDatabasesOfOwner(owner types.Address) ([]types.Database, error) {
	var out []types.Database
	err := s.db.View(func(tx *bolt.Tx) error {
		db := tx.Bucket(bucketDatabase)
		c := tx.Bucket(bucketDBOwner).Cursor()
		prefix := owner.Bytes()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			rv := db.Get(v)
			if rv == nil {
				continue
			}
			var record types.Database
			if err := unmarshalJSON(rv, &record); err != nil {
				return err
			}
			out = append(out, record)
		}
		return nil
	})
	return out, err
}

// CreateCollection requires the database to exist and rejects duplicate
// names within it.
func (s *Store) CreateCollection(dbAddr types.Address, creator types.Address, name string, index []types.IndexField, block uint64, order uint32, idx uint32) (types.Collection, error) {
	coll := types.Collection{
		DatabaseAddress: dbAddr,
		Name:            name,
		Creator:         creator,
		Index:           index,
		CreatedBlock:    block,
		CreatedOrder:    order,
		CreatedIdx:      idx,
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDatabase).Get(dbAddr.Bytes()) == nil {
			return types.ErrDatabaseNotFound
		}
		b := tx.Bucket(bucketCollection)
		key := collectionKey(dbAddr, name)
		if b.Get(key) != nil {
			return types.ErrCollectionExists
		}
		data, err := marshalJSON(coll)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return types.Collection{}, err
	}
	if err := s.docs.CreateCollection(dbAddr, name); err != nil {
		return types.Collection{}, fmt.Errorf("docstore create collection: %w", err)
	}
	return coll, nil
}

// GetCollection returns the collection, or ErrCollectionNotFound.
func (s *Store) GetCollection(dbAddr types.Address, name string) (types.Collection, error) {
	var coll types.Collection
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCollection).Get(collectionKey(dbAddr, name))
		if v == nil {
			return types.ErrCollectionNotFound
		}
		return unmarshalJSON(v, &coll)
	})
	return coll, err
}

// GetCollectionsOfDatabase returns every collection of dbAddr via a
// prefix scan.
func (s *Store) GetCollectionsOfDatabase(dbAddr types.Address) ([]types.Collection, error) {
	var out []types.Collection
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCollection).Cursor()
		prefix := dbAddr.Bytes()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var coll types.Collection
			if err := unmarshalJSON(v, &coll); err != nil {
				return err
			}
			out = append(out, coll)
		}
		return nil
	})
	return out, err
}

// allocateIDs bumps the in-memory per-database counter by n and
// returns the n newly allocated ids; a database's first id is 1.
func (s *Store) allocateIDs(dbAddr types.Address, n int) []int64 {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		s.counters[dbAddr]++
		ids[i] = s.counters[dbAddr]
	}
	return ids
}

// AddDocs verifies the collection exists, allocates sequential ids,
// records ownership and index rows, and hands the docs to C5.
func (s *Store) AddDocs(dbAddr types.Address, owner types.Address, coll string, docs [][]byte) ([]int64, error) {
	collRecord, err := s.GetCollection(dbAddr, coll)
	if err != nil {
		return nil, err
	}
	ids := s.allocateIDs(dbAddr, len(docs))

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocOwner)
		for i, id := range ids {
			if err := b.Put(docOwnerKey(dbAddr, id), owner.Bytes()); err != nil {
				return err
			}
			if err := s.putIndexRows(tx, collRecord, dbAddr, id, docs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.docs.AddStrDocs(dbAddr, coll, docs, ids); err != nil {
		return nil, fmt.Errorf("docstore add docs: %w", err)
	}
	return ids, nil
}

// verifyOwnership checks that every id in ids is owned by sender.
func (s *Store) verifyOwnership(tx *bolt.Tx, dbAddr, sender types.Address, ids []int64) error {
	b := tx.Bucket(bucketDocOwner)
	for _, id := range ids {
		v := b.Get(docOwnerKey(dbAddr, id))
		if v == nil {
			return types.ErrOwnerVerifyFailed
		}
		var owner types.Address
		copy(owner[:], v)
		if owner != sender {
			return types.ErrOwnerVerifyFailed
		}
	}
	return nil
}

// UpdateDocs requires every id be owned by sender, swaps the old
// document's index rows for the new ones, then delegates the body
// replacement to C5.
func (s *Store) UpdateDocs(dbAddr types.Address, sender types.Address, coll string, docs [][]byte, ids []int64) error {
	collRecord, err := s.GetCollection(dbAddr, coll)
	if err != nil {
		return err
	}
	oldDocs, err := s.docs.GetDocs(dbAddr, coll, ids)
	if err != nil {
		return fmt.Errorf("docstore get docs: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := s.verifyOwnership(tx, dbAddr, sender, ids); err != nil {
			return err
		}
		for i, id := range ids {
			if i < len(oldDocs) {
				if err := s.deleteIndexRows(tx, collRecord, dbAddr, id, oldDocs[i]); err != nil {
					return err
				}
			}
			if err := s.putIndexRows(tx, collRecord, dbAddr, id, docs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.docs.PatchDocs(dbAddr, coll, docs, ids); err != nil {
		return fmt.Errorf("docstore patch docs: %w", err)
	}
	return nil
}

// DeleteDocs requires every id be owned by sender, removes the
// ownership and index rows, then delegates deletion to C5. Ids are
// never reassigned even after deletion (spec §4).
func (s *Store) DeleteDocs(dbAddr types.Address, sender types.Address, coll string, ids []int64) error {
	collRecord, err := s.GetCollection(dbAddr, coll)
	if err != nil {
		return err
	}
	oldDocs, err := s.docs.GetDocs(dbAddr, coll, ids)
	if err != nil {
		return fmt.Errorf("docstore get docs: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := s.verifyOwnership(tx, dbAddr, sender, ids); err != nil {
			return err
		}
		b := tx.Bucket(bucketDocOwner)
		for i, id := range ids {
			if err := b.Delete(docOwnerKey(dbAddr, id)); err != nil {
				return err
			}
			if i < len(oldDocs) {
				if err := s.deleteIndexRows(tx, collRecord, dbAddr, id, oldDocs[i]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.docs.DeleteDocs(dbAddr, coll, ids); err != nil {
		return fmt.Errorf("docstore delete docs: %w", err)
	}
	return nil
}

// ApplyMutation is the dispatch entry the node calls for every
// verified, block/order-assigned mutation.
func (s *Store) ApplyMutation(mutation *types.Mutation, signer types.Address, network, nonce, block uint64, order uint32) ([]types.ExtraItem, error) {
	switch mutation.Action {
	case types.ActionCreateDocumentDb:
		dbAddr := dvcrypto.DatabaseAddress(signer, nonce, network)
		record, err := s.CreateDatabase(signer, types.DatabaseVariantDocument, mutation, nonce, network, block, order, dbAddr)
		if err != nil {
			return nil, err
		}
		return []types.ExtraItem{{Key: "database_address", Value: record.Address.Hex()}}, nil

	case types.ActionCreateEventDb:
		dbAddr := dvcrypto.DatabaseAddress(signer, nonce, network)
		record, err := s.CreateDatabase(signer, types.DatabaseVariantEvent, mutation, nonce, network, block, order, dbAddr)
		if err != nil {
			return nil, err
		}
		return []types.ExtraItem{{Key: "database_address", Value: record.Address.Hex()}}, nil

	case types.ActionAddCollection:
		colls, err := s.GetCollectionsOfDatabase(mutation.DatabaseAddress)
		if err != nil {
			return nil, err
		}
		coll, err := s.CreateCollection(mutation.DatabaseAddress, signer, mutation.CollectionName, mutation.IndexFields, block, order, uint32(len(colls)))
		if err != nil {
			return nil, err
		}
		return []types.ExtraItem{{Key: "collection_name", Value: coll.Name}}, nil

	case types.ActionAddDocument:
		ids, err := s.AddDocs(mutation.DatabaseAddress, signer, mutation.CollectionName, mutation.Documents)
		if err != nil {
			return nil, err
		}
		items := make([]types.ExtraItem, len(ids))
		for i, id := range ids {
			items[i] = types.ExtraItem{Key: "document_id", Value: fmt.Sprintf("%d", id)}
		}
		return items, nil

	case types.ActionUpdateDocument:
		if err := s.UpdateDocs(mutation.DatabaseAddress, signer, mutation.CollectionName, mutation.Documents, mutation.DocumentIDs); err != nil {
			return nil, err
		}
		return nil, nil

	case types.ActionDeleteDocument:
		if err := s.DeleteDocs(mutation.DatabaseAddress, signer, mutation.CollectionName, mutation.DocumentIDs); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		return nil, types.ErrBadInnerPayload
	}
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
