// Package mutationstore implements C3: the append-only log of mutation
// headers and bodies, block/order assignment, and the rollup/gc record
// tables.
package mutationstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/docvault/storagenode/pkg/types"
)

var (
	bucketBody          = []byte("body")
	bucketHeaderByOrder = []byte("header_by_order")
	bucketHeaderByID    = []byte("header_by_id")
	bucketRollup        = []byte("rollup")
	bucketGC            = []byte("gc")
)

// ScanMaxLimit bounds every scan_* RPC (spec §9 open question,
// resolved: enforce a server-side bound since the source does not).
const ScanMaxLimit = 1000

// Store is the C3 mutation store.
type Store struct {
	db *bolt.DB

	mu          sync.Mutex
	openBlock   uint64
	nextOrder   uint32
}

// Open opens (creating if absent) the mutation database at path and
// recovers the open block/order counters by scanning header_by_order.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open mutation store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBody, bucketHeaderByOrder, bucketHeaderByID, bucketRollup, bucketGC} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init mutation store buckets: %w", err)
	}

	s := &Store{db: db}
	if err := s.recover(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// recover restores the open block number and per-block order counter
// by seeking to the last key of header_by_order.
func (s *Store) recover() error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHeaderByOrder).Cursor()
		k, _ := c.Last()
		if k == nil {
			s.openBlock = 0
			s.nextOrder = 0
			return nil
		}
		block, order := decodeOrderKey(k)
		s.openBlock = block
		s.nextOrder = order + 1
		return nil
	})
}

// GenerateMutationBlockAndOrder allocates a (block, order) within the
// currently open block for a mutation whose id the caller has already
// computed. It does not yet persist anything.
func (s *Store) GenerateMutationBlockAndOrder(id types.MutationID) (block uint64, order uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block = s.openBlock
	order = s.nextOrder
	s.nextOrder++
	return block, order
}

// AddMutation persists the body and both header indices. It is
// idempotent in id: writing the same (payload, sig) twice overwrites
// the same row, which is safe because the inputs are identical.
func (s *Store) AddMutation(id types.MutationID, payload, signature []byte, signer types.Address, nonce uint64, action types.ActionCode, block uint64, order uint32) (types.MutationHeader, error) {
	header := types.MutationHeader{
		Block:  block,
		Order:  order,
		ID:     id,
		Action: action,
		Nonce:  nonce,
		Signer: signer,
		Size:   uint64(len(payload) + len(signature)),
		Time:   time.Now().UTC(),
	}

	headerData, err := json.Marshal(header)
	if err != nil {
		return header, fmt.Errorf("encode header: %w", err)
	}
	body := types.MutationBody{Payload: payload, Signature: signature}
	bodyData, err := json.Marshal(body)
	if err != nil {
		return header, fmt.Errorf("encode body: %w", err)
	}

	orderKey := encodeOrderKey(block, order)

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBody).Put(id.Bytes(), bodyData); err != nil {
			return err
		}
		if err := tx.Bucket(bucketHeaderByOrder).Put(orderKey, headerData); err != nil {
			return err
		}
		return tx.Bucket(bucketHeaderByID).Put(id.Bytes(), orderKey)
	})
	if err != nil {
		return header, fmt.Errorf("%w: %v", types.ErrStoreIO, err)
	}
	return header, nil
}

// IncreaseBlockReturnLastState advances the open block counter and
// returns the just-closed block's id and how many mutations it held.
func (s *Store) IncreaseBlockReturnLastState() (closedBlock uint64, mutationCount uint64, err error) {
	s.mu.Lock()
	closedBlock = s.openBlock
	closedOrder := s.nextOrder
	s.openBlock++
	s.nextOrder = 0
	s.mu.Unlock()

	return closedBlock, uint64(closedOrder), nil
}

// GetMutationHeader returns the header at (block, order), if any.
func (s *Store) GetMutationHeader(block uint64, order uint32) (*types.MutationHeader, error) {
	var header *types.MutationHeader
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeaderByOrder).Get(encodeOrderKey(block, order))
		if v == nil {
			return nil
		}
		var h types.MutationHeader
		if err := json.Unmarshal(v, &h); err != nil {
			return err
		}
		header = &h
		return nil
	})
	return header, err
}

// GetMutationBody returns the body for id, if any.
func (s *Store) GetMutationBody(id types.MutationID) (*types.MutationBody, error) {
	var body *types.MutationBody
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBody).Get(id.Bytes())
		if v == nil {
			return nil
		}
		var b types.MutationBody
		if err := json.Unmarshal(v, &b); err != nil {
			return err
		}
		body = &b
		return nil
	})
	return body, err
}

// GetMutationByID returns the header for id, if any, by following the
// header_by_id index.
func (s *Store) GetMutationByID(id types.MutationID) (*types.MutationHeader, error) {
	var header *types.MutationHeader
	err := s.db.View(func(tx *bolt.Tx) error {
		orderKey := tx.Bucket(bucketHeaderByID).Get(id.Bytes())
		if orderKey == nil {
			return nil
		}
		v := tx.Bucket(bucketHeaderByOrder).Get(orderKey)
		if v == nil {
			return nil
		}
		var h types.MutationHeader
		if err := json.Unmarshal(v, &h); err != nil {
			return err
		}
		header = &h
		return nil
	})
	return header, err
}

// GetRangeMutations returns every committed mutation whose block falls
// in [start, end), in (block, order) order.
func (s *Store) GetRangeMutations(start, end uint64) ([]types.MutationHeader, []types.MutationBody, error) {
	var headers []types.MutationHeader
	var bodies []types.MutationBody

	err := s.db.View(func(tx *bolt.Tx) error {
		hb := tx.Bucket(bucketHeaderByOrder)
		bb := tx.Bucket(bucketBody)
		c := hb.Cursor()
		lo := encodeOrderKey(start, 0)
		for k, v := c.Seek(lo); k != nil; k, v = c.Next() {
			block, _ := decodeOrderKey(k)
			if block >= end {
				break
			}
			var h types.MutationHeader
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			headers = append(headers, h)

			bv := bb.Get(h.ID.Bytes())
			var body types.MutationBody
			if bv != nil {
				if err := json.Unmarshal(bv, &body); err != nil {
					return err
				}
			}
			bodies = append(bodies, body)
		}
		return nil
	})
	return headers, bodies, err
}

// ScanMutationHeaders returns up to limit headers starting at block
// start, in (block, order) order.
func (s *Store) ScanMutationHeaders(start uint64, limit int) ([]types.MutationHeader, error) {
	if limit <= 0 || limit > ScanMaxLimit {
		limit = ScanMaxLimit
	}
	var headers []types.MutationHeader
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHeaderByOrder).Cursor()
		lo := encodeOrderKey(start, 0)
		for k, v := c.Seek(lo); k != nil && len(headers) < limit; k, v = c.Next() {
			var h types.MutationHeader
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			headers = append(headers, h)
		}
		return nil
	})
	return headers, err
}

// RecordRollup appends a rollup record. Used exclusively by C7.
func (s *Store) RecordRollup(r types.RollupRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode rollup record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRollup).Put(encodeUint64(r.StartBlock), data)
	})
}

// RecordGC appends a gc record. Used exclusively by C7.
func (s *Store) RecordGC(g types.GCRecord) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode gc record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGC).Put(encodeUint64(g.StartBlock), data)
	})
}

// ScanRollupRecords returns up to limit rollup records starting at
// start_block, in ascending order.
func (s *Store) ScanRollupRecords(start uint64, limit int) ([]types.RollupRecord, error) {
	if limit <= 0 || limit > ScanMaxLimit {
		limit = ScanMaxLimit
	}
	var out []types.RollupRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRollup).Cursor()
		for k, v := c.Seek(encodeUint64(start)); k != nil && len(out) < limit; k, v = c.Next() {
			var r types.RollupRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// ScanGCRecords returns up to limit gc records starting at start_block.
func (s *Store) ScanGCRecords(start uint64, limit int) ([]types.GCRecord, error) {
	if limit <= 0 || limit > ScanMaxLimit {
		limit = ScanMaxLimit
	}
	var out []types.GCRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketGC).Cursor()
		for k, v := c.Seek(encodeUint64(start)); k != nil && len(out) < limit; k, v = c.Next() {
			var g types.GCRecord
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}
			out = append(out, g)
		}
		return nil
	})
	return out, err
}

// LatestRollupEndBlock returns the end_block of the most recent rollup
// record, or 0 if none exists yet.
func (s *Store) LatestRollupEndBlock() (uint64, error) {
	var end uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRollup).Cursor()
		_, v := c.Last()
		if v == nil {
			return nil
		}
		var r types.RollupRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		end = r.EndBlock
		return nil
	})
	return end, err
}

// OpenBlock returns the currently open (not-yet-closed) block number.
func (s *Store) OpenBlock() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openBlock
}

// DeleteBodiesInRange removes body rows for every header whose block
// falls in [start, end). Called only after the corresponding rollup
// record is durable (spec §4.7).
func (s *Store) DeleteBodiesInRange(start, end uint64) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		hb := tx.Bucket(bucketHeaderByOrder)
		bb := tx.Bucket(bucketBody)
		c := hb.Cursor()
		lo := encodeOrderKey(start, 0)
		for k, v := c.Seek(lo); k != nil; k, v = c.Next() {
			block, _ := decodeOrderKey(k)
			if block >= end {
				break
			}
			var h types.MutationHeader
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if bb.Get(h.ID.Bytes()) != nil {
				if err := bb.Delete(h.ID.Bytes()); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

func encodeOrderKey(block uint64, order uint32) []byte {
	key := make([]byte, 12)
	binary.BigEndian.PutUint64(key[:8], block)
	binary.BigEndian.PutUint32(key[8:], order)
	return key
}

func decodeOrderKey(key []byte) (block uint64, order uint32) {
	return binary.BigEndian.Uint64(key[:8]), binary.BigEndian.Uint32(key[8:])
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
