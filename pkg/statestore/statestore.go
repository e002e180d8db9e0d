// Package statestore implements C2: per-address monotonic nonce
// admission and the node's persisted, live-reconfigurable system
// configuration.
package statestore

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"github.com/docvault/storagenode/pkg/types"
)

var (
	bucketNonces = []byte("nonces")
	bucketConfig = []byte("config")

	configKey = []byte("system")
)

// Store is the C2 state store: nonces and config on a dedicated bbolt
// database, following the teacher's bucket-per-entity layout.
type Store struct {
	db *bolt.DB

	locksMu sync.Mutex
	locks   map[types.Address]*sync.Mutex

	config atomic.Pointer[types.SystemConfig]
}

// Open opens (creating if absent) the state database at path.
func Open(path string, defaultConfig types.SystemConfig) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNonces); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketConfig)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init state store buckets: %w", err)
	}

	s := &Store{
		db:    db,
		locks: make(map[types.Address]*sync.Mutex),
	}

	cfg, err := s.loadConfig()
	if err != nil {
		db.Close()
		return nil, err
	}
	if cfg == nil {
		cfg = &defaultConfig
		if err := s.persistConfig(cfg); err != nil {
			db.Close()
			return nil, err
		}
	}
	s.config.Store(cfg)

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// GetNonce returns the highest used nonce for addr, or 0 if none.
func (s *Store) GetNonce(addr types.Address) (uint64, error) {
	var nonce uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNonces)
		v := b.Get(addr.Bytes())
		if v == nil {
			return nil
		}
		nonce = decodeUint64(v)
		return nil
	})
	return nonce, err
}

// AdmitNonce admits nonce for addr iff it is exactly one greater than
// the current value. Admission for a single address is serialized by a
// per-address mutex so concurrent requests from the same signer cannot
// both claim the next slot (spec §4.2).
func (s *Store) AdmitNonce(addr types.Address, nonce uint64) error {
	lock := s.lockFor(addr)
	lock.Lock()
	defer lock.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNonces)
		current := decodeUint64(b.Get(addr.Bytes()))
		if nonce != current+1 {
			return types.ErrBadNonce
		}
		return b.Put(addr.Bytes(), encodeUint64(nonce))
	})
}

func (s *Store) lockFor(addr types.Address) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[addr]
	if !ok {
		l = &sync.Mutex{}
		s.locks[addr] = l
	}
	return l
}

// Config returns the current system configuration. Reads are
// lock-free: every background tick reads a consistent snapshot without
// contending on a mutex (spec §9).
func (s *Store) Config() types.SystemConfig {
	return *s.config.Load()
}

// SetConfig persists and atomically installs a new system
// configuration, taking effect for every subsequent read without a
// node restart.
func (s *Store) SetConfig(cfg types.SystemConfig) error {
	if err := s.persistConfig(&cfg); err != nil {
		return err
	}
	s.config.Store(&cfg)
	return nil
}

func (s *Store) loadConfig() (*types.SystemConfig, error) {
	var cfg *types.SystemConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfig)
		v := b.Get(configKey)
		if v == nil {
			return nil
		}
		var c types.SystemConfig
		if err := json.Unmarshal(v, &c); err != nil {
			return fmt.Errorf("decode system config: %w", err)
		}
		cfg = &c
		return nil
	})
	return cfg, err
}

func (s *Store) persistConfig(cfg *types.SystemConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode system config: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Put(configKey, data)
	})
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v & 0xff)
		v >>= 8
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
