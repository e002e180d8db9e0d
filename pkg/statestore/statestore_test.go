package statestore

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docvault/storagenode/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.db"), types.SystemConfig{
		RollupInterval: time.Second,
		MinRollupSize:  1024,
		NetworkID:      1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAdmitNonceSequence(t *testing.T) {
	s := openTestStore(t)
	addr := types.Address{1}

	n, err := s.GetNonce(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)

	require.NoError(t, s.AdmitNonce(addr, 1))
	require.NoError(t, s.AdmitNonce(addr, 2))
	require.NoError(t, s.AdmitNonce(addr, 3))

	n, err = s.GetNonce(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)
}

func TestAdmitNonceRejectsStaleOrSkipped(t *testing.T) {
	s := openTestStore(t)
	addr := types.Address{2}

	require.NoError(t, s.AdmitNonce(addr, 1))

	require.ErrorIs(t, s.AdmitNonce(addr, 1), types.ErrBadNonce)
	require.ErrorIs(t, s.AdmitNonce(addr, 3), types.ErrBadNonce)

	n, err := s.GetNonce(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n, "rejected admission must not change state")
}

func TestAdmitNonceConcurrentSameSignerSameSlot(t *testing.T) {
	s := openTestStore(t)
	addr := types.Address{3}

	const n = 50
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.AdmitNonce(addr, 1)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		}
	}
	require.Equal(t, 1, ok, "exactly one concurrent claim of the same slot must win")

	got, err := s.GetNonce(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got)
}

func TestConfigPersistsAndHotReloads(t *testing.T) {
	s := openTestStore(t)
	cfg := s.Config()
	require.Equal(t, uint64(1024), cfg.MinRollupSize)

	require.NoError(t, s.SetConfig(types.SystemConfig{MinRollupSize: 2048, NetworkID: 1}))
	require.Equal(t, uint64(2048), s.Config().MinRollupSize)
}
