package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docvault/storagenode/pkg/types"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	headers := []types.MutationHeader{
		{ID: types.MutationID{1}},
		{ID: types.MutationID{2}},
	}
	bodies := []types.MutationBody{
		{Payload: []byte("p1"), Signature: []byte("s1")},
		{Payload: []byte("p2"), Signature: []byte("s2")},
	}

	frame, err := EncodeFrame(headers, bodies)
	require.NoError(t, err)

	records, err := DecodeFrame(frame)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, headers[0].ID, records[0].ID)
	require.Equal(t, []byte("p1"), records[0].Payload)
	require.Equal(t, []byte("s2"), records[1].Signature)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := []byte("some mutation frame bytes to compress, repeated repeated repeated")
	compressed, err := compress(data)
	require.NoError(t, err)
	require.NotEmpty(t, compressed)

	decompressed, err := Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, data, decompressed)
}

type fakeStore struct {
	latestEnd     uint64
	openBlock     uint64
	headers       []types.MutationHeader
	bodies        []types.MutationBody
	rollups       []types.RollupRecord
	gcs           []types.GCRecord
	deletedRanges [][2]uint64
}

func (f *fakeStore) LatestRollupEndBlock() (uint64, error) { return f.latestEnd, nil }
func (f *fakeStore) OpenBlock() uint64                     { return f.openBlock }
func (f *fakeStore) GetRangeMutations(start, end uint64) ([]types.MutationHeader, []types.MutationBody, error) {
	return f.headers, f.bodies, nil
}
func (f *fakeStore) RecordRollup(r types.RollupRecord) error {
	f.rollups = append(f.rollups, r)
	f.latestEnd = r.EndBlock
	return nil
}
func (f *fakeStore) RecordGC(g types.GCRecord) error {
	f.gcs = append(f.gcs, g)
	return nil
}
func (f *fakeStore) DeleteBodiesInRange(start, end uint64) (int, error) {
	f.deletedRanges = append(f.deletedRanges, [2]uint64{start, end})
	return len(f.bodies), nil
}

type fakeConfig struct {
	cfg types.SystemConfig
}

func (f *fakeConfig) Config() types.SystemConfig { return f.cfg }

type fakeArchive struct {
	uploads [][]byte
	tx      string
}

func (f *fakeArchive) Upload(ctx context.Context, data []byte) (string, error) {
	f.uploads = append(f.uploads, data)
	return f.tx, nil
}

func TestTickSkipsWhenBelowMinRollupSize(t *testing.T) {
	store := &fakeStore{
		openBlock: 5,
		headers:   []types.MutationHeader{{ID: types.MutationID{1}}},
		bodies:    []types.MutationBody{{Payload: []byte("x")}},
	}
	cfg := &fakeConfig{cfg: types.SystemConfig{MinRollupSize: 1 << 20}}
	archive := &fakeArchive{tx: "tx1"}

	ex := New(store, cfg, archive, true)
	rolled, err := ex.Tick(context.Background())
	require.NoError(t, err)
	require.False(t, rolled)
	require.Empty(t, archive.uploads)
	require.Empty(t, store.rollups)
}

func TestTickSkipsWhenNoOpenProgress(t *testing.T) {
	store := &fakeStore{latestEnd: 5, openBlock: 5}
	cfg := &fakeConfig{cfg: types.SystemConfig{MinRollupSize: 1}}
	archive := &fakeArchive{}

	ex := New(store, cfg, archive, true)
	rolled, err := ex.Tick(context.Background())
	require.NoError(t, err)
	require.False(t, rolled)
}

func TestTickRollsUpAndRecordsThenGC(t *testing.T) {
	store := &fakeStore{
		openBlock: 10,
		headers:   []types.MutationHeader{{ID: types.MutationID{1}}, {ID: types.MutationID{2}}},
		bodies: []types.MutationBody{
			{Payload: []byte("payload-one"), Signature: []byte("sig-one")},
			{Payload: []byte("payload-two"), Signature: []byte("sig-two")},
		},
	}
	cfg := &fakeConfig{cfg: types.SystemConfig{MinRollupSize: 1}}
	archive := &fakeArchive{tx: "archive-tx-1"}

	ex := New(store, cfg, archive, true)
	rolled, err := ex.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, rolled)

	require.Len(t, store.rollups, 1)
	require.Equal(t, uint64(0), store.rollups[0].StartBlock)
	require.Equal(t, uint64(10), store.rollups[0].EndBlock)
	require.Equal(t, "archive-tx-1", store.rollups[0].ArchiveTx)

	require.Len(t, store.gcs, 1)
	require.Len(t, store.deletedRanges, 1)
	require.Equal(t, [2]uint64{0, 10}, store.deletedRanges[0])
}

func TestTickWithoutGCDoesNotDeleteBodies(t *testing.T) {
	store := &fakeStore{
		openBlock: 3,
		headers:   []types.MutationHeader{{ID: types.MutationID{1}}},
		bodies:    []types.MutationBody{{Payload: []byte("payload"), Signature: []byte("sig")}},
	}
	cfg := &fakeConfig{cfg: types.SystemConfig{MinRollupSize: 1}}
	archive := &fakeArchive{tx: "tx"}

	ex := New(store, cfg, archive, false)
	rolled, err := ex.Tick(context.Background())
	require.NoError(t, err)
	require.True(t, rolled)
	require.Empty(t, store.gcs)
	require.Empty(t, store.deletedRanges)
}

func TestStartStopTicksAtLeastOnce(t *testing.T) {
	store := &fakeStore{
		openBlock: 1,
		headers:   []types.MutationHeader{{ID: types.MutationID{1}}},
		bodies:    []types.MutationBody{{Payload: []byte("payload"), Signature: []byte("sig")}},
	}
	cfg := &fakeConfig{cfg: types.SystemConfig{MinRollupSize: 1, RollupInterval: 5 * time.Millisecond}}
	archive := &fakeArchive{tx: "tx"}

	ex := New(store, cfg, archive, true)
	ex.Start()
	time.Sleep(40 * time.Millisecond)
	ex.Stop()

	require.NotEmpty(t, store.rollups)
}
