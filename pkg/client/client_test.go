package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docvault/storagenode/pkg/api"
	"github.com/docvault/storagenode/pkg/rpc"
	"github.com/docvault/storagenode/pkg/types"
)

type stubService struct {
	nonce    uint64
	database *types.Database
}

func (s *stubService) Setup(ctx context.Context, req rpc.SetupRequest) (rpc.SetupResponse, error) {
	return rpc.SetupResponse{Code: rpc.CodeOK, Msg: "ok"}, nil
}
func (s *stubService) GetSystemStatus(ctx context.Context) (rpc.SystemStatus, error) {
	return rpc.SystemStatus{NetworkID: 7}, nil
}
func (s *stubService) SendMutation(ctx context.Context, req rpc.SendMutationRequest) (rpc.SendMutationResponse, error) {
	return rpc.SendMutationResponse{Code: rpc.CodeOK, Block: 1, Order: 0}, nil
}
func (s *stubService) GetNonce(ctx context.Context, address types.Address) (uint64, error) {
	return s.nonce, nil
}
func (s *stubService) GetDatabase(ctx context.Context, address types.Address) (*types.Database, error) {
	if s.database == nil {
		return nil, types.ErrDatabaseNotFound
	}
	return s.database, nil
}
func (s *stubService) GetDatabaseOfOwner(ctx context.Context, owner types.Address) ([]types.Database, error) {
	return nil, nil
}
func (s *stubService) GetCollectionOfDatabase(ctx context.Context, dbAddr types.Address) ([]types.Collection, error) {
	return nil, nil
}
func (s *stubService) GetMutationHeader(ctx context.Context, block uint64, order uint32) (*types.MutationHeader, error) {
	return &types.MutationHeader{Block: block, Order: order}, nil
}
func (s *stubService) GetMutationBody(ctx context.Context, id types.MutationID) (*types.MutationBody, error) {
	return &types.MutationBody{}, nil
}
func (s *stubService) ScanMutationHeader(ctx context.Context, start uint64, limit int) ([]types.MutationHeader, error) {
	return []types.MutationHeader{{Block: start}}, nil
}
func (s *stubService) ScanRollupRecord(ctx context.Context, start uint64, limit int) ([]types.RollupRecord, error) {
	return nil, nil
}
func (s *stubService) ScanGCRecord(ctx context.Context, start uint64, limit int) ([]types.GCRecord, error) {
	return nil, nil
}
func (s *stubService) GetBlock(ctx context.Context, start, end uint64) ([]types.MutationHeader, []types.MutationBody, error) {
	return []types.MutationHeader{{Block: start}}, nil, nil
}
func (s *stubService) Subscribe(ctx context.Context, req rpc.SubscribeRequest) (<-chan types.BlockEvent, func(), error) {
	ch := make(chan types.BlockEvent, 1)
	ch <- types.BlockEvent{BlockID: 5, MutationCount: 2}
	close(ch)
	return ch, func() {}, nil
}

var _ rpc.Service = (*stubService)(nil)

func newTestServer(t *testing.T, svc rpc.Service) (*Client, func()) {
	t.Helper()
	srv := api.NewServer(svc)
	ts := httptest.NewServer(srv)
	return NewClient(ts.URL), ts.Close
}

func TestClientGetSystemStatus(t *testing.T) {
	c, close := newTestServer(t, &stubService{})
	defer close()

	status, err := c.GetSystemStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(7), status.NetworkID)
}

func TestClientSendMutation(t *testing.T) {
	c, close := newTestServer(t, &stubService{})
	defer close()

	resp, err := c.SendMutation(context.Background(), []byte("payload"), "0xsig")
	require.NoError(t, err)
	require.Equal(t, rpc.CodeOK, resp.Code)
	require.Equal(t, uint64(1), resp.Block)
}

func TestClientGetNonce(t *testing.T) {
	c, close := newTestServer(t, &stubService{nonce: 9})
	defer close()

	nonce, err := c.GetNonce(context.Background(), types.Address{})
	require.NoError(t, err)
	require.Equal(t, uint64(9), nonce)
}

func TestClientGetDatabaseNotFound(t *testing.T) {
	c, close := newTestServer(t, &stubService{})
	defer close()

	_, err := c.GetDatabase(context.Background(), types.Address{})
	require.Error(t, err)
}

func TestClientGetDatabaseFound(t *testing.T) {
	db := &types.Database{Address: types.Address{1}, Owner: types.Address{2}}
	c, close := newTestServer(t, &stubService{database: db})
	defer close()

	got, err := c.GetDatabase(context.Background(), types.Address{1})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, db.Owner, got.Owner)
}

func TestClientScanMutationHeader(t *testing.T) {
	c, close := newTestServer(t, &stubService{})
	defer close()

	headers, err := c.ScanMutationHeader(context.Background(), 3, 10)
	require.NoError(t, err)
	require.Len(t, headers, 1)
	require.Equal(t, uint64(3), headers[0].Block)
}

func TestClientGetBlock(t *testing.T) {
	c, close := newTestServer(t, &stubService{})
	defer close()

	headers, _, err := c.GetBlock(context.Background(), 2, 5)
	require.NoError(t, err)
	require.Len(t, headers, 1)
}

func TestClientSubscribeStreamsEvents(t *testing.T) {
	c, close := newTestServer(t, &stubService{})
	defer close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Subscribe(ctx, []byte("payload"), "0xsig")
	require.NoError(t, err)

	ev, ok := <-events
	require.True(t, ok)
	require.Equal(t, uint64(5), ev.BlockID)

	_, ok = <-events
	require.False(t, ok)
}
