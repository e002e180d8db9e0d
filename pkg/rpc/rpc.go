// Package rpc defines the storage-node's request/response surface as a
// plain Go interface. The on-wire transport framing is handled
// elsewhere (pkg/api binds it to HTTP+JSON); this package is the
// contract every transport binds to.
package rpc

import (
	"context"

	"github.com/docvault/storagenode/pkg/types"
)

// ResponseCode mirrors spec.md §6: 0 for success, 1 for a domain-level
// bad-nonce rejection reported in-band rather than as a transport error.
type ResponseCode int32

const (
	CodeOK       ResponseCode = 0
	CodeBadNonce ResponseCode = 1
)

// SetupRequest carries a signed, admin-only configuration change.
type SetupRequest struct {
	Payload   []byte
	Signature string
}

// SetupResponse reports the outcome of a setup call.
type SetupResponse struct {
	Code ResponseCode
	Msg  string
}

// SystemStatus reports the node's live configuration and progress.
type SystemStatus struct {
	NetworkID      uint64
	OpenBlock      uint64
	LatestRollup   uint64
	RollupInterval int64
	MinRollupSize  uint64
	ActiveSubs     int
}

// SendMutationRequest carries a signed envelope whose inner payload is
// a mutation.
type SendMutationRequest struct {
	Payload   []byte
	Signature string
}

// SendMutationResponse is the unified mutation outcome envelope. Extra
// carries action-specific results (new database address, collection
// name, allocated document ids).
type SendMutationResponse struct {
	ID    types.MutationID
	Code  ResponseCode
	Msg   string
	Extra []types.ExtraItem
	Block uint64
	Order uint32
}

// SubscribeRequest authenticates a subscriber the same way a mutation
// is authenticated: a signed envelope whose signer becomes the
// subscription key.
type SubscribeRequest struct {
	Payload   []byte
	Signature string
}

// Service is the full storage-node RPC surface (spec.md §6).
type Service interface {
	Setup(ctx context.Context, req SetupRequest) (SetupResponse, error)
	GetSystemStatus(ctx context.Context) (SystemStatus, error)
	SendMutation(ctx context.Context, req SendMutationRequest) (SendMutationResponse, error)
	GetNonce(ctx context.Context, address types.Address) (uint64, error)
	GetDatabase(ctx context.Context, address types.Address) (*types.Database, error)
	GetDatabaseOfOwner(ctx context.Context, owner types.Address) ([]types.Database, error)
	GetCollectionOfDatabase(ctx context.Context, dbAddr types.Address) ([]types.Collection, error)
	GetMutationHeader(ctx context.Context, block uint64, order uint32) (*types.MutationHeader, error)
	GetMutationBody(ctx context.Context, id types.MutationID) (*types.MutationBody, error)
	ScanMutationHeader(ctx context.Context, start uint64, limit int) ([]types.MutationHeader, error)
	ScanRollupRecord(ctx context.Context, start uint64, limit int) ([]types.RollupRecord, error)
	ScanGCRecord(ctx context.Context, start uint64, limit int) ([]types.GCRecord, error)
	GetBlock(ctx context.Context, start, end uint64) ([]types.MutationHeader, []types.MutationBody, error)
	Subscribe(ctx context.Context, req SubscribeRequest) (<-chan types.BlockEvent, func(), error)
}
