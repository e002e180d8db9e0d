// Package node wires C1-C8 together and implements pkg/rpc.Service,
// the operation the API layer calls into.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docvault/storagenode/pkg/blockproducer"
	dvcrypto "github.com/docvault/storagenode/pkg/crypto"
	"github.com/docvault/storagenode/pkg/dbstore"
	"github.com/docvault/storagenode/pkg/docstore"
	"github.com/docvault/storagenode/pkg/log"
	"github.com/docvault/storagenode/pkg/metrics"
	"github.com/docvault/storagenode/pkg/mutationstore"
	"github.com/docvault/storagenode/pkg/rollup"
	"github.com/docvault/storagenode/pkg/rpc"
	"github.com/docvault/storagenode/pkg/statestore"
	"github.com/docvault/storagenode/pkg/subscription"
	"github.com/docvault/storagenode/pkg/types"
	"github.com/docvault/storagenode/pkg/verifier"
)

// Config holds the parameters needed to assemble a Node.
type Config struct {
	DataDir      string
	NetworkID    uint64
	AdminAddress types.Address

	BlockInterval time.Duration

	EnableDocStore bool
	EnableGC       bool

	ArchiveEndpoint string
	ArchiveBucket   string

	DefaultSystemConfig types.SystemConfig
}

// Node owns every storage-node subsystem and implements rpc.Service.
type Node struct {
	cfg Config

	verifier *verifier.Verifier
	state    *statestore.Store
	mutation *mutationstore.Store
	db       *dbstore.Store
	docs     docstore.Store

	hub      *subscription.Hub
	producer *blockproducer.Producer
	roller   *rollup.Executor
}

// New assembles a Node from its config. The archive client, when the
// archive endpoint/bucket are configured, is an S3-compatible client;
// callers that only need the non-background parts of a Node (e.g.
// tests exercising read/write RPCs) can pass a nil archive, in which
// case no rollup executor is created.
func New(ctx context.Context, cfg Config, archive rollup.ArchiveClient) (*Node, error) {
	state, err := statestore.Open(cfg.DataDir+"/state.db", cfg.DefaultSystemConfig)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	mutationStore, err := mutationstore.Open(cfg.DataDir + "/mutations.db")
	if err != nil {
		return nil, fmt.Errorf("open mutation store: %w", err)
	}

	var docs docstore.Store = docstore.NoopStore{}

	dbPath := cfg.DataDir + "/db.db"
	dbStore, err := dbstore.Open(dbPath, docs)
	if err != nil {
		return nil, fmt.Errorf("open db store: %w", err)
	}
	if cfg.EnableDocStore {
		boltDocs, err := docstore.Open(dbStore.DB())
		if err != nil {
			return nil, fmt.Errorf("open doc store: %w", err)
		}
		docs = boltDocs
		dbStore.SetDocStore(docs)
	}

	hub := subscription.NewHub()
	producer := blockproducer.New(mutationStore, hub, cfg.BlockInterval)

	var roller *rollup.Executor
	if archive != nil {
		roller = rollup.New(mutationStore, state, archive, cfg.EnableGC)
	}

	return &Node{
		cfg:      cfg,
		verifier: verifier.New(),
		state:    state,
		mutation: mutationStore,
		db:       dbStore,
		docs:     docs,
		hub:      hub,
		producer: producer,
		roller:   roller,
	}, nil
}

// Start begins the background tasks: block producer, subscription
// hub, and (if configured) the rollup executor.
func (n *Node) Start() {
	n.hub.Start()
	n.producer.Start()
	if n.roller != nil {
		n.roller.Start()
	}
}

// Stop stops every background task and closes the stores.
func (n *Node) Stop() error {
	n.producer.Stop()
	if n.roller != nil {
		n.roller.Stop()
	}
	n.hub.Stop()

	if err := n.db.Close(); err != nil {
		return err
	}
	if err := n.mutation.Close(); err != nil {
		return err
	}
	return n.state.Close()
}

var _ rpc.Service = (*Node)(nil)

// Setup applies a signed, admin-only system configuration change.
func (n *Node) Setup(ctx context.Context, req rpc.SetupRequest) (rpc.SetupResponse, error) {
	signer, td, err := n.verifier.VerifySetup(req.Payload, req.Signature)
	if err != nil {
		return rpc.SetupResponse{}, err
	}
	if signer != n.cfg.AdminAddress {
		return rpc.SetupResponse{}, types.ErrPermissionDenied
	}

	inner, ok := td.Message["payload"].([]byte)
	if !ok {
		return rpc.SetupResponse{}, types.ErrMalformedEnvelope
	}
	var cfg types.SystemConfig
	if err := decodeJSON(inner, &cfg); err != nil {
		return rpc.SetupResponse{}, types.ErrBadInnerPayload
	}
	if err := n.state.SetConfig(cfg); err != nil {
		return rpc.SetupResponse{}, fmt.Errorf("%w: %v", types.ErrStoreIO, err)
	}
	return rpc.SetupResponse{Code: rpc.CodeOK, Msg: "ok"}, nil
}

// GetSystemStatus reports the node's live configuration and progress.
func (n *Node) GetSystemStatus(ctx context.Context) (rpc.SystemStatus, error) {
	cfg := n.state.Config()
	latest, err := n.mutation.LatestRollupEndBlock()
	if err != nil {
		return rpc.SystemStatus{}, fmt.Errorf("%w: %v", types.ErrStoreIO, err)
	}
	return rpc.SystemStatus{
		NetworkID:      n.cfg.NetworkID,
		OpenBlock:      n.mutation.OpenBlock(),
		LatestRollup:   latest,
		RollupInterval: int64(cfg.RollupInterval),
		MinRollupSize:  cfg.MinRollupSize,
		ActiveSubs:     n.hub.ActiveCount(),
	}, nil
}

// SendMutation is the core write path: verify, admit nonce, allocate
// block/order, persist header/body, apply logical effects.
func (n *Node) SendMutation(ctx context.Context, req rpc.SendMutationRequest) (rpc.SendMutationResponse, error) {
	mutation, signer, nonce, err := n.verifier.VerifyMutation(req.Payload, req.Signature)
	if err != nil {
		return rpc.SendMutationResponse{}, err
	}

	sig, err := dvcrypto.DecodeSignatureHex(req.Signature)
	if err != nil {
		return rpc.SendMutationResponse{}, err
	}
	id := dvcrypto.MutationID(req.Payload, sig)

	logger := log.WithAddress(log.WithComponent("node"), signer.Hex())

	if err := n.state.AdmitNonce(signer, nonce); err != nil {
		metrics.NoncesRejected.WithLabelValues(signer.Hex()).Inc()
		return rpc.SendMutationResponse{ID: id, Code: rpc.CodeBadNonce, Msg: "bad nonce"}, nil
	}
	metrics.NoncesAdmitted.WithLabelValues(signer.Hex()).Inc()

	block, order := n.mutation.GenerateMutationBlockAndOrder(id)

	extra, err := n.db.ApplyMutation(mutation, signer, n.cfg.NetworkID, nonce, block, order)
	if err != nil {
		logger.Error().Err(err).Msg("apply mutation failed")
		return rpc.SendMutationResponse{}, err
	}

	if _, err := n.mutation.AddMutation(id, req.Payload, sig, signer, nonce, mutation.Action, block, order); err != nil {
		return rpc.SendMutationResponse{}, err
	}
	metrics.MutationsWritten.Inc()

	return rpc.SendMutationResponse{
		ID:    id,
		Code:  rpc.CodeOK,
		Msg:   "ok",
		Extra: extra,
		Block: block,
		Order: order,
	}, nil
}

// GetNonce returns the next admissible nonce for address.
func (n *Node) GetNonce(ctx context.Context, address types.Address) (uint64, error) {
	current, err := n.state.GetNonce(address)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrStoreIO, err)
	}
	return current + 1, nil
}

// GetDatabase returns the database record, or nil if not found.
func (n *Node) GetDatabase(ctx context.Context, address types.Address) (*types.Database, error) {
	record, err := n.db.GetDatabase(address)
	if err != nil {
		if errors.Is(err, types.ErrDatabaseNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (n *Node) GetDatabaseOfOwner(ctx context.Context, owner types.Address) ([]types.Database, error) {
	return n.db.GetDatabasesOfOwner(owner)
}

func (n *Node) GetCollectionOfDatabase(ctx context.Context, dbAddr types.Address) ([]types.Collection, error) {
	return n.db.GetCollectionsOfDatabase(dbAddr)
}

func (n *Node) GetMutationHeader(ctx context.Context, block uint64, order uint32) (*types.MutationHeader, error) {
	return n.mutation.GetMutationHeader(block, order)
}

func (n *Node) GetMutationBody(ctx context.Context, id types.MutationID) (*types.MutationBody, error) {
	return n.mutation.GetMutationBody(id)
}

func (n *Node) ScanMutationHeader(ctx context.Context, start uint64, limit int) ([]types.MutationHeader, error) {
	return n.mutation.ScanMutationHeaders(start, limit)
}

func (n *Node) ScanRollupRecord(ctx context.Context, start uint64, limit int) ([]types.RollupRecord, error) {
	return n.mutation.ScanRollupRecords(start, limit)
}

func (n *Node) ScanGCRecord(ctx context.Context, start uint64, limit int) ([]types.GCRecord, error) {
	return n.mutation.ScanGCRecords(start, limit)
}

// GetBlock returns every mutation in [start, end). start == end
// returns empty (spec §8).
func (n *Node) GetBlock(ctx context.Context, start, end uint64) ([]types.MutationHeader, []types.MutationBody, error) {
	if start == end {
		return nil, nil, nil
	}
	return n.mutation.GetRangeMutations(start, end)
}

// Subscribe authenticates the caller via the same signed-envelope
// mechanism as a mutation and returns a channel of block events plus
// an unsubscribe func.
func (n *Node) Subscribe(ctx context.Context, req rpc.SubscribeRequest) (<-chan types.BlockEvent, func(), error) {
	signer, err := n.verifier.VerifySubscribe(req.Payload, req.Signature)
	if err != nil {
		return nil, nil, err
	}

	sub := n.hub.Subscribe(signer)
	cancel := func() { n.hub.Unsubscribe(signer, sub) }
	return sub, cancel, nil
}
