// Package types holds the data model shared by every storage-node
// component: addresses, databases, collections, mutation headers and
// bodies, and the rollup/gc bookkeeping records.
package types

import (
	"encoding/hex"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a 20-byte secp256k1-derived account identifier.
type Address = common.Address

// AddressFromHex parses a hex-encoded (0x-prefixed or not) address.
func AddressFromHex(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, ErrMalformedEnvelope
	}
	return common.HexToAddress(s), nil
}

// DatabaseVariant distinguishes document databases from event databases.
type DatabaseVariant int

const (
	DatabaseVariantDocument DatabaseVariant = iota
	DatabaseVariantEvent
)

// Database is the persisted record for a document or event database.
type Database struct {
	Address     Address         `json:"address"`
	Owner       Address         `json:"owner"`
	Variant     DatabaseVariant `json:"variant"`
	Nonce       uint64          `json:"nonce"`
	NetworkID   uint64          `json:"network_id"`
	Description string          `json:"description"`

	// Event-database fields; zero for document databases.
	ContractAddress string        `json:"contract_address,omitempty"`
	EventABI        string        `json:"event_abi,omitempty"`
	NodeURL         string        `json:"node_url,omitempty"`
	TTL             time.Duration `json:"ttl,omitempty"`
	Tables          []string      `json:"tables,omitempty"`

	CreatedBlock uint64 `json:"created_block"`
	CreatedOrder uint32 `json:"created_order"`
}

// IndexField describes one field of a collection's index.
type IndexField struct {
	Name       string `json:"name"`
	Descending bool   `json:"descending"`
}

// Collection is a child of a database, keyed by (database, name).
type Collection struct {
	DatabaseAddress Address      `json:"database_address"`
	Name            string       `json:"name"`
	Creator         Address      `json:"creator"`
	Index           []IndexField `json:"index"`

	CreatedBlock uint64 `json:"created_block"`
	CreatedOrder uint32 `json:"created_order"`
	CreatedIdx   uint32 `json:"created_idx"`
}

// ActionCode identifies the logical effect of a mutation.
type ActionCode int32

const (
	ActionCreateDocumentDb ActionCode = 0
	ActionAddCollection    ActionCode = 1
	ActionAddDocument      ActionCode = 2
	ActionDeleteDocument   ActionCode = 3
	ActionUpdateDocument   ActionCode = 4
	ActionCreateEventDb    ActionCode = 5
)

// MutationID uniquely identifies a signed mutation: hash(payload||sig).
type MutationID [32]byte

func (id MutationID) Hex() string { return "0x" + hex.EncodeToString(id[:]) }

func (id MutationID) Bytes() []byte { return id[:] }

// MutationIDFromHex parses a 0x-prefixed 32-byte hex id.
func MutationIDFromHex(s string) (MutationID, error) {
	var id MutationID
	s = trimHexPrefix(s)
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, ErrMalformedEnvelope
	}
	copy(id[:], b)
	return id, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// MutationHeader is the durable, indexed record of a committed mutation.
type MutationHeader struct {
	Block  uint64     `json:"block"`
	Order  uint32     `json:"order"`
	ID     MutationID `json:"id"`
	Action ActionCode `json:"action"`
	Nonce  uint64     `json:"nonce"`
	Signer Address    `json:"signer"`
	Size   uint64     `json:"size"`
	Time   time.Time  `json:"time"`
}

// MutationBody is the opaque signed payload, stored once per id.
type MutationBody struct {
	Payload   []byte `json:"payload"`
	Signature []byte `json:"signature"`
}

// RollupRecord documents one contiguous, non-overlapping rollup of
// mutation bodies to the external content-addressed archive.
type RollupRecord struct {
	StartBlock      uint64    `json:"start_block"`
	EndBlock        uint64    `json:"end_block"`
	RawSize         uint64    `json:"raw_size"`
	CompressedSize  uint64    `json:"compressed_size"`
	ArchiveTx       string    `json:"archive_tx"`
	Cost            uint64    `json:"cost"`
	Time            time.Time `json:"time"`
}

// GCRecord documents the pruning of rolled-up bodies for a block range.
type GCRecord struct {
	StartBlock uint64    `json:"start_block"`
	EndBlock   uint64    `json:"end_block"`
	Time       time.Time `json:"time"`
}

// BlockEvent is emitted by the block producer whenever a block closes.
type BlockEvent struct {
	BlockID       uint64 `json:"block_id"`
	MutationCount uint64 `json:"mutation_count"`
}

// ExtraItem is an auxiliary (key, value) pair returned with a
// successful mutation response.
type ExtraItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SystemConfig holds the node's live-reconfigurable parameters.
type SystemConfig struct {
	RollupInterval time.Duration `json:"rollup_interval"`
	MinRollupSize  uint64        `json:"min_rollup_size"`
	NetworkID      uint64        `json:"network_id"`
	ArchiveURL     string        `json:"archive_url"`
	NodeURL        string        `json:"node_url"`
}
