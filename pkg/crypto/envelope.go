// Package crypto implements the structured-data signing envelope used
// by storage-node clients: a typed, human-legible wrapper around an
// opaque inner mutation, hashed and signed the way an Ethereum wallet
// signs EIP-712 typed data.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	gcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/docvault/storagenode/pkg/types"
)

// domain is fixed per spec §6: "the typed structured-data message has
// domain {name: 'db3.network'}, primary type Message, and fields
// payload: bytes, nonce: string".
var envelopeTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
	},
	"Message": {
		{Name: "payload", Type: "bytes"},
		{Name: "nonce", Type: "string"},
	},
}

const domainName = "db3.network"

// Envelope is the decoded client-signed wrapper: Payload is the inner
// mutation bytes (JSON, see types.EncodeMutation), Nonce is the claimed
// next nonce.
type Envelope struct {
	Payload []byte
	Nonce   uint64
}

// BuildTypedData constructs the EIP-712 typed-data document for an
// envelope, matching exactly what a wallet would have displayed and
// signed.
func BuildTypedData(payload []byte, nonce uint64) *apitypes.TypedData {
	return &apitypes.TypedData{
		Types:       envelopeTypes,
		PrimaryType: "Message",
		Domain: apitypes.TypedDataDomain{
			Name: domainName,
		},
		Message: apitypes.TypedDataMessage{
			"payload": payload,
			"nonce":   strconv.FormatUint(nonce, 10),
		},
	}
}

// HashEnvelope computes the EIP-712 digest for an envelope, the value
// that was actually signed by the client's wallet.
func HashEnvelope(td *apitypes.TypedData) ([]byte, error) {
	domainHash, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	msgHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	rawData := append([]byte{0x19, 0x01}, domainHash...)
	rawData = append(rawData, msgHash...)
	return gcrypto.Keccak256(rawData), nil
}

// RecoverSigner recovers the signer address from a 65-byte recoverable
// ECDSA signature over digest.
func RecoverSigner(digest, sig []byte) (types.Address, error) {
	if len(sig) != 65 {
		return types.Address{}, types.ErrInvalidSignature
	}
	// go-ethereum's Ecrecover expects a [0,1] recovery id in sig[64];
	// wallets commonly produce 27/28, normalize defensively.
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := gcrypto.SigToPub(digest, normalized)
	if err != nil {
		return types.Address{}, types.ErrInvalidSignature
	}
	return gcrypto.PubkeyToAddress(*pub), nil
}

// DecodeSignatureHex decodes a 0x-prefixed hex-encoded signature.
func DecodeSignatureHex(s string) ([]byte, error) {
	if len(s) >= 2 && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, types.ErrMalformedEnvelope
	}
	return b, nil
}

// DatabaseAddress computes db_addr = H(owner || nonce || network), the
// deterministic database address derived at creation time.
func DatabaseAddress(owner types.Address, nonce uint64, networkID uint64) types.Address {
	buf := make([]byte, 0, len(owner)+8+8)
	buf = append(buf, owner.Bytes()...)
	buf = append(buf, uint64ToBytes(nonce)...)
	buf = append(buf, uint64ToBytes(networkID)...)
	hash := gcrypto.Keccak256(buf)
	return common.BytesToAddress(hash[12:])
}

// MutationID computes id = hash(payload || signature).
func MutationID(payload, signature []byte) types.MutationID {
	buf := make([]byte, 0, len(payload)+len(signature))
	buf = append(buf, payload...)
	buf = append(buf, signature...)
	hash := gcrypto.Keccak256(buf)
	var id types.MutationID
	copy(id[:], hash)
	return id
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v & 0xff)
		v >>= 8
	}
	return b
}

// wireEnvelope mirrors the verifier's canonical JSON shape so callers
// outside pkg/verifier (the CLI, client tests) can build one.
type wireEnvelope struct {
	Payload string `json:"payload"`
	Nonce   string `json:"nonce"`
}

// SignEnvelope builds and signs the wire envelope for inner mutation
// bytes at nonce, returning the JSON payload and hex-encoded signature
// ready to send as a SendMutation or Setup request.
func SignEnvelope(priv *ecdsa.PrivateKey, inner []byte, nonce uint64) (payload []byte, signatureHex string, err error) {
	env := wireEnvelope{
		Payload: "0x" + hex.EncodeToString(inner),
		Nonce:   strconv.FormatUint(nonce, 10),
	}
	payload, err = json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("encode envelope: %w", err)
	}

	td := BuildTypedData(inner, nonce)
	digest, err := HashEnvelope(td)
	if err != nil {
		return nil, "", err
	}
	sig, err := gcrypto.Sign(digest, priv)
	if err != nil {
		return nil, "", fmt.Errorf("sign envelope: %w", err)
	}
	return payload, "0x" + hex.EncodeToString(sig), nil
}

// ParseNonce parses the decimal-string nonce field of an envelope.
func ParseNonce(s string) (uint64, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || !n.IsUint64() {
		return 0, types.ErrMalformedEnvelope
	}
	return n.Uint64(), nil
}
