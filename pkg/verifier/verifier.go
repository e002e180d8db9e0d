// Package verifier implements C1: decoding a client's signed envelope,
// recovering the signer address, and extracting the inner mutation and
// its claimed nonce.
package verifier

import (
	"encoding/hex"
	"encoding/json"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	dvcrypto "github.com/docvault/storagenode/pkg/crypto"
	"github.com/docvault/storagenode/pkg/types"
)

// wireEnvelope is the canonical JSON shape clients sign: payload is
// hex-prefixed inner mutation bytes, nonce is a decimal string.
type wireEnvelope struct {
	Payload string `json:"payload"`
	Nonce   string `json:"nonce"`
}

// Verifier recovers signers from signed envelopes.
type Verifier struct{}

// New returns a Verifier. It is stateless; a value type would do, but
// a constructor keeps call sites uniform with the rest of the core.
func New() *Verifier { return &Verifier{} }

// VerifyMutation decodes payloadBytes as a wireEnvelope, recovers the
// signer from signatureHex, decodes the inner mutation, and returns
// (mutation, signer, nonce).
func (v *Verifier) VerifyMutation(payloadBytes []byte, signatureHex string) (*types.Mutation, types.Address, uint64, error) {
	env, innerBytes, nonce, signer, err := v.recover(payloadBytes, signatureHex)
	_ = env
	if err != nil {
		return nil, types.Address{}, 0, err
	}
	mutation, err := types.DecodeMutation(innerBytes)
	if err != nil {
		return nil, types.Address{}, 0, err
	}
	return mutation, signer, nonce, nil
}

// VerifySetup decodes and recovers the signer of a privileged
// configuration envelope without requiring an inner mutation.
func (v *Verifier) VerifySetup(payloadBytes []byte, signatureHex string) (types.Address, *apitypes.TypedData, error) {
	_, _, _, signer, err := v.recover(payloadBytes, signatureHex)
	if err != nil {
		return types.Address{}, nil, err
	}
	var we wireEnvelope
	if err := json.Unmarshal(payloadBytes, &we); err != nil {
		return types.Address{}, nil, types.ErrMalformedEnvelope
	}
	innerBytes, err := decodeHexPayload(we.Payload)
	if err != nil {
		return types.Address{}, nil, err
	}
	nonce, err := dvcrypto.ParseNonce(we.Nonce)
	if err != nil {
		return types.Address{}, nil, err
	}
	td := dvcrypto.BuildTypedData(innerBytes, nonce)
	return signer, td, nil
}

// VerifySubscribe recovers only the signer of an envelope, without
// requiring the inner payload to decode as a mutation. Used by the
// subscribe RPC, whose envelope authenticates the caller but carries
// no mutation.
func (v *Verifier) VerifySubscribe(payloadBytes []byte, signatureHex string) (types.Address, error) {
	_, _, _, signer, err := v.recover(payloadBytes, signatureHex)
	return signer, err
}

func (v *Verifier) recover(payloadBytes []byte, signatureHex string) (wireEnvelope, []byte, uint64, types.Address, error) {
	var we wireEnvelope
	if err := json.Unmarshal(payloadBytes, &we); err != nil {
		return we, nil, 0, types.Address{}, types.ErrMalformedEnvelope
	}
	if we.Payload == "" || we.Nonce == "" {
		return we, nil, 0, types.Address{}, types.ErrMalformedEnvelope
	}

	innerBytes, err := decodeHexPayload(we.Payload)
	if err != nil {
		return we, nil, 0, types.Address{}, err
	}
	nonce, err := dvcrypto.ParseNonce(we.Nonce)
	if err != nil {
		return we, nil, 0, types.Address{}, err
	}

	sig, err := dvcrypto.DecodeSignatureHex(signatureHex)
	if err != nil {
		return we, nil, 0, types.Address{}, err
	}

	td := dvcrypto.BuildTypedData(innerBytes, nonce)
	digest, err := dvcrypto.HashEnvelope(td)
	if err != nil {
		return we, nil, 0, types.Address{}, types.ErrInvalidEnvelope
	}
	signer, err := dvcrypto.RecoverSigner(digest, sig)
	if err != nil {
		return we, nil, 0, types.Address{}, types.ErrInvalidSignature
	}

	return we, innerBytes, nonce, signer, nil
}

func decodeHexPayload(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, types.ErrMalformedEnvelope
	}
	return b, nil
}
