package node

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	dvcrypto "github.com/docvault/storagenode/pkg/crypto"
	"github.com/docvault/storagenode/pkg/rpc"
	"github.com/docvault/storagenode/pkg/types"
)

type wireEnvelope struct {
	Payload string `json:"payload"`
	Nonce   string `json:"nonce"`
}

type testKey struct {
	priv    *ecdsa.PrivateKey
	address types.Address
}

func generateKey(t *testing.T) *testKey {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &testKey{priv: priv, address: crypto.PubkeyToAddress(priv.PublicKey)}
}

func signMutation(t *testing.T, key *testKey, mutation types.Mutation, nonce uint64) (payload []byte, signatureHex string) {
	t.Helper()

	inner, err := types.EncodeMutation(&mutation)
	require.NoError(t, err)

	env := wireEnvelope{
		Payload: "0x" + hex.EncodeToString(inner),
		Nonce:   strconv.FormatUint(nonce, 10),
	}
	payload, err = json.Marshal(env)
	require.NoError(t, err)

	td := dvcrypto.BuildTypedData(inner, nonce)
	digest, err := dvcrypto.HashEnvelope(td)
	require.NoError(t, err)

	sig, err := crypto.Sign(digest, key.priv)
	require.NoError(t, err)

	return payload, "0x" + hex.EncodeToString(sig)
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	dir := t.TempDir()
	n, err := New(context.Background(), Config{
		DataDir:       dir,
		NetworkID:     1,
		BlockInterval: time.Hour,
		DefaultSystemConfig: types.SystemConfig{
			RollupInterval: time.Hour,
			MinRollupSize:  1 << 20,
			NetworkID:      1,
		},
	}, nil)
	require.NoError(t, err)
	n.Start()
	t.Cleanup(func() { _ = n.Stop() })
	return n
}

func TestSendMutationCreateDatabaseEndToEnd(t *testing.T) {
	n := newTestNode(t)
	key := generateKey(t)

	payload, sig := signMutation(t, key, types.Mutation{Action: types.ActionCreateDocumentDb, Description: "x"}, 1)

	resp, err := n.SendMutation(context.Background(), rpc.SendMutationRequest{Payload: payload, Signature: sig})
	require.NoError(t, err)
	require.Equal(t, rpc.CodeOK, resp.Code)
	require.Len(t, resp.Extra, 1)
	require.Equal(t, "database_address", resp.Extra[0].Key)

	dbs, err := n.GetDatabaseOfOwner(context.Background(), key.address)
	require.NoError(t, err)
	require.Len(t, dbs, 1)
	require.Equal(t, "x", dbs[0].Description)
}

func TestSendMutationBadNonceReturnsCode1(t *testing.T) {
	n := newTestNode(t)
	key := generateKey(t)

	payload, sig := signMutation(t, key, types.Mutation{Action: types.ActionCreateDocumentDb}, 2)
	resp, err := n.SendMutation(context.Background(), rpc.SendMutationRequest{Payload: payload, Signature: sig})
	require.NoError(t, err)
	require.Equal(t, rpc.CodeBadNonce, resp.Code)
}

func TestFullCollectionAndDocumentFlow(t *testing.T) {
	n := newTestNode(t)
	key := generateKey(t)

	payload, sig := signMutation(t, key, types.Mutation{Action: types.ActionCreateDocumentDb, Description: "docs"}, 1)
	resp, err := n.SendMutation(context.Background(), rpc.SendMutationRequest{Payload: payload, Signature: sig})
	require.NoError(t, err)
	dbAddrHex := resp.Extra[0].Value
	dbAddr, err := types.AddressFromHex(dbAddrHex)
	require.NoError(t, err)

	payload, sig = signMutation(t, key, types.Mutation{
		Action:          types.ActionAddCollection,
		DatabaseAddress: dbAddr,
		CollectionName:  "c1",
	}, 2)
	resp, err = n.SendMutation(context.Background(), rpc.SendMutationRequest{Payload: payload, Signature: sig})
	require.NoError(t, err)
	require.Equal(t, rpc.CodeOK, resp.Code)

	payload, sig = signMutation(t, key, types.Mutation{
		Action:          types.ActionAddDocument,
		DatabaseAddress: dbAddr,
		CollectionName:  "c1",
		Documents:       [][]byte{[]byte(`{"name":"John"}`), []byte(`{"name":"Mike"}`), []byte(`{"name":"Bill"}`)},
	}, 3)
	resp, err = n.SendMutation(context.Background(), rpc.SendMutationRequest{Payload: payload, Signature: sig})
	require.NoError(t, err)
	require.Len(t, resp.Extra, 3)
	require.Equal(t, "1", resp.Extra[0].Value)
	require.Equal(t, "2", resp.Extra[1].Value)
	require.Equal(t, "3", resp.Extra[2].Value)

	colls, err := n.GetCollectionOfDatabase(context.Background(), dbAddr)
	require.NoError(t, err)
	require.Len(t, colls, 1)
}

func TestGetBlockEmptyWhenStartEqualsEnd(t *testing.T) {
	n := newTestNode(t)
	headers, bodies, err := n.GetBlock(context.Background(), 5, 5)
	require.NoError(t, err)
	require.Nil(t, headers)
	require.Nil(t, bodies)
}

func TestGetNonceReflectsNextAdmissible(t *testing.T) {
	n := newTestNode(t)
	key := generateKey(t)

	nonce, err := n.GetNonce(context.Background(), key.address)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)

	payload, sig := signMutation(t, key, types.Mutation{Action: types.ActionCreateDocumentDb}, 1)
	_, err = n.SendMutation(context.Background(), rpc.SendMutationRequest{Payload: payload, Signature: sig})
	require.NoError(t, err)

	nonce, err = n.GetNonce(context.Background(), key.address)
	require.NoError(t, err)
	require.Equal(t, uint64(2), nonce)
}
