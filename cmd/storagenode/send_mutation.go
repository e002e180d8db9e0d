package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/docvault/storagenode/pkg/client"
	dvcrypto "github.com/docvault/storagenode/pkg/crypto"
	"github.com/docvault/storagenode/pkg/types"
)

var sendMutationCmd = &cobra.Command{
	Use:   "send-mutation",
	Short: "Sign and send a mutation to the node",
	Long: `send-mutation builds a mutation from the given flags, signs it with
the supplied private key, and submits it to the node's send_mutation
RPC. It is meant for scripting and manual testing, not as the primary
client integration path.`,
	RunE: runSendMutation,
}

func init() {
	sendMutationCmd.Flags().String("key", "", "Hex-encoded secp256k1 private key (required)")
	sendMutationCmd.Flags().String("action", "create_document_db", "Mutation action: create_document_db, create_event_db, add_collection, add_document, update_document, delete_document")
	sendMutationCmd.Flags().Uint64("nonce", 0, "Nonce to sign with (required)")
	sendMutationCmd.Flags().String("database", "", "Target database address (for add_collection/document actions)")
	sendMutationCmd.Flags().String("collection", "", "Collection name")
	sendMutationCmd.Flags().StringSlice("document", nil, "Document body, repeatable (for add_document)")
	sendMutationCmd.Flags().Int64Slice("document-id", nil, "Document id, repeatable (for update/delete)")
	sendMutationCmd.Flags().String("description", "", "Description (for create_document_db)")
	_ = sendMutationCmd.MarkFlagRequired("key")
	_ = sendMutationCmd.MarkFlagRequired("nonce")
}

func runSendMutation(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	keyHex, _ := cmd.Flags().GetString("key")
	action, _ := cmd.Flags().GetString("action")
	nonce, _ := cmd.Flags().GetUint64("nonce")
	dbAddrStr, _ := cmd.Flags().GetString("database")
	collection, _ := cmd.Flags().GetString("collection")
	docs, _ := cmd.Flags().GetStringSlice("document")
	docIDs, _ := cmd.Flags().GetInt64Slice("document-id")
	description, _ := cmd.Flags().GetString("description")

	priv, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return fmt.Errorf("parse key: %v", err)
	}

	mutation, err := buildMutation(action, dbAddrStr, collection, description, docs, docIDs)
	if err != nil {
		return err
	}

	payload, sigHex, err := signMutation(priv, mutation, nonce)
	if err != nil {
		return fmt.Errorf("sign mutation: %v", err)
	}

	c := client.NewClient(addr)
	resp, err := c.SendMutation(context.Background(), payload, sigHex)
	if err != nil {
		return fmt.Errorf("send mutation: %v", err)
	}

	fmt.Printf("id:    %s\n", resp.ID.Hex())
	fmt.Printf("code:  %d (%s)\n", resp.Code, resp.Msg)
	fmt.Printf("block: %d\n", resp.Block)
	fmt.Printf("order: %d\n", resp.Order)
	for _, item := range resp.Extra {
		fmt.Printf("  %s = %s\n", item.Key, item.Value)
	}
	return nil
}

func buildMutation(action, dbAddrStr, collection, description string, docs []string, docIDs []int64) (types.Mutation, error) {
	var m types.Mutation
	switch action {
	case "create_document_db":
		m.Action = types.ActionCreateDocumentDb
		m.Description = description
	case "create_event_db":
		m.Action = types.ActionCreateEventDb
		m.Description = description
	case "add_collection":
		m.Action = types.ActionAddCollection
		m.CollectionName = collection
	case "add_document":
		m.Action = types.ActionAddDocument
		m.CollectionName = collection
		for _, d := range docs {
			m.Documents = append(m.Documents, []byte(d))
		}
	case "update_document":
		m.Action = types.ActionUpdateDocument
		m.CollectionName = collection
		m.DocumentIDs = docIDs
		for _, d := range docs {
			m.Documents = append(m.Documents, []byte(d))
		}
	case "delete_document":
		m.Action = types.ActionDeleteDocument
		m.CollectionName = collection
		m.DocumentIDs = docIDs
	default:
		return m, fmt.Errorf("unknown action %q", action)
	}

	if dbAddrStr != "" {
		dbAddr, err := types.AddressFromHex(dbAddrStr)
		if err != nil {
			return m, fmt.Errorf("invalid database address: %v", err)
		}
		m.DatabaseAddress = dbAddr
	}
	return m, nil
}

func signMutation(priv *ecdsa.PrivateKey, mutation types.Mutation, nonce uint64) (payload []byte, signatureHex string, err error) {
	inner, err := types.EncodeMutation(&mutation)
	if err != nil {
		return nil, "", fmt.Errorf("encode mutation: %v", err)
	}
	return dvcrypto.SignEnvelope(priv, inner, nonce)
}
