package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/docvault/storagenode/pkg/client"
	dvcrypto "github.com/docvault/storagenode/pkg/crypto"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Stream block-closed events from the node",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		keyHex, _ := cmd.Flags().GetString("key")
		nonce, _ := cmd.Flags().GetUint64("nonce")

		priv, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return fmt.Errorf("parse key: %v", err)
		}
		payload, sigHex, err := dvcrypto.SignEnvelope(priv, []byte{}, nonce)
		if err != nil {
			return fmt.Errorf("sign subscribe envelope: %v", err)
		}

		c := client.NewClient(addr)
		events, err := c.Subscribe(context.Background(), payload, sigHex)
		if err != nil {
			return fmt.Errorf("subscribe: %v", err)
		}

		for event := range events {
			fmt.Printf("block=%d mutations=%d\n", event.BlockID, event.MutationCount)
		}
		return nil
	},
}

func init() {
	subscribeCmd.Flags().String("key", "", "Hex-encoded secp256k1 private key (required)")
	subscribeCmd.Flags().Uint64("nonce", 0, "Nonce to sign the subscribe envelope with")
	_ = subscribeCmd.MarkFlagRequired("key")
}
