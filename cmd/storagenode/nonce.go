package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docvault/storagenode/pkg/client"
	"github.com/docvault/storagenode/pkg/types"
)

var nonceCmd = &cobra.Command{
	Use:   "nonce <address>",
	Short: "Print the next admissible nonce for an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		owner, err := types.AddressFromHex(args[0])
		if err != nil {
			return fmt.Errorf("invalid address: %v", err)
		}

		c := client.NewClient(addr)
		nonce, err := c.GetNonce(context.Background(), owner)
		if err != nil {
			return fmt.Errorf("get nonce: %v", err)
		}
		fmt.Println(nonce)
		return nil
	},
}
