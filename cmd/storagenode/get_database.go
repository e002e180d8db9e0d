package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docvault/storagenode/pkg/client"
	"github.com/docvault/storagenode/pkg/types"
)

var getDatabaseCmd = &cobra.Command{
	Use:   "get-database <address>",
	Short: "Print the database record at an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		dbAddr, err := types.AddressFromHex(args[0])
		if err != nil {
			return fmt.Errorf("invalid address: %v", err)
		}

		c := client.NewClient(addr)
		db, err := c.GetDatabase(context.Background(), dbAddr)
		if err != nil {
			return fmt.Errorf("get database: %v", err)
		}
		if db == nil {
			fmt.Println("not found")
			return nil
		}
		out, err := json.MarshalIndent(db, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}
