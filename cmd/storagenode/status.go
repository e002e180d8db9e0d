package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docvault/storagenode/pkg/client"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the system status of a running node",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		c := client.NewClient(addr)

		status, err := c.GetSystemStatus(context.Background())
		if err != nil {
			return fmt.Errorf("get system status: %v", err)
		}

		fmt.Printf("Network ID:      %d\n", status.NetworkID)
		fmt.Printf("Open block:      %d\n", status.OpenBlock)
		fmt.Printf("Latest rollup:   %d\n", status.LatestRollup)
		fmt.Printf("Rollup interval: %ds\n", status.RollupInterval/int64(time.Second))
		fmt.Printf("Min rollup size: %d bytes\n", status.MinRollupSize)
		fmt.Printf("Active subs:     %d\n", status.ActiveSubs)
		return nil
	},
}
