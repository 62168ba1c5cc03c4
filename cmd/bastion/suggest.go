package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bastionhq/bastion/pkg/client"
	"github.com/bastionhq/bastion/pkg/types"
)

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Ask the panel where a server would be placed",
	Long: `Runs a placement query without creating anything.

Examples:
  bastion suggest --memory 4096 --disk 20480`,
	RunE: runSuggest,
}

func init() {
	suggestCmd.Flags().String("panel", "http://localhost:8080", "Panel address")
	suggestCmd.Flags().Int64("memory", 0, "Requested memory in MB")
	suggestCmd.Flags().Int64("disk", 0, "Requested disk in MB")
	_ = suggestCmd.MarkFlagRequired("memory")
	_ = suggestCmd.MarkFlagRequired("disk")
}

func runSuggest(cmd *cobra.Command, args []string) error {
	panelAddr, _ := cmd.Flags().GetString("panel")
	memory, _ := cmd.Flags().GetInt64("memory")
	disk, _ := cmd.Flags().GetInt64("disk")

	c := client.NewClient(panelAddr)
	result, err := c.Suggest(cmd.Context(), types.ResourceRequest{
		MemoryMB: memory,
		DiskMB:   disk,
	})
	if err != nil {
		return fmt.Errorf("placement query failed: %v", err)
	}

	fmt.Printf("✓ Best: %s (score %.4f, %0.0f MB memory / %0.0f MB disk free)\n",
		result.Best.Node.Name, result.Best.Score,
		result.Best.AvailableMemoryMB, result.Best.AvailableDiskMB)
	for _, alt := range result.Alternatives {
		fmt.Printf("  Alternative: %s (score %.4f)\n", alt.Node.Name, alt.Score)
	}
	return nil
}
