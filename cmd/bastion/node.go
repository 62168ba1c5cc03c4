package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bastionhq/bastion/pkg/client"
	"github.com/bastionhq/bastion/pkg/types"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage fleet nodes",
}

var nodeListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List nodes and their connectivity",
	RunE:    runNodeList,
}

var nodeAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a new node",
	Long: `Register a new node with the panel.

The response includes the generated shared secret the node's daemon
authenticates with. It is shown exactly once.

Examples:
  bastion node add game-eu-1 --fqdn game-eu-1.example.com --memory 32768 --disk 512000`,
	Args: cobra.ExactArgs(1),
	RunE: runNodeAdd,
}

func init() {
	nodeCmd.PersistentFlags().String("panel", "http://localhost:8080", "Panel address")

	nodeAddCmd.Flags().String("fqdn", "", "Node FQDN the daemon is reachable at")
	nodeAddCmd.Flags().Int64("memory", 0, "Memory capacity in MB")
	nodeAddCmd.Flags().Int64("disk", 0, "Disk capacity in MB")
	nodeAddCmd.Flags().Int("memory-overallocate", 0, "Memory over-allocation percent (-1 disables the cap)")
	nodeAddCmd.Flags().Int("disk-overallocate", 0, "Disk over-allocation percent (-1 disables the cap)")
	nodeAddCmd.Flags().Int("allocations", 0, "Port allocation count")

	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeAddCmd)
}

func runNodeList(cmd *cobra.Command, args []string) error {
	panelAddr, _ := cmd.Flags().GetString("panel")
	c := client.NewClient(panelAddr)

	nodes, err := c.ListNodes(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list nodes: %v", err)
	}

	if len(nodes) == 0 {
		fmt.Println("No nodes registered")
		return nil
	}

	fmt.Printf("%-36s %-20s %-10s %-9s %-8s %-8s\n", "ID", "NAME", "STATUS", "CONNECTED", "MEM(MB)", "DISK(MB)")
	for _, n := range nodes {
		connected := "no"
		if n.Connected {
			connected = "yes"
		}
		fmt.Printf("%-36s %-20s %-10s %-9s %-8d %-8d\n",
			n.ID, n.Name, n.Status, connected, n.MemoryMB, n.DiskMB)
	}
	return nil
}

func runNodeAdd(cmd *cobra.Command, args []string) error {
	panelAddr, _ := cmd.Flags().GetString("panel")
	fqdn, _ := cmd.Flags().GetString("fqdn")
	memory, _ := cmd.Flags().GetInt64("memory")
	disk, _ := cmd.Flags().GetInt64("disk")
	memOver, _ := cmd.Flags().GetInt("memory-overallocate")
	diskOver, _ := cmd.Flags().GetInt("disk-overallocate")
	allocations, _ := cmd.Flags().GetInt("allocations")

	c := client.NewClient(panelAddr)
	created, err := c.CreateNode(cmd.Context(), &types.Node{
		Name:               args[0],
		FQDN:               fqdn,
		MemoryMB:           memory,
		DiskMB:             disk,
		MemoryOverallocate: memOver,
		DiskOverallocate:   diskOver,
		AllocationCount:    allocations,
	})
	if err != nil {
		return fmt.Errorf("failed to create node: %v", err)
	}

	fmt.Printf("✓ Node created: %s (ID: %s)\n", created.Name, created.ID)
	fmt.Printf("Daemon secret (shown once): %s\n", created.Secret)
	return nil
}
