package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bastionhq/bastion/pkg/client"
	"github.com/bastionhq/bastion/pkg/types"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage game servers",
}

var serverListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List game servers",
	RunE:    runServerList,
}

var serverPowerCmd = &cobra.Command{
	Use:   "power <server-id> <start|stop|restart|kill>",
	Short: "Send a power action to a server",
	Args:  cobra.ExactArgs(2),
	RunE:  runServerPower,
}

func init() {
	serverCmd.PersistentFlags().String("panel", "http://localhost:8080", "Panel address")

	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverPowerCmd)
}

func runServerList(cmd *cobra.Command, args []string) error {
	panelAddr, _ := cmd.Flags().GetString("panel")
	c := client.NewClient(panelAddr)

	servers, err := c.ListServers(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list servers: %v", err)
	}

	if len(servers) == 0 {
		fmt.Println("No servers")
		return nil
	}

	fmt.Printf("%-36s %-20s %-10s %-36s %-8s\n", "ID", "NAME", "STATUS", "NODE", "MEM(MB)")
	for _, s := range servers {
		fmt.Printf("%-36s %-20s %-10s %-36s %-8d\n",
			s.ID, s.Name, s.Status, s.NodeID, s.MemoryMB)
	}
	return nil
}

func runServerPower(cmd *cobra.Command, args []string) error {
	panelAddr, _ := cmd.Flags().GetString("panel")
	c := client.NewClient(panelAddr)

	action := types.PowerAction(args[1])
	if !types.ValidPowerAction(action) {
		return fmt.Errorf("invalid power action: %s", args[1])
	}

	if err := c.Power(cmd.Context(), args[0], action); err != nil {
		return fmt.Errorf("power action failed: %v", err)
	}

	fmt.Printf("✓ Power action sent: %s %s\n", args[1], args[0])
	return nil
}
