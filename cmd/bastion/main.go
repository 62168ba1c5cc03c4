package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bastion",
	Short: "Bastion - game server control plane",
	Long: `Bastion is the control plane for a fleet of game-server hosts.

It tracks node daemons over persistent sockets, relays live server
consoles to browsers, places new servers on the best-fitting node,
and runs cron schedules against servers - all from a single binary.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Bastion version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(panelCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(suggestCmd)
}
