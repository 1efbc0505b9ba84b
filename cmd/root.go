// Package cmd implements the clawlink command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clawlink",
	Short: "Client session layer for a remote command server",
	Long: `clawlink keeps a persistent websocket session to a command server, executes
the functions the server asks for, and queues calls while offline so they
replay on the next connection.

Run 'clawlink onboard' to create a config, then 'clawlink serve'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
