// Package commands defines the jobqueue command line interface.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	// Define root command
	rootCmd := &cobra.Command{
		Use:   "jobqueue",
		Short: "Distributed job queue with durable state and at-least-once delivery",
	}

	// Add subcommands
	rootCmd.AddCommand(
		NewServeCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
