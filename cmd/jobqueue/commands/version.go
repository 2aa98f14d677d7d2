package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyberkid042/distributed-job-queue/version"
)

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.GetVersionInfo()
			fmt.Println("Version:", info.Version)
			fmt.Println("Revision:", info.Revision)
			fmt.Println("Built At:", info.BuiltAt)
		},
	}
}
