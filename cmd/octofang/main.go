// Package main provides the entry point for the octofang CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/octofang/cmd/octofang/commands"
	"github.com/Sumatoshi-tech/octofang/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "octofang",
		Short: "Octofang - GitHub activity anomaly detection",
		Long: `Octofang scores GitHub event streams for anomalous activity.

Commands:
  consume   Run the stream consumer against the shared Redis ingest list
  queue     Inspect and maintain the severity-ranked anomaly queue`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewConsumeCommand())
	rootCmd.AddCommand(commands.NewQueueCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "octofang %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
