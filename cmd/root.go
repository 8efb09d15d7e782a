// Package cmd defines the CLI commands for the partscope executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partscope",
		Short: "Progress tracking for part-identification analyses",
		Long: `partscope submits part-identification analyses to the PartLab backend
and tracks their multi-stage progress in real time. Run "serve" to expose
the HTTP API, or "track" to follow a single analysis from the terminal.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTrackCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "partscope: %v\n", err)
		os.Exit(1)
	}
}
