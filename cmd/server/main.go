// Command homegraph-server hosts the authoritative Graph Store: it accepts
// Inbetweenies sync exchanges from replicas and exposes the MCP tool layer
// to clients holding a verified session.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes (§6).
const (
	exitOK            = 0
	exitConfigError   = 2
	exitStorageFatal  = 3
)

var (
	cfgFile string
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "homegraph-server",
	Short: "Host the homegraph Graph Store and sync service",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.yaml")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
}
