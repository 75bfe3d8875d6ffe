// Command homegraph exercises the Sync Engine from a local replica: it
// keeps its own Graph Store, stages local changes, and runs Inbetweenies
// exchanges against a homegraph-server.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/steveyegge/homegraph/internal/graphindex"
	"github.com/steveyegge/homegraph/internal/idgen"
	"github.com/steveyegge/homegraph/internal/storage/sqlite"
)

var (
	dbPath     string
	serverURL  string
	token      string
	deviceID   string
	userID     string

	store  *sqlite.Store
	index  *graphindex.Index
	clock  *idgen.VersionClock
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"})
)

var rootCmd = &cobra.Command{
	Use:   "homegraph",
	Short: "Local replica CLI for the homegraph knowledge graph",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd == loginCmd {
			return nil
		}
		var err error
		store, err = sqlite.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open local store: %w", err)
		}
		index = graphindex.New(store)
		if err := index.Rebuild(cmd.Context()); err != nil {
			return fmt.Errorf("build index: %w", err)
		}
		clock = idgen.NewVersionClock(deviceID)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		if store != nil {
			_ = store.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "homegraph-local.db", "local replica database path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8443", "homegraph-server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token from login")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device-id", "local-device", "this replica's writer id")
	rootCmd.PersistentFlags().StringVar(&userID, "user-id", "local-user", "acting user id")

	rootCmd.AddCommand(loginCmd, syncCmd, searchCmd, getCmd, createCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render(err.Error()))
		os.Exit(1)
	}
}
