package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calderon/ventasync/internal/api"
	"github.com/calderon/ventasync/internal/store"
)

var (
	version string
	dbPath  string
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "ventasync",
	Short: "Offline-first sync server for sales point devices",
	Long: `ventasync - delta synchronization server for offline-first sales clients.

Devices record local changes in an append-only change log and exchange
deltas with this server: push uploads local changes, pull downloads what
other devices did since the last checkpoint. Concurrent edits to the same
record surface as conflicts that an operator resolves once, terminally.`,
}

// Execute runs the root command
func Execute() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the server database (default: from VENTASYNC_DB_PATH or ./data/ventasync.db)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server Commands:"},
		&cobra.Group{ID: "admin", Title: "Admin Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("server")
	rootCmd.SetCompletionCommandGroupID("server")
}

// openStore opens the server database honoring the --db flag and env config.
func openStore() (*store.Store, error) {
	path := dbPath
	if path == "" {
		cfg := api.LoadConfig()
		path = cfg.DBPath
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}
