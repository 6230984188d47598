// Package main implements the camctl CLI for operator tasks against the
// camlearnd feedback database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/camlearnd/internal/storage"
)

var (
	// dbPath overrides the default database location
	dbPath string
	// version information
	version = "dev"
)

// dbTimeout bounds every database operation a subcommand runs.
const dbTimeout = 30 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "camctl",
	Short: "CLI for the camlearnd feedback database",
	Long: `camctl is a command-line interface for inspecting and managing the
camlearnd learning state. It reads acceptance statistics, exports feedback
history, clears recorded decisions, and manages stock preferences by
operating directly on the database.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default ~/.camlearnd/camlearnd.db)")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(prefsCmd)
}

// contextWithTimeout derives the bounded context a subcommand runs
// under. Commands invoked outside Execute have no context yet.
func contextWithTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, dbTimeout)
}

// openDB opens the feedback database at the configured path. The caller
// closes it.
func openDB(ctx context.Context) (*storage.DB, error) {
	db, err := storage.Open(ctx, storage.Options{Path: dbPath})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
