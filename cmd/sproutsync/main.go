package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sproutsync",
	Short: "Offline mutation-sync engine for SproutLabs field devices",
	Long: `sproutsync keeps childcare records usable with or without a network.

Mutations are queued in a local SQLite database (.sproutsync/sync.db) and
delivered to the remote store whenever connectivity allows. The daemon
watches connectivity, drains the queue in priority order, resolves write
conflicts per policy, and keeps a bounded snapshot cache for offline reads.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("dir", "", "Data directory (default: $SPROUTSYNC_DIR or ~/.sproutsync)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "queue", Title: "Queue Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

// dataDir resolves the data directory from flag, environment, then home.
func dataDir(cmd *cobra.Command) (string, error) {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir, nil
	}
	if dir := os.Getenv("SPROUTSYNC_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".sproutsync"), nil
}

func dbPath(dir string) string {
	return filepath.Join(dir, "sync.db")
}

func configPath(dir string) string {
	return filepath.Join(dir, "policy.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
