package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sproutlabs/sproutsync/internal/op"
	"github.com/sproutlabs/sproutsync/internal/store"
	"github.com/sproutlabs/sproutsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "queue",
	Short:   "Show queue and cache status",
	Long: `Display the current state of the local sync database.

Shows:
  - Database location and size
  - Pending and failed operation counts
  - Cached snapshot bytes
  - When the last sync pass finished`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := dataDir(cmd)
		if err != nil {
			return err
		}
		path := dbPath(dir)

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Sync database not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'sproutsync enqueue' or 'sproutsync daemon' to create it\n\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check database: %w", err)
		}

		db, err := store.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		pending, err := db.PendingCount()
		if err != nil {
			return fmt.Errorf("failed to count pending operations: %w", err)
		}
		failed, err := db.ListFailed()
		if err != nil {
			return fmt.Errorf("failed to list failed operations: %w", err)
		}
		cacheBytes, err := db.CacheUsage()
		if err != nil {
			return fmt.Errorf("failed to read cache usage: %w", err)
		}
		lastSync, err := db.LastSyncedAt()
		if err != nil {
			return fmt.Errorf("failed to read last sync time: %w", err)
		}

		lastSyncStr := "never"
		if !lastSync.IsZero() {
			lastSyncStr = fmt.Sprintf("%s (%v ago)",
				lastSync.Format("2006-01-02 15:04:05"),
				time.Since(lastSync).Round(time.Second))
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("%s %s\n", ui.RenderLabel("Database:"), path)
		fmt.Printf("%s %s\n", ui.RenderLabel("Size:"), formatBytes(info.Size()))
		fmt.Printf("%s %d\n", ui.RenderLabel("Pending:"), pending)
		fmt.Printf("%s %d\n", ui.RenderLabel("Failed:"), len(failed))
		fmt.Printf("%s %s\n", ui.RenderLabel("Cache:"), formatBytes(cacheBytes))
		fmt.Printf("%s %s\n", ui.RenderLabel("Last sync:"), lastSyncStr)
		fmt.Println()

		// Transport failures inside their retry budget resolve on their
		// own; only deferred conflicts and exhausted records need a person.
		attention := 0
		for _, rec := range failed {
			if rec.ErrorKind != op.ErrKindTransport {
				attention++
			}
		}
		if attention > 0 {
			fmt.Printf("%s %d operations need attention; see 'sproutsync failed'\n\n",
				ui.RenderWarn("⚠"), attention)
		}
		return nil
	},
}

func formatBytes(n int64) string {
	switch {
	case n > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	case n > 1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
