package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sproutlabs/sproutsync/internal/op"
	"github.com/sproutlabs/sproutsync/internal/store"
	"github.com/sproutlabs/sproutsync/internal/ui"
)

var failedAll bool

var failedCmd = &cobra.Command{
	Use:     "failed",
	GroupID: "queue",
	Short:   "List operations needing attention",
	Long: `List conflicts deferred for manual review and operations that exhausted
their retry budget.

Transport failures still being retried automatically are hidden; pass
--all to include them. Use 'sproutsync retry <id>' to requeue one
immediately, bypassing its backoff cooldown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := dataDir(cmd)
		if err != nil {
			return err
		}

		db, err := store.Open(dbPath(dir))
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		all, err := db.ListFailed()
		if err != nil {
			return fmt.Errorf("failed to list failed operations: %w", err)
		}

		var failed []op.Record
		for _, rec := range all {
			if !failedAll && rec.ErrorKind == op.ErrKindTransport {
				continue
			}
			failed = append(failed, rec)
		}

		if len(failed) == 0 {
			fmt.Printf("%s No failed operations\n", ui.RenderPass("✓"))
			return nil
		}

		fmt.Printf("\n%s %d operations need attention\n\n", ui.RenderWarn("⚠"), len(failed))
		for _, rec := range failed {
			fmt.Printf("%s %s %s %s/%s\n",
				ui.RenderFail(kindLabel(rec.ErrorKind)),
				ui.RenderMuted(rec.ID),
				rec.Type, rec.ModelName, rec.RecordID)
			fmt.Printf("   Attempts: %d", rec.Attempts)
			if !rec.LastAttemptAt.IsZero() {
				fmt.Printf("   Last: %s", rec.LastAttemptAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Println()
			if rec.LastError != "" {
				fmt.Printf("   %s\n", ui.RenderMuted(rec.LastError))
			}
		}
		fmt.Println()
		return nil
	},
}

func kindLabel(kind op.ErrorKind) string {
	switch kind {
	case op.ErrKindConflict:
		return "[conflict] "
	case op.ErrKindExhausted:
		return "[exhausted]"
	case op.ErrKindTransport:
		return "[transport]"
	default:
		return "[failed]   "
	}
}

func init() {
	failedCmd.Flags().BoolVar(&failedAll, "all", false,
		"include transport failures still being retried automatically")
	rootCmd.AddCommand(failedCmd)
}
