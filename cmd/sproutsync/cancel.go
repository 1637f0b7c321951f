package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sproutlabs/sproutsync/internal/op"
	"github.com/sproutlabs/sproutsync/internal/store"
	"github.com/sproutlabs/sproutsync/internal/ui"
)

var cancelCmd = &cobra.Command{
	Use:     "cancel <id>",
	GroupID: "queue",
	Short:   "Remove a pending operation from the queue",
	Long: `Remove a pending operation before it is delivered.

Only pending operations can be cancelled. An in-flight delivery may
already have taken effect remotely, and failed operations are resolved
through 'sproutsync retry' or left for review.`,
	Args: cobra.ExactArgs(1),
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

		switch err := db.CancelOp(args[0]); {
		case errors.Is(err, op.ErrNotFound):
			return fmt.Errorf("operation %s not found", args[0])
		case errors.Is(err, op.ErrNotPending):
			return fmt.Errorf("operation %s is no longer pending and cannot be cancelled", args[0])
		case err != nil:
			return fmt.Errorf("failed to cancel: %w", err)
		}

		fmt.Printf("%s Cancelled %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:     "retry <id>",
	GroupID: "queue",
	Short:   "Requeue a failed operation immediately",
	Long: `Move a failed operation back to pending, bypassing its backoff cooldown.

This is the manual-resolution path for deferred conflicts and operations
that exhausted their retry budget. The next sync pass picks the operation
up in normal priority order.`,
	Args: cobra.ExactArgs(1),
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

		switch err := db.RequeueOp(args[0]); {
		case errors.Is(err, op.ErrNotFound):
			return fmt.Errorf("no failed operation %s", args[0])
		case err != nil:
			return fmt.Errorf("failed to requeue: %w", err)
		}

		fmt.Printf("%s Requeued %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(retryCmd)
}
