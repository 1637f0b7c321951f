package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sproutlabs/sproutsync/internal/op"
	"github.com/sproutlabs/sproutsync/internal/store"
	"github.com/sproutlabs/sproutsync/internal/ui"
)

var enqueueCmd = &cobra.Command{
	Use:     "enqueue <create|update|delete> <model> <record-id> [payload]",
	GroupID: "queue",
	Short:   "Queue a mutation for delivery",
	Long: `Queue a mutation against the remote store.

Enqueueing always succeeds locally, online or not; the daemon delivers the
operation when connectivity allows. The payload is a JSON document given
as the final argument, via --file, or on stdin.

Examples:
  sproutsync enqueue create attendance_log att-17 '{"child":"c-3","state":"in"}'
  sproutsync enqueue update child_profile c-3 --file profile.json
  sproutsync enqueue delete daily_report rpt-9`,
	Args: cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := dataDir(cmd)
		if err != nil {
			return err
		}

		var typ op.Type
		switch strings.ToLower(args[0]) {
		case "create":
			typ = op.TypeCreate
		case "update":
			typ = op.TypeUpdate
		case "delete":
			typ = op.TypeDelete
		default:
			return fmt.Errorf("unknown operation type %q (want create, update, or delete)", args[0])
		}

		payload, err := readPayload(cmd, args)
		if err != nil {
			return err
		}

		rec := op.Record{
			ID:         uuid.NewString(),
			Type:       typ,
			ModelName:  args[1],
			RecordID:   args[2],
			Payload:    payload,
			EnqueuedAt: time.Now(),
		}
		if err := rec.Validate(); err != nil {
			return err
		}

		db, err := store.Open(dbPath(dir))
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		if err := db.InitSchema(); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		if err := db.EnqueueOp(rec); err != nil {
			return fmt.Errorf("failed to enqueue: %w", err)
		}

		fmt.Printf("%s Queued %s %s/%s\n", ui.RenderPass("✓"), typ, rec.ModelName, rec.RecordID)
		fmt.Printf("   ID: %s\n", rec.ID)
		return nil
	},
}

func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
		return data, nil
	}
	if len(args) == 4 {
		return []byte(args[3]), nil
	}

	// Deletes carry no payload; anything else may be piped in.
	stat, err := os.Stdin.Stat()
	if err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		return data, nil
	}
	return nil, nil
}

func init() {
	enqueueCmd.Flags().String("file", "", "Read the payload from a file")

	rootCmd.AddCommand(enqueueCmd)
}
