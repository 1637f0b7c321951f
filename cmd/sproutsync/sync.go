package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sproutlabs/sproutsync/internal/engine"
	"github.com/sproutlabs/sproutsync/internal/netmon"
	"github.com/sproutlabs/sproutsync/internal/op"
	"github.com/sproutlabs/sproutsync/internal/policy"
	"github.com/sproutlabs/sproutsync/internal/remote"
	"github.com/sproutlabs/sproutsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one explicit sync pass now",
	Long: `Drain the pending operation queue in a single sync pass.

The pass runs in priority order and stops early if the remote store fails
three deliveries in a row. Rejected immediately when the remote store is
unreachable or the current link is blocked by the network policy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := dataDir(cmd)
		if err != nil {
			return err
		}

		remoteURL, _ := cmd.Flags().GetString("remote")
		token, _ := cmd.Flags().GetString("token")
		metered, _ := cmd.Flags().GetBool("metered")

		if remoteURL == "" {
			remoteURL = os.Getenv("SPROUTSYNC_REMOTE")
		}
		if token == "" {
			token = os.Getenv("SPROUTSYNC_TOKEN")
		}
		if remoteURL == "" {
			return fmt.Errorf("remote store URL required (--remote or SPROUTSYNC_REMOTE)")
		}

		pol := policy.NewManager(configPath(dir), log.New(os.Stderr, "[policy] ", log.LstdFlags))
		if err := pol.Load(); err != nil {
			return fmt.Errorf("failed to load policy: %w", err)
		}

		var creds remote.CredentialSource
		if token != "" {
			creds = remote.StaticToken(token)
		}
		client := remote.NewHTTPClient(remote.HTTPConfig{
			BaseURL:     remoteURL,
			Credentials: creds,
		})

		link := netmon.LinkUnmetered
		if metered {
			link = netmon.LinkMetered
		}
		mon := netmon.New(netmon.Config{Link: link})

		eng, err := engine.New(engine.Config{
			DBPath:    dbPath(dir),
			Policy:    pol,
			Deliverer: client,
			Fetcher:   client,
			Monitor:   mon,
		})
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		// One-shot probe; the daemon's ticker is not running here.
		probe := netmon.HTTPProbe(client.HealthURL(), 5*time.Second)
		if err := probe(ctx); err == nil {
			mon.Observe(netmon.StateOnline)
		}

		fmt.Printf("%s Syncing to %s...\n", ui.RenderAccent("🔄"), remoteURL)

		res, err := eng.SyncNow(ctx)
		if errors.Is(err, op.ErrOfflineRejected) {
			fmt.Printf("%s Remote store unreachable, operations remain queued\n", ui.RenderWarn("⚠"))
			os.Exit(1)
		}
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		if res.Aborted {
			fmt.Printf("%s Pass aborted after repeated delivery failures\n", ui.RenderWarn("⚠"))
		} else {
			fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), res.Duration().Round(time.Millisecond))
		}
		fmt.Printf("   Delivered: %d\n", res.Delivered)
		if res.ConflictsResolved > 0 {
			fmt.Printf("   Conflicts resolved: %d\n", res.ConflictsResolved)
		}
		if res.Deferred > 0 {
			fmt.Printf("   Deferred for review: %d\n", res.Deferred)
		}
		if res.Failed > 0 {
			fmt.Printf("   Failed: %d\n", res.Failed)
		}

		pending, err := eng.PendingCount()
		if err == nil {
			fmt.Printf("   Remaining: %d\n", pending)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().String("remote", "", "Remote store base URL (or SPROUTSYNC_REMOTE)")
	syncCmd.Flags().String("token", "", "Bearer token for the remote store (or SPROUTSYNC_TOKEN)")
	syncCmd.Flags().Bool("metered", false, "Treat the current link as metered")

	rootCmd.AddCommand(syncCmd)
}
