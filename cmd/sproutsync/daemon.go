package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sproutlabs/sproutsync/internal/dashboard"
	"github.com/sproutlabs/sproutsync/internal/engine"
	"github.com/sproutlabs/sproutsync/internal/netmon"
	"github.com/sproutlabs/sproutsync/internal/policy"
	"github.com/sproutlabs/sproutsync/internal/remote"
	"github.com/sproutlabs/sproutsync/internal/scheduler"
	"github.com/sproutlabs/sproutsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Start the sync daemon (foreground)",
	Long: `Start the sync daemon in foreground mode.

The daemon will:
  1. Recover any operations left in flight by a previous run
  2. Probe connectivity to the remote store on an interval
  3. Drain the operation queue on reconnect and on the policy interval
  4. Re-examine failed operations for retry on a recovery timer
  5. Reload policy edits from the config file without a restart

Press Ctrl+C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := dataDir(cmd)
		if err != nil {
			return err
		}

		remoteURL, _ := cmd.Flags().GetString("remote")
		token, _ := cmd.Flags().GetString("token")
		dashPort, _ := cmd.Flags().GetInt("dashboard-port")
		logFile, _ := cmd.Flags().GetString("log-file")
		probeEvery, _ := cmd.Flags().GetDuration("probe-interval")

		if remoteURL == "" {
			remoteURL = os.Getenv("SPROUTSYNC_REMOTE")
		}
		if token == "" {
			token = os.Getenv("SPROUTSYNC_TOKEN")
		}
		if remoteURL == "" {
			return fmt.Errorf("remote store URL required (--remote or SPROUTSYNC_REMOTE)")
		}

		// Log to a rotating file when requested so long-running devices
		// don't fill their storage with daemon output.
		var logOut io.Writer = os.Stderr
		if logFile != "" {
			logOut = &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}
		newLogger := func(prefix string) *log.Logger {
			return log.New(logOut, prefix, log.LstdFlags)
		}

		pol := policy.NewManager(configPath(dir), newLogger("[policy] "))
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

		mon := netmon.New(netmon.Config{
			Probe:    netmon.HTTPProbe(client.HealthURL(), 5*time.Second),
			Interval: probeEvery,
			Logger:   newLogger("[netmon] "),
		})

		eng, err := engine.New(engine.Config{
			DBPath:    dbPath(dir),
			Policy:    pol,
			Deliverer: client,
			Fetcher:   client,
			Monitor:   mon,
			Retry:     scheduler.ExponentialBackoff{},
			Logger:    newLogger("[engine] "),
		})
		if err != nil {
			return fmt.Errorf("failed to start engine: %w", err)
		}
		defer eng.Close()

		var dash *dashboard.Server
		if dashPort > 0 {
			dash = dashboard.NewServer(dashboard.Config{
				Port:   dashPort,
				Source: eng,
				Logger: newLogger("[dashboard] "),
			})
			if err := dash.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			dash.Pump(eng.Events())
			fmt.Printf("%s Dashboard on http://localhost:%d (ws://localhost:%d/ws)\n",
				ui.RenderAccent("📊"), dashPort, dashPort)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Data dir: %s\n", dir)
		fmt.Printf("   Remote:   %s\n", remoteURL)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		runErr := eng.Run(ctx)

		if dash != nil {
			if err := dash.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
			}
		}
		if runErr != nil {
			return fmt.Errorf("daemon stopped with error: %w", runErr)
		}

		fmt.Printf("%s Daemon stopped\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	daemonCmd.Flags().String("remote", "", "Remote store base URL (or SPROUTSYNC_REMOTE)")
	daemonCmd.Flags().String("token", "", "Bearer token for the remote store (or SPROUTSYNC_TOKEN)")
	daemonCmd.Flags().Int("dashboard-port", 0, "Serve the WebSocket dashboard on this port (0 = disabled)")
	daemonCmd.Flags().String("log-file", "", "Write daemon logs to a rotating file instead of stderr")
	daemonCmd.Flags().Duration("probe-interval", 15*time.Second, "Connectivity probe interval")

	rootCmd.AddCommand(daemonCmd)
}
