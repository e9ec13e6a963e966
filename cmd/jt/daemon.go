package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jobtrack/jobtrack/internal/offline/dashboard"
	"github.com/jobtrack/jobtrack/internal/offline/scheduler"
	"github.com/jobtrack/jobtrack/internal/session"
	"github.com/jobtrack/jobtrack/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync in the background until interrupted",
	Long: `Run the sync engine in the foreground of this terminal.

The daemon probes the remote, delivers queued changes on a timer and on
reconnect, and watches <data_dir>/triggers for requests from other jt
commands. Unless --no-dashboard is given it serves live sync events over
WebSocket on 127.0.0.1.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		noDashboard, _ := cmd.Flags().GetBool("no-dashboard")
		verbose = true

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, logs := openSession(cmd)
		defer closeSession(sess, logs)
		cfg := sess.Config()
		if cmd.Flags().Changed("port") {
			cfg.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}
		login(ctx, sess)

		if !noDashboard {
			server := dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Status: func() dashboard.Status { return dashboardStatus(sess.Status()) },
				Logger: logs.Logger("dashboard"),
			})
			if err := server.Start(); err != nil {
				closeSession(sess, logs)
				fatal("failed to start dashboard: %v", err)
			}
			defer func() { _ = server.Stop() }()
			sess.Observe(dashboard.NewHandler(server, logs.Logger("dashboard")))
			fmt.Printf("%s Dashboard on ws://%s/ws\n", ui.RenderAccent("●"), server.Addr())
		}

		tw, err := scheduler.NewTriggerWatcher()
		if err != nil {
			closeSession(sess, logs)
			fatal("%v", err)
		}
		if err := tw.Start(cfg.TriggerDir()); err != nil {
			closeSession(sess, logs)
			fatal("%v", err)
		}
		defer func() {
			_ = tw.Stop()
			_ = os.RemoveAll(cfg.TriggerDir())
		}()

		if err := sess.Start(ctx); err != nil {
			closeSession(sess, logs)
			fatal("failed to start sync: %v", err)
		}
		fmt.Printf("%s Syncing as %s every %s (Ctrl+C to stop)\n",
			ui.RenderPass("✓"), cfg.UserID, cfg.Sync.Interval)

		if _, err := sess.Refresh(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: initial refresh: %v\n", err)
		}

		logger := logs.Logger("daemon")
		sess.Scheduler().Serve(ctx, tw, func(kind scheduler.TriggerKind) {
			if kind != scheduler.TriggerSync && kind != scheduler.TriggerRefresh {
				return
			}
			if err := sess.Reload(); err != nil {
				logger.Printf("Reload failed: %v", err)
			}
		})
		fmt.Println("\nStopping...")
	},
}

func dashboardStatus(st session.Status) dashboard.Status {
	return dashboard.Status{
		UserID:      st.UserID,
		Connected:   st.Network.IsConnected,
		NetworkType: st.Network.Type,
		Queued:      st.Queued,
		Jobs:        st.Jobs,
		TimeEntries: st.TimeEntries,
		PayPeriods:  st.PayPeriods,
		ActiveEntry: st.ActiveEntry,
		LastSync:    st.LastSync,
		Dropped:     st.Dropped,
	}
}

var appCmd = &cobra.Command{
	Use:       "app <foreground|background>",
	GroupID:   "advanced",
	Short:     "Tell a running daemon the app changed state",
	Long:      `Signal a running daemon that the host app moved to the foreground or background. Foreground triggers an immediate sync.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"foreground", "background"},
	Run: func(cmd *cobra.Command, args []string) {
		kind, err := scheduler.ParseTriggerKind(args[0])
		if err != nil || (kind != scheduler.TriggerForeground && kind != scheduler.TriggerBackground) {
			fatal("state must be foreground or background")
		}
		cfg := loadConfig(cmd)
		if _, err := os.Stat(cfg.TriggerDir()); err != nil {
			fatal("no daemon is running for %s", cfg.DataDir)
		}
		if err := scheduler.Touch(cfg.TriggerDir(), kind); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s Sent %s\n", ui.RenderPass("✓"), kind)
	},
}

func init() {
	daemonCmd.Flags().Int("port", 0, "Dashboard port (default from config, 7420)")
	daemonCmd.Flags().Bool("no-dashboard", false, "Do not serve the dashboard")

	rootCmd.AddCommand(daemonCmd, appCmd)
}
