package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobtrack/jobtrack/internal/offline/processor"
	"github.com/jobtrack/jobtrack/internal/session"
	"github.com/jobtrack/jobtrack/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Deliver queued changes and inspect sync state",
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Deliver queued changes to the remote",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sess, logs := openSession(cmd)
		defer closeSession(sess, logs)
		login(ctx, sess)

		res, err := sess.SyncNow(ctx)
		if errors.Is(err, processor.ErrNoTransport) {
			fmt.Printf("%s No remote configured; %d changes stay queued\n", ui.RenderWarn("⚠"), sess.Queue().Len())
			return
		}
		if err != nil {
			closeSession(sess, logs)
			fatal("sync failed: %v", err)
		}
		printDrain(res, sess.Queue().Len())
	},
}

func printDrain(res processor.Result, remaining int) {
	switch res.Skipped {
	case processor.SkipOffline:
		fmt.Printf("%s Offline; %d changes stay queued\n", ui.RenderWarn("⚠"), remaining)
		return
	case processor.SkipInFlight:
		fmt.Printf("%s A sync is already running\n", ui.RenderWarn("⚠"))
		return
	}
	fmt.Printf("%s Delivered %d changes in %d batches\n", ui.RenderPass("✓"), res.Delivered, res.Batches)
	if res.Failed > 0 {
		fmt.Printf("%s %d changes failed and will be retried\n", ui.RenderWarn("⚠"), res.Failed)
	}
	for _, it := range res.Dropped {
		fmt.Printf("%s Dropped %s %s %s after %d retries\n",
			ui.RenderFail("✗"), it.Operation, it.EntityType, it.EntityID, it.RetryCount)
	}
	if remaining > 0 {
		fmt.Printf("%s\n", ui.KeyValue("Still queued", fmt.Sprint(remaining)))
	}
}

var refreshCmd = &cobra.Command{
	Use:     "refresh",
	GroupID: "sync",
	Short:   "Deliver queued changes, then pull the remote state",
	Long: `Deliver queued changes and replace local collections with the remote
copies. Entities with changes still queued are kept.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sess, logs := openSession(cmd)
		defer closeSession(sess, logs)
		login(ctx, sess)

		rep, err := sess.Refresh(ctx)
		if errors.Is(err, processor.ErrNoTransport) {
			fmt.Printf("%s No remote configured\n", ui.RenderWarn("⚠"))
			return
		}
		if rep.DrainErr == nil {
			printDrain(rep.Drain, sess.Queue().Len())
		} else {
			fmt.Printf("%s Delivery failed: %v\n", ui.RenderWarn("⚠"), rep.DrainErr)
		}
		for _, t := range rep.Applied {
			fmt.Printf("%s Pulled %d %s\n", ui.RenderPass("✓"), rep.Counts[t], t)
		}
		for _, f := range rep.Failed {
			fmt.Printf("%s %v\n", ui.RenderFail("✗"), f)
		}
		if err != nil && len(rep.Applied) == 0 {
			closeSession(sess, logs)
			fatal("refresh failed: %v", err)
		}
	},
}

// statusView is the JSON form of `jt sync status`.
type statusView struct {
	UserID      string     `json:"user_id"`
	Remote      string     `json:"remote"`
	RemoteURL   string     `json:"remote_url,omitempty"`
	Connected   bool       `json:"connected"`
	NetworkType string     `json:"network_type"`
	Queued      int        `json:"queued"`
	Jobs        int        `json:"jobs"`
	TimeEntries int        `json:"time_entries"`
	PayPeriods  int        `json:"pay_periods"`
	ActiveEntry string     `json:"active_entry,omitempty"`
	LastSync    *time.Time `json:"last_sync,omitempty"`
	Daemon      bool       `json:"daemon"`
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue, network and last sync",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		check, _ := cmd.Flags().GetBool("check")

		withSession(cmd, false, func(sess *session.Session) {
			cfg := sess.Config()
			if check {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Network.ProbeTimeout+time.Second)
				login(ctx, sess)
				sess.CheckNetwork(ctx)
				cancel()
			}
			st := sess.Status()
			view := statusView{
				UserID:      cfg.UserID,
				Remote:      cfg.Remote.Kind,
				Connected:   st.Network.IsConnected,
				NetworkType: st.Network.Type,
				Queued:      st.Queued,
				Jobs:        st.Jobs,
				TimeEntries: st.TimeEntries,
				PayPeriods:  st.PayPeriods,
				ActiveEntry: st.ActiveEntry,
				LastSync:    st.LastSync,
			}
			if cfg.Remote.URL != "" {
				view.RemoteURL = session.Redact(cfg.Remote.URL)
			}
			if _, err := os.Stat(cfg.TriggerDir()); err == nil {
				view.Daemon = true
			}
			if jsonOutput {
				printJSON(view)
				return
			}

			remoteDesc := view.Remote
			if view.RemoteURL != "" {
				remoteDesc += " " + view.RemoteURL
			}
			network := ui.RenderMuted("not checked (use --check)")
			if check {
				network = ui.RenderFail("offline")
				if view.Connected {
					network = ui.RenderPass("online")
				}
			}
			lastSync := ui.RenderMuted("never")
			if view.LastSync != nil {
				lastSync = ui.FormatTime(view.LastSync)
			}
			queued := fmt.Sprint(view.Queued)
			if view.Queued > 0 {
				queued = ui.RenderWarn(queued)
			}

			lines := []string{
				ui.KeyValue("User", view.UserID),
				ui.KeyValue("Remote", remoteDesc),
				ui.KeyValue("Network", network),
				ui.KeyValue("Queued", queued),
				ui.KeyValue("Last sync", lastSync),
				ui.KeyValue("Local", fmt.Sprintf("%d jobs, %d entries, %d periods", view.Jobs, view.TimeEntries, view.PayPeriods)),
			}
			if view.ActiveEntry != "" {
				lines = append(lines, ui.KeyValue("Running", view.ActiveEntry))
			}
			if view.Daemon {
				lines = append(lines, ui.KeyValue("Daemon", ui.RenderPass("watching "+cfg.TriggerDir())))
			}
			fmt.Println(strings.Join(lines, "\n"))
		})
	},
}

func init() {
	syncStatusCmd.Flags().Bool("json", false, "Output as JSON")
	syncStatusCmd.Flags().Bool("check", false, "Probe the remote before reporting")

	syncCmd.AddCommand(syncNowCmd, syncStatusCmd)
	rootCmd.AddCommand(syncCmd, refreshCmd)
}
