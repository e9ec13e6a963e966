package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
	"github.com/jobtrack/jobtrack/internal/session"
	"github.com/jobtrack/jobtrack/internal/ui"
)

var periodCmd = &cobra.Command{
	Use:     "period",
	GroupID: "track",
	Short:   "Compute and pay pay periods",
}

var periodGenerateCmd = &cobra.Command{
	Use:   "generate <job-id>",
	Short: "Create a pay period from unpaid entries",
	Long: `Create a pay period for a job covering the unpaid, finished entries
that started between --from and --to (inclusive days).

Totals use the job's rate, rounding and overtime settings.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")

		now := time.Now()
		from, err := parseDay(fromStr, now)
		if err != nil {
			fatal("--from: %v", err)
		}
		to, err := parseDay(toStr, now)
		if err != nil {
			fatal("--to: %v", err)
		}
		if to.Before(from) {
			fatal("--to is before --from")
		}
		// Include the whole last day.
		to = to.AddDate(0, 0, 1).Add(-time.Millisecond)

		withSession(cmd, true, func(sess *session.Session) {
			id, ok := sess.Store().GeneratePayPeriod(args[0], from, to)
			if !ok {
				fatal("job %s not found", args[0])
			}
			p, _ := sess.Store().PayPeriod(id)
			fmt.Printf("%s Created pay period %s: %d entries, %s, %s\n",
				ui.RenderPass("✓"), id, len(p.TimeEntryIDs),
				ui.FormatDuration(p.TotalDuration()), ui.FormatMoney(p.TotalEarnings))
		})
	},
}

var periodListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pay periods",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		jobID, _ := cmd.Flags().GetString("job")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		withSession(cmd, false, func(sess *session.Session) {
			var periods []schema.PayPeriod
			for _, p := range sess.Store().PayPeriods() {
				if jobID == "" || p.JobID == jobID {
					periods = append(periods, p)
				}
			}
			if jsonOutput {
				if periods == nil {
					periods = []schema.PayPeriod{}
				}
				printJSON(periods)
				return
			}
			if len(periods) == 0 {
				fmt.Println("No pay periods.")
				return
			}
			rows := [][]string{{"ID", "JOB", "FROM", "TO", "ENTRIES", "DURATION", "EARNINGS", "PAID"}}
			for _, p := range periods {
				paid := ui.RenderWarn("unpaid")
				if p.IsPaid {
					paid = ui.RenderPass(p.PaidDate.Format("2006-01-02"))
				}
				rows = append(rows, []string{
					p.ID, jobTitle(sess, p.JobID),
					p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"),
					fmt.Sprint(len(p.TimeEntryIDs)), ui.FormatDuration(p.TotalDuration()),
					ui.FormatMoney(p.TotalEarnings), paid,
				})
			}
			fmt.Print(ui.Table(rows))
		})
	},
}

var periodPayCmd = &cobra.Command{
	Use:   "pay <period-id>",
	Short: "Mark a pay period paid",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dateStr, _ := cmd.Flags().GetString("date")
		paidDate := time.Now()
		if dateStr != "" {
			var err error
			if paidDate, err = parseTime(dateStr, paidDate); err != nil {
				fatal("--date: %v", err)
			}
		}

		withSession(cmd, true, func(sess *session.Session) {
			if !sess.Store().MarkPayPeriodPaid(args[0], paidDate) {
				fatal("pay period %s not found", args[0])
			}
			fmt.Printf("%s Marked %s paid on %s\n", ui.RenderPass("✓"), args[0], paidDate.Format("2006-01-02"))
		})
	},
}

var periodUnpayCmd = &cobra.Command{
	Use:   "unpay <period-id>",
	Short: "Mark a pay period unpaid",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withSession(cmd, true, func(sess *session.Session) {
			if !sess.Store().MarkPayPeriodUnpaid(args[0]) {
				fatal("pay period %s not found", args[0])
			}
			fmt.Printf("%s Marked %s unpaid\n", ui.RenderPass("✓"), args[0])
		})
	},
}

var periodDeleteCmd = &cobra.Command{
	Use:   "delete <period-id>",
	Short: "Delete a pay period",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withSession(cmd, true, func(sess *session.Session) {
			if !sess.Store().DeletePayPeriod(args[0]) {
				fatal("pay period %s not found", args[0])
			}
			fmt.Printf("%s Deleted pay period %s\n", ui.RenderPass("✓"), args[0])
		})
	},
}

func init() {
	periodGenerateCmd.Flags().String("from", "", "First day")
	periodGenerateCmd.Flags().String("to", "today", "Last day")
	_ = periodGenerateCmd.MarkFlagRequired("from")

	periodListCmd.Flags().String("job", "", "Only periods of this job")
	periodListCmd.Flags().Bool("json", false, "Output as JSON")

	periodPayCmd.Flags().String("date", "", "Paid date (default now)")

	periodCmd.AddCommand(periodGenerateCmd, periodListCmd, periodPayCmd, periodUnpayCmd, periodDeleteCmd)
	rootCmd.AddCommand(periodCmd)
}
