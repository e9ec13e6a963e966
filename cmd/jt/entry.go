package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
	"github.com/jobtrack/jobtrack/internal/offline/store"
	"github.com/jobtrack/jobtrack/internal/session"
	"github.com/jobtrack/jobtrack/internal/ui"
)

var entryCmd = &cobra.Command{
	Use:     "entry",
	GroupID: "track",
	Short:   "Track time entries",
}

var entryStartCmd = &cobra.Command{
	Use:   "start <job-id>",
	Short: "Start tracking time for a job",
	Long: `Start a running time entry for a job.

A running entry for another job is stopped first.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		note, _ := cmd.Flags().GetString("note")
		withSession(cmd, true, func(sess *session.Session) {
			job, ok := sess.Store().Job(args[0])
			if !ok {
				fatal("job %s not found", args[0])
			}
			if prev, ok := sess.Store().ActiveEntry(); ok {
				fmt.Printf("%s Stopped running entry %s\n", ui.RenderMuted("•"), prev.ID)
			}
			id := sess.Store().StartEntry(job.ID, note)
			fmt.Printf("%s Started %s (%s)\n", ui.RenderPass("▶"), ui.RenderBold(job.Title), id)
		})
	},
}

var entryStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running entry",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withSession(cmd, true, func(sess *session.Session) {
			id, ok := sess.Store().StopEntry()
			if !ok {
				fmt.Printf("%s Nothing is running\n", ui.RenderWarn("⚠"))
				return
			}
			e, _ := sess.Store().TimeEntry(id)
			fmt.Printf("%s Stopped %s after %s\n", ui.RenderPass("■"), id, ui.FormatDuration(e.Duration(time.Now())))
		})
	},
}

var entryBreakCmd = &cobra.Command{
	Use:   "break",
	Short: "Start a break on the running entry",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withSession(cmd, true, func(sess *session.Session) {
			if !sess.Store().StartBreak() {
				fmt.Printf("%s No running entry, or already on a break\n", ui.RenderWarn("⚠"))
				return
			}
			fmt.Printf("%s On break\n", ui.RenderAccent("⏸"))
		})
	},
}

var entryResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "End the current break",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		withSession(cmd, true, func(sess *session.Session) {
			if !sess.Store().EndBreak() {
				fmt.Printf("%s Not on a break\n", ui.RenderWarn("⚠"))
				return
			}
			fmt.Printf("%s Resumed\n", ui.RenderPass("▶"))
		})
	},
}

var entryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List time entries",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		jobID, _ := cmd.Flags().GetString("job")
		unpaid, _ := cmd.Flags().GetBool("unpaid")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		withSession(cmd, false, func(sess *session.Session) {
			var entries []schema.TimeEntry
			for _, e := range sess.Store().TimeEntries() {
				if jobID != "" && e.JobID != jobID {
					continue
				}
				if unpaid && e.IsPaid() {
					continue
				}
				entries = append(entries, e)
			}
			if jsonOutput {
				if entries == nil {
					entries = []schema.TimeEntry{}
				}
				printJSON(entries)
				return
			}
			if len(entries) == 0 {
				fmt.Println("No time entries.")
				return
			}

			now := time.Now()
			var total time.Duration
			rows := [][]string{{"ID", "JOB", "START", "END", "DURATION", "NOTE"}}
			for _, e := range entries {
				d := e.Duration(now)
				total += d
				end := ui.FormatTime(e.EndTime)
				if e.IsOpen() {
					end = ui.RenderAccent("running")
					if e.IsOnBreak {
						end = ui.RenderWarn("on break")
					}
				}
				rows = append(rows, []string{
					e.ID, jobTitle(sess, e.JobID), ui.FormatTime(&e.StartTime), end, ui.FormatDuration(d), e.Note,
				})
			}
			fmt.Print(ui.Table(rows))
			fmt.Printf("\n%s\n", ui.KeyValue("Total", ui.FormatDuration(total)))
		})
	},
}

func jobTitle(sess *session.Session, id string) string {
	if j, ok := sess.Store().Job(id); ok {
		return j.Title
	}
	return id
}

var entryAddCmd = &cobra.Command{
	Use:   "add <job-id>",
	Short: "Add a past time entry",
	Long: `Add a time entry with explicit times.

Times accept RFC 3339, "2006-01-02 15:04", or natural language such as
"yesterday 9am" or "3 hours ago". Without --end the entry starts running.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		startStr, _ := cmd.Flags().GetString("start")
		endStr, _ := cmd.Flags().GetString("end")
		note, _ := cmd.Flags().GetString("note")

		now := time.Now()
		start, err := parseTime(startStr, now)
		if err != nil {
			fatal("--start: %v", err)
		}
		in := store.TimeEntryInput{JobID: args[0], StartTime: start, Note: note}
		if endStr != "" {
			end, err := parseTime(endStr, now)
			if err != nil {
				fatal("--end: %v", err)
			}
			if end.Before(start) {
				fatal("--end is before --start")
			}
			in.EndTime = &end
		}

		withSession(cmd, true, func(sess *session.Session) {
			if _, ok := sess.Store().Job(args[0]); !ok {
				fatal("job %s not found", args[0])
			}
			id := sess.Store().CreateTimeEntry(in)
			fmt.Printf("%s Added entry %s\n", ui.RenderPass("✓"), id)
		})
	},
}

var entryDeleteCmd = &cobra.Command{
	Use:   "delete <entry-id>",
	Short: "Delete a time entry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withSession(cmd, true, func(sess *session.Session) {
			if !sess.Store().DeleteTimeEntry(args[0]) {
				fatal("time entry %s not found", args[0])
			}
			fmt.Printf("%s Deleted entry %s\n", ui.RenderPass("✓"), args[0])
		})
	},
}

func init() {
	entryStartCmd.Flags().String("note", "", "Note for the entry")

	entryListCmd.Flags().String("job", "", "Only entries of this job")
	entryListCmd.Flags().Bool("unpaid", false, "Only entries not in a paid period")
	entryListCmd.Flags().Bool("json", false, "Output as JSON")

	entryAddCmd.Flags().String("start", "", "Start time")
	entryAddCmd.Flags().String("end", "", "End time")
	entryAddCmd.Flags().String("note", "", "Note for the entry")
	_ = entryAddCmd.MarkFlagRequired("start")

	entryCmd.AddCommand(entryStartCmd, entryStopCmd, entryBreakCmd, entryResumeCmd,
		entryListCmd, entryAddCmd, entryDeleteCmd)
	rootCmd.AddCommand(entryCmd)
}
