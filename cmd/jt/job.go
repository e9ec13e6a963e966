package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jobtrack/jobtrack/internal/offline/schema"
	"github.com/jobtrack/jobtrack/internal/offline/store"
	"github.com/jobtrack/jobtrack/internal/session"
	"github.com/jobtrack/jobtrack/internal/ui"
)

var jobCmd = &cobra.Command{
	Use:     "job",
	GroupID: "track",
	Short:   "Manage jobs",
}

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job",
	Long: `Create a job to track time against.

Without --title on a terminal, jt asks for the title and rate interactively.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		in := store.JobInput{}
		in.Title, _ = cmd.Flags().GetString("title")
		in.Client, _ = cmd.Flags().GetString("client")
		in.HourlyRate, _ = cmd.Flags().GetFloat64("rate")
		in.Color, _ = cmd.Flags().GetString("color")
		payPeriod, _ := cmd.Flags().GetString("pay-period")
		in.Settings.PayPeriodType = schema.PayPeriodType(payPeriod)
		in.Settings.Tags, _ = cmd.Flags().GetStringSlice("tag")

		if in.Title == "" {
			if !ui.IsTerminal(os.Stdin) {
				fatal("--title is required")
			}
			if err := promptJob(&in); err != nil {
				fatal("%v", err)
			}
		}

		candidate := schema.Job{
			ID: "new", Title: in.Title, HourlyRate: in.HourlyRate,
			Settings: in.Settings, CreatedAt: time.Now(),
		}
		if err := candidate.Validate(); err != nil {
			fatal("invalid job: %v", err)
		}

		withSession(cmd, true, func(sess *session.Session) {
			id := sess.Store().CreateJob(in)
			fmt.Printf("%s Created job %s (%s)\n", ui.RenderPass("✓"), ui.RenderBold(in.Title), id)
		})
	},
}

// promptJob asks for the title and rate on a terminal.
func promptJob(in *store.JobInput) error {
	rate := ""
	if in.HourlyRate > 0 {
		rate = strconv.FormatFloat(in.HourlyRate, 'f', -1, 64)
	}
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Job title").
			Value(&in.Title).
			Validate(func(s string) error {
				if s == "" {
					return fmt.Errorf("title is required")
				}
				return nil
			}),
		huh.NewInput().
			Title("Client").
			Value(&in.Client),
		huh.NewInput().
			Title("Hourly rate").
			Value(&rate).
			Validate(func(s string) error {
				if s == "" {
					return nil
				}
				if v, err := strconv.ParseFloat(s, 64); err != nil || v < 0 {
					return fmt.Errorf("enter a non-negative number")
				}
				return nil
			}),
	))
	if err := form.Run(); err != nil {
		return err
	}
	if rate != "" {
		in.HourlyRate, _ = strconv.ParseFloat(rate, 64)
	}
	return nil
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		withSession(cmd, false, func(sess *session.Session) {
			jobs := sess.Store().Jobs()
			if jsonOutput {
				printJSON(jobs)
				return
			}
			if len(jobs) == 0 {
				fmt.Println("No jobs yet. Create one with 'jt job create'.")
				return
			}
			rows := [][]string{{"ID", "TITLE", "CLIENT", "RATE", "PAY PERIOD"}}
			for _, j := range jobs {
				rows = append(rows, []string{
					j.ID, j.Title, j.Client, ui.FormatMoney(j.HourlyRate), string(j.Settings.PayPeriodType),
				})
			}
			fmt.Print(ui.Table(rows))
		})
	},
}

var jobUpdateCmd = &cobra.Command{
	Use:   "update <job-id>",
	Short: "Change a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var patch store.JobPatch
		flags := cmd.Flags()
		if flags.Changed("title") {
			v, _ := flags.GetString("title")
			patch.Title = &v
		}
		if flags.Changed("client") {
			v, _ := flags.GetString("client")
			patch.Client = &v
		}
		if flags.Changed("rate") {
			v, _ := flags.GetFloat64("rate")
			if v < 0 {
				fatal("--rate must not be negative")
			}
			patch.HourlyRate = &v
		}
		if flags.Changed("color") {
			v, _ := flags.GetString("color")
			patch.Color = &v
		}

		withSession(cmd, true, func(sess *session.Session) {
			if flags.Changed("pay-period") || flags.Changed("tag") {
				job, ok := sess.Store().Job(args[0])
				if !ok {
					fatal("job %s not found", args[0])
				}
				settings := job.Settings
				if flags.Changed("pay-period") {
					v, _ := flags.GetString("pay-period")
					settings.PayPeriodType = schema.PayPeriodType(v)
				}
				if flags.Changed("tag") {
					settings.Tags, _ = flags.GetStringSlice("tag")
				}
				patch.Settings = &settings
			}
			if !sess.Store().UpdateJob(args[0], patch) {
				fatal("job %s not found", args[0])
			}
			fmt.Printf("%s Updated job %s\n", ui.RenderPass("✓"), args[0])
		})
	},
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job with its time entries and pay periods",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withSession(cmd, true, func(sess *session.Session) {
			if !sess.Store().DeleteJob(args[0]) {
				fatal("job %s not found", args[0])
			}
			fmt.Printf("%s Deleted job %s\n", ui.RenderPass("✓"), args[0])
		})
	},
}

func addJobFlags(cmd *cobra.Command) {
	cmd.Flags().String("title", "", "Job title")
	cmd.Flags().String("client", "", "Client name")
	cmd.Flags().Float64("rate", 0, "Hourly rate")
	cmd.Flags().String("color", "", "Display color")
	cmd.Flags().String("pay-period", "", "Pay period: weekly, biweekly, semi_monthly or monthly")
	cmd.Flags().StringSlice("tag", nil, "Tags (repeatable)")
}

func init() {
	addJobFlags(jobCreateCmd)
	addJobFlags(jobUpdateCmd)
	jobListCmd.Flags().Bool("json", false, "Output as JSON")

	jobCmd.AddCommand(jobCreateCmd, jobListCmd, jobUpdateCmd, jobDeleteCmd)
	rootCmd.AddCommand(jobCmd)
}
