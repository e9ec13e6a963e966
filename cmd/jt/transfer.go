package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jobtrack/jobtrack/internal/offline/migrate"
	"github.com/jobtrack/jobtrack/internal/offline/schema"
	"github.com/jobtrack/jobtrack/internal/session"
	"github.com/jobtrack/jobtrack/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "advanced",
	Short:   "Export local data as JSONL or YAML",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		var write func(io.Writer, schema.Snapshot) error
		var export func(string, schema.Snapshot) error
		switch format {
		case "jsonl":
			write, export = migrate.WriteJSONL, migrate.ExportJSONL
		case "yaml":
			write, export = migrate.WriteYAML, migrate.ExportYAML
		default:
			fatal("unknown format %q (want jsonl or yaml)", format)
		}

		withSession(cmd, false, func(sess *session.Session) {
			snap := sess.Export()
			if output == "" || output == "-" {
				if err := write(os.Stdout, snap); err != nil {
					fatal("export failed: %v", err)
				}
				return
			}
			if err := export(output, snap); err != nil {
				fatal("export failed: %v", err)
			}
			fmt.Fprintf(os.Stderr, "%s Exported %d jobs, %d entries, %d periods to %s\n",
				ui.RenderPass("✓"), len(snap.Jobs), len(snap.TimeEntries), len(snap.PayPeriods), output)
		})
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Replace local data with a JSONL export",
	Long: `Replace local jobs, entries and pay periods with the contents of a
JSONL export. With --push every imported entity is queued for upload.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		push, _ := cmd.Flags().GetBool("push")
		skipInvalid, _ := cmd.Flags().GetBool("skip-invalid")

		snap, res, err := migrate.ImportJSONL(args[0], migrate.ImportOptions{SkipInvalid: skipInvalid})
		if err != nil {
			fatal("import failed: %v", err)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(os.Stderr, "%s skipped %s\n", ui.RenderWarn("⚠"), e)
		}

		withSession(cmd, push, func(sess *session.Session) {
			queued, err := sess.Import(snap, push)
			if err != nil {
				fatal("%v", err)
			}
			fmt.Printf("%s Imported %d jobs, %d entries, %d periods\n",
				ui.RenderPass("✓"), res.Jobs, res.TimeEntries, res.PayPeriods)
			if push {
				fmt.Printf("%s\n", ui.KeyValue("Queued for upload", fmt.Sprint(queued)))
			}
		})
	},
}

func init() {
	exportCmd.Flags().String("format", "jsonl", "Output format: jsonl or yaml")
	exportCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")

	importCmd.Flags().Bool("push", false, "Queue imported data for upload")
	importCmd.Flags().Bool("skip-invalid", false, "Skip invalid records instead of failing")

	rootCmd.AddCommand(exportCmd, importCmd)
}
