// Command jt tracks time against jobs and syncs it with a remote backend.
//
// Every command works offline against the local database in the data
// directory. Changes are queued and delivered by `jt sync now` or by a
// running `jt daemon`.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jobtrack/jobtrack/internal/config"
	"github.com/jobtrack/jobtrack/internal/logging"
	"github.com/jobtrack/jobtrack/internal/offline/scheduler"
	"github.com/jobtrack/jobtrack/internal/session"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "jt",
	Short: "Offline-first job and time tracking",
	Long: `jt tracks time against jobs and computes pay periods.

All changes are applied locally first and queued for delivery to the
configured remote. Use 'jt sync now' to push them, or run 'jt daemon' to
sync in the background.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "track", Title: "Tracking:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ~/.jobtrack/config.toml)")
	pf.String("data-dir", "", "Directory holding the local database")
	pf.String("user", "", "User id for sync")
	pf.String("remote", "", "Remote kind: none, http or libsql")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// fatal prints an error and exits.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func loadConfig(cmd *cobra.Command) *config.Config {
	pf := cmd.Flags()
	cfg, err := config.Load(config.Options{
		Path:     cfgFile,
		EnvFiles: []string{".env", filepath.Join(config.DefaultDir(), ".env")},
		Flags: map[string]*pflag.Flag{
			"data_dir":    pf.Lookup("data-dir"),
			"user_id":     pf.Lookup("user"),
			"remote.kind": pf.Lookup("remote"),
		},
	})
	if err != nil {
		fatal("%v", err)
	}
	return cfg
}

// openSession opens local state. Callers must Close the returned session
// and logs.
func openSession(cmd *cobra.Command) (*session.Session, *logging.Logs) {
	cfg := loadConfig(cmd)
	logs, err := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Quiet:      !verbose,
	})
	if err != nil {
		fatal("failed to open log file: %v", err)
	}
	sess, err := session.Open(session.Options{Config: cfg, Logs: logs})
	if err != nil {
		_ = logs.Close()
		fatal("%v", err)
	}
	return sess, logs
}

func closeSession(sess *session.Session, logs *logging.Logs) {
	if err := sess.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	_ = logs.Close()
}

// withSession runs fn against an open session and closes it afterwards.
// Mutating commands pass notify so a running daemon picks the change up.
func withSession(cmd *cobra.Command, notify bool, fn func(sess *session.Session)) {
	sess, logs := openSession(cmd)
	fn(sess)
	if notify {
		notifyDaemon(sess.Config())
	}
	closeSession(sess, logs)
}

// login logs the session in as the configured user.
func login(ctx context.Context, sess *session.Session) {
	userID := sess.Config().UserID
	if userID == "" {
		fatal("no user configured (use --user, JT_USER_ID or user_id in the config file)")
	}
	if err := sess.Login(ctx, userID); err != nil {
		fatal("login failed: %v", err)
	}
}

// notifyDaemon asks a running daemon to reload and sync. Without a daemon
// the trigger directory does not exist and nothing is written.
func notifyDaemon(cfg *config.Config) {
	if _, err := os.Stat(cfg.TriggerDir()); err != nil {
		return
	}
	if err := scheduler.Touch(cfg.TriggerDir(), scheduler.TriggerSync); err != nil && verbose {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("failed to encode JSON: %v", err)
	}
}
