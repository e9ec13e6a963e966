package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jobtrack/jobtrack/internal/config"
	"github.com/jobtrack/jobtrack/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Write or show the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the effective settings",
	Long: `Write the effective configuration (defaults, config file, .env,
JT_* environment and flags) to the config file.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		cfg := loadConfig(cmd)
		if cmd.Flags().Changed("remote-url") {
			cfg.Remote.URL, _ = cmd.Flags().GetString("remote-url")
		}
		if cmd.Flags().Changed("token") {
			cfg.Remote.Token, _ = cmd.Flags().GetString("token")
		}
		if err := cfg.Validate(); err != nil {
			fatal("%v", err)
		}

		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteFile(path, cfg, force); err != nil {
			if errors.Is(err, config.ErrExists) {
				fatal("%v (use --force to overwrite)", err)
			}
			fatal("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		data, err := config.Encode(cfg, true)
		if err != nil {
			fatal("%v", err)
		}
		if cfg.File != "" {
			fmt.Fprintf(os.Stderr, "%s\n", ui.RenderMuted("# from "+cfg.File))
		}
		fmt.Print(string(data))
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configInitCmd.Flags().String("remote-url", "", "Remote URL")
	configInitCmd.Flags().String("token", "", "Remote access token")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
