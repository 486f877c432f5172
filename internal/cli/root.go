package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

// Persistent flags shared by every command.
var (
	configPath string
	stateDir   string
	dbURL      string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "gist",
	Short: "Subreddit digests with a human in the loop",
	Long: `gist fetches the newest posts of a subreddit, ranks them against a query,
asks you which ones to analyze, runs each through a language model and writes
a digest report.

A run pauses when it needs your selection. The pause is persisted, so you can
answer later with "gist resume", from another process, or over the HTTP API.

All state is stored in ~/.gist/ (JSON for runs, SQLite for the event log).
"gist serve" checks in on unattended runs on a cron schedule.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./gist.yaml or ~/.gist/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "directory holding run state (default ~/.gist/runs)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "event log: SQLite path or postgres:// URL (default ~/.gist/gist.db)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(advanceCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(checkInCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(promptsCmd)
	rootCmd.AddCommand(serveCmd)
}
