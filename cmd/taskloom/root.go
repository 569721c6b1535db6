package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "taskloom",
	Short: "Durable task queue for planner and worker agents",
	Long: `taskloom answers data questions with a planner agent that breaks the
question into todos and a worker agent per todo that writes and runs code or
SQL in a sandbox until its acceptance criteria are met.

Every step is a task row in a local SQLite queue. A background processor
claims pending tasks in cohorts and dispatches them to registered handlers,
so work survives restarts and any number of requests run concurrently.

Typical use:
  taskloom serve                      # run the processor
  taskloom ask "Chart revenue by region" --var sales=sales.json
  taskloom watch                      # follow the queue`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user and project config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
