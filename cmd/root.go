package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/team-worklog/internal/config"
	"github.com/Tiliavir/team-worklog/internal/logging"
)

var (
	configPath string
	logLevel   string

	cfg    config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "twl",
	Short: "Team worklog – per-user time totals across the tracker and timesheets",
	Long: `twl merges time logged in the issue tracker with the hour-based
timesheet and the timelog service into one total per team member.
Settings live in ~/.twl/config.json; tokens are read from the environment.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.twl/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(dailyCmd)
	rootCmd.AddCommand(windowCmd)
	rootCmd.AddCommand(historyCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
		cfg.ApplyEnv(os.Getenv)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger = logging.New(level, os.Stderr)
	return nil
}
