package cmd

import (
	"fmt"

	"github.com/coder/quartz"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/team-worklog/internal/timecalc"
)

var windowCmd = &cobra.Command{
	Use:   "window <token>",
	Short: "Show the dates a window token resolves to",
	Long: `window prints the first and last date of a window token evaluated now in
the configured zone. Tokens: today, yesterday, previous_workday, or a day
count N covering the last N days up to now.`,
	Args: cobra.ExactArgs(1),
	RunE: runWindow,
}

func runWindow(cmd *cobra.Command, args []string) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	w := timecalc.ResolveWindow(args[0], quartz.NewReal().Now().In(loc))
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", w.StartDate(), w.EndDate(), loc)
	return nil
}
