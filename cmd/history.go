package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/coder/quartz"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/team-worklog/internal/storage"
	"github.com/Tiliavir/team-worklog/internal/timecalc"
)

var (
	historyDate string
	historyDays int
	historyTeam string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Reprint archived daily summaries",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDate, "date", "", "Summary date (YYYY-MM-DD); defaults to the last --days days")
	historyCmd.Flags().IntVar(&historyDays, "days", 7, "Number of days to show when --date is not given")
	historyCmd.Flags().StringVar(&historyTeam, "team", "", "Only show this team")
}

func runHistory(cmd *cobra.Command, args []string) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	base, err := storage.BaseDir()
	if err != nil {
		return err
	}

	to := timecalc.StartOfDay(quartz.NewReal().Now().In(loc))
	from := to.AddDate(0, 0, -(historyDays - 1))
	if historyDate != "" {
		d, err := time.ParseInLocation("2006-01-02", historyDate, loc)
		if err != nil {
			return fmt.Errorf("invalid --date value %q: %w", historyDate, err)
		}
		from, to = d, d
	}

	days, err := storage.LoadRange(base, from, to)
	if err != nil {
		return err
	}
	writeHistory(cmd.OutOrStdout(), days, historyTeam)
	return nil
}

func writeHistory(w io.Writer, days []storage.DayFile, team string) {
	printed := 0
	for _, df := range days {
		for _, rec := range df.Teams {
			if team != "" && rec.Team != team {
				continue
			}
			if printed > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "[%s]\n%s\n", df.Date, summaryText(rec.Team, rec.Users))
			printed++
		}
	}
	if printed == 0 {
		fmt.Fprintln(w, "No archived summaries.")
	}
}
