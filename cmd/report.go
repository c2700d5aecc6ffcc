package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/coder/quartz"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/team-worklog/internal/timecalc"
	"github.com/Tiliavir/team-worklog/internal/worklog"
)

var (
	reportTeam    string
	reportWindow  string
	reportFormat  string
	reportEntries bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show per-user time totals for a team",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportTeam, "team", "", "Team name (optional when only one team is configured)")
	reportCmd.Flags().StringVar(&reportWindow, "window", timecalc.PreviousWorkday, "Window: today, yesterday, previous_workday or a day count")
	reportCmd.Flags().StringVar(&reportFormat, "format", "table", "Output format: table, csv, json")
	reportCmd.Flags().BoolVar(&reportEntries, "entries", false, "List individual entries under each user (table only)")
}

func runReport(cmd *cobra.Command, args []string) error {
	team, err := cfg.Team(reportTeam)
	if err != nil {
		return err
	}
	f, err := newFetcher(cfg, quartz.NewReal(), nil, logger)
	if err != nil {
		return err
	}
	res, err := f.Run(cmd.Context(), teamRequest(team, reportWindow))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch reportFormat {
	case "csv":
		writeCSV(out, res)
	case "json":
		data, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "error encoding JSON:", err)
			os.Exit(2)
		}
		fmt.Fprintln(out, string(data))
	default: // table
		writeTable(out, team.Name, res, reportEntries)
	}
	return nil
}

const nameWidth = 28

func writeTable(w io.Writer, team string, res worklog.Result, entries bool) {
	fmt.Fprintf(w, "%s  %s – %s\n", team, res.Window.StartDate(), res.Window.EndDate())
	fmt.Fprintln(w, strings.Repeat("-", nameWidth+12))
	var total int64
	for _, u := range res.Users {
		total += u.TotalSeconds
		fmt.Fprintf(w, "%s%s\n", runewidth.FillRight(runewidth.Truncate(u.DisplayName, nameWidth-1, "…"), nameWidth), timecalc.FormatDuration(u.TotalSeconds))
		if !entries {
			continue
		}
		for _, e := range u.Entries {
			label, text := e.IssueKey, e.IssueSummary
			if e.IsEvent() {
				label, text = "event", e.Comment
			}
			fmt.Fprintf(w, "  %s %-12s %-8s %s\n", e.Date(), label, timecalc.FormatDuration(e.Seconds), text)
		}
	}
	fmt.Fprintln(w, strings.Repeat("-", nameWidth+12))
	fmt.Fprintf(w, "%s%s\n", runewidth.FillRight("Total", nameWidth), timecalc.FormatDuration(total))
	if res.Diagnostics.Strategy == worklog.StrategyNone {
		fmt.Fprintln(w, "warning: tracker worklogs unavailable, totals exclude tracker time")
	}
	for _, s := range res.Diagnostics.Sources {
		if s.Status == worklog.StatusDegraded || s.Status == worklog.StatusPartial {
			fmt.Fprintf(w, "warning: %s %s\n", s.Name, s.Status)
		}
	}
}

func writeCSV(w io.Writer, res worklog.Result) {
	fmt.Fprintln(w, "user_id,user_name,account_id,date,source,issue_key,issue_summary,duration_seconds")
	for _, u := range res.Users {
		for _, e := range u.Entries {
			fmt.Fprintf(w, "%d,%s,%s,%s,%s,%s,%s,%d\n",
				u.UserID,
				csvEscape(u.DisplayName),
				csvEscape(u.AccountID),
				e.Date(),
				e.Source,
				csvEscape(e.IssueKey),
				csvEscape(e.IssueSummary),
				e.Seconds,
			)
		}
	}
}

// csvEscape wraps a field in quotes if it contains a comma, quote, or newline.
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	// Escape internal double quotes by doubling them.
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
