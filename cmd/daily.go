package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/team-worklog/internal/config"
	"github.com/Tiliavir/team-worklog/internal/metrics"
	"github.com/Tiliavir/team-worklog/internal/model"
	"github.com/Tiliavir/team-worklog/internal/storage"
	"github.com/Tiliavir/team-worklog/internal/timecalc"
	"github.com/Tiliavir/team-worklog/internal/worklog"
)

var (
	dailyTeam        string
	dailyOnce        bool
	dailyForce       bool
	dailyMetricsAddr string
	dailyNoArchive   bool
)

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Print the daily team summary on a schedule",
	Long: `daily builds one summary per team ("N. Name - H.h ч") for the configured
window and prints it to stdout. Without --once it keeps running and fires on
the configured cron schedule. Weekends in the configured zone are skipped
unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runDaily,
}

func init() {
	dailyCmd.Flags().StringVar(&dailyTeam, "team", "", "Only summarise this team (default: all teams)")
	dailyCmd.Flags().BoolVar(&dailyOnce, "once", false, "Run once now and exit")
	dailyCmd.Flags().BoolVar(&dailyForce, "force", false, "Run on weekends too")
	dailyCmd.Flags().StringVar(&dailyMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102")
	dailyCmd.Flags().BoolVar(&dailyNoArchive, "no-archive", false, "Do not keep the summary in ~/.twl/archive")
}

func runDaily(cmd *cobra.Command, args []string) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	teams := cfg.Teams
	if dailyTeam != "" {
		t, err := cfg.Team(dailyTeam)
		if err != nil {
			return err
		}
		teams = []config.Team{t}
	}
	if len(teams) == 0 {
		return errors.New("no teams configured")
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	clock := quartz.NewReal()
	f, err := newFetcher(cfg, clock, m, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dailyMetricsAddr != "" {
		srv := &http.Server{
			Addr:              dailyMetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", dailyMetricsAddr).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	archive := ""
	if !dailyNoArchive {
		if archive, err = storage.BaseDir(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	job := func() {
		now := clock.Now().In(loc)
		if !dailyForce && timecalc.IsWeekend(now) {
			logger.Info().Str("day", now.Weekday().String()).Msg("weekend, skipping daily summary")
			return
		}
		text, err := dailyRun(ctx, f, teams, cfg.Daily.Window, archive)
		if err != nil {
			logger.Error().Err(err).Msg("daily summary failed")
			return
		}
		fmt.Fprintln(out, text)
	}

	if dailyOnce {
		job()
		return nil
	}

	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	if _, err := c.AddFunc(cfg.Daily.Schedule, job); err != nil {
		return fmt.Errorf("daily schedule %q: %w", cfg.Daily.Schedule, err)
	}
	logger.Info().Str("schedule", cfg.Daily.Schedule).Str("timezone", loc.String()).Msg("daily summary scheduled")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// dailyRun aggregates every team and joins their summaries. A credential
// failure stops the run; it would fail the same way for every team. With a
// non-empty archive each team's result is stored under the window's last
// date.
func dailyRun(ctx context.Context, f *worklog.Fetcher, teams []config.Team, window, archive string) (string, error) {
	blocks := make([]string, 0, len(teams))
	for _, t := range teams {
		res, err := f.Run(ctx, teamRequest(t, window))
		if err != nil {
			return "", fmt.Errorf("team %s: %w", t.Name, err)
		}
		blocks = append(blocks, summaryText(t.Name, res.Users))
		if archive == "" {
			continue
		}
		rec := storage.TeamRecord{
			Team:     t.Name,
			RunID:    res.RunID,
			Strategy: res.Diagnostics.Strategy,
			SavedAt:  time.Now(),
			Users:    res.Users,
		}
		if err := storage.PutTeam(archive, res.Window.End, rec); err != nil {
			logger.Warn().Err(err).Str("team", t.Name).Msg("could not archive summary")
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

const noTimeLogged = "За вчера списаний нет."

// summaryText renders one team block. Users are listed in aggregate order.
func summaryText(team string, users []model.UserAggregate) string {
	var b strings.Builder
	b.WriteString(team)
	if len(users) == 0 {
		b.WriteString("\n" + noTimeLogged)
		return b.String()
	}
	for i, u := range users {
		fmt.Fprintf(&b, "\n%d. %s - %.1f ч", i+1, summaryName(u), u.TotalHours())
	}
	return b.String()
}

func summaryName(u model.UserAggregate) string {
	if name := strings.TrimSpace(u.DisplayName); name != "" {
		return name
	}
	return "Неизвестный сотрудник"
}
