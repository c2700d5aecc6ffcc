package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/Tiliavir/team-worklog/internal/config"
	"github.com/Tiliavir/team-worklog/internal/jira"
	"github.com/Tiliavir/team-worklog/internal/metrics"
	"github.com/Tiliavir/team-worklog/internal/timesheet"
	"github.com/Tiliavir/team-worklog/internal/worklog"
)

const httpTimeout = 60 * time.Second

// jiraLimits overlays the configured limits on the defaults.
func jiraLimits(c config.JiraConfig) jira.Limits {
	l := jira.DefaultLimits()
	if c.Workers > 0 {
		l.Workers = c.Workers
	}
	if c.SinceMarginHours > 0 {
		l.SinceMargin = time.Duration(c.SinceMarginHours) * time.Hour
	}
	if c.MaxFeedPages > 0 {
		l.MaxFeedPages = c.MaxFeedPages
	}
	if c.BatchSize > 0 {
		l.BatchSize = c.BatchSize
	}
	if c.MaxLegacyUsers > 0 {
		l.MaxLegacyUsers = c.MaxLegacyUsers
	}
	if c.MaxLegacyIssues > 0 {
		l.MaxLegacyIssues = c.MaxLegacyIssues
	}
	if c.TeamField != "" {
		l.TeamField = c.TeamField
	}
	return l
}

// newFetcher wires the tracker strategies and the enabled timesheet adapters.
func newFetcher(c config.Config, clock quartz.Clock, m *metrics.Metrics, log zerolog.Logger) (*worklog.Fetcher, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	if c.Jira.BaseURL == "" {
		return nil, fmt.Errorf("tracker base URL missing: set jira.base_url or %s", config.EnvJiraBaseURL)
	}
	hc := &http.Client{Timeout: httpTimeout}

	client := jira.NewClient(jira.Options{
		BaseURL:   c.Jira.BaseURL,
		Email:     c.Jira.Email,
		Token:     c.Secrets.JiraToken,
		APIPrefix: c.Jira.APIPrefix,
	}, hc, log.With().Str("source", "jira").Logger())
	limits := jiraLimits(c.Jira)

	var adapters []worklog.Adapter
	if !c.Timesheet.Disabled {
		adapters = append(adapters, timesheet.NewHourAdapter(timesheet.Options{
			BaseURL: c.Timesheet.BaseURL,
			Token:   c.Secrets.TimesheetToken,
		}, hc, log))
	}
	if !c.Timelog.Disabled {
		tl := timesheet.NewTimelogAdapter(timesheet.Options{
			BaseURL: c.Timelog.BaseURL,
			Token:   c.Secrets.TimelogToken,
		}, hc, log)
		if c.Timelog.PageSize > 0 {
			tl.PageSize = c.Timelog.PageSize
		}
		if c.Timelog.MaxPages > 0 {
			tl.MaxPages = c.Timelog.MaxPages
		}
		adapters = append(adapters, tl)
	}

	return worklog.New(worklog.Deps{
		Tracker: client,
		Strategies: []worklog.Strategy{
			jira.NewFeedCollector(client, limits, log),
			jira.NewLegacyCollector(client, limits, log),
		},
		Adapters: adapters,
		Location: loc,
		Clock:    clock,
		Metrics:  m,
		Log:      log,
	}), nil
}

func teamRequest(team config.Team, window string) worklog.Request {
	return worklog.Request{Users: team.Members, Window: window, TeamID: team.TrackerTeamID}
}
