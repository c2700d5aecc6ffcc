package worklog_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Tiliavir/team-worklog/internal/jira"
	"github.com/Tiliavir/team-worklog/internal/metrics"
	"github.com/Tiliavir/team-worklog/internal/model"
	"github.com/Tiliavir/team-worklog/internal/timesheet"
	"github.com/Tiliavir/team-worklog/internal/worklog"
)

type stubTracker struct {
	myselfErr error
	calls     atomic.Int32
}

func (s *stubTracker) DetectAPIPrefix(context.Context) (string, error) { return "/rest/api/3", nil }

func (s *stubTracker) Myself(context.Context) error {
	s.calls.Add(1)
	return s.myselfErr
}

type stubStrategy struct {
	name    string
	source  model.Source
	entries []model.TimeEntry
	err     error
	calls   atomic.Int32
	gotQ    jira.Query
}

func (s *stubStrategy) Name() string         { return s.name }
func (s *stubStrategy) Source() model.Source { return s.source }

func (s *stubStrategy) Collect(_ context.Context, q jira.Query) ([]model.TimeEntry, error) {
	s.calls.Add(1)
	s.gotQ = q
	if s.err != nil {
		// Partial output from a failing strategy must never be used.
		return s.entries, s.err
	}
	return s.entries, nil
}

type stubAdapter struct {
	name    string
	entries []model.TimeEntry
	report  timesheet.Report
	err     error
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Fetch(context.Context, timesheet.Request) ([]model.TimeEntry, timesheet.Report, error) {
	return s.entries, s.report, s.err
}

// now is Friday 2026-10-16 12:00 UTC.
func mockClock(t *testing.T) *quartz.Mock {
	clk := quartz.NewMock(t)
	clk.Set(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))
	return clk
}

var users = []model.TrackedUser{
	{ID: 1, DisplayName: "Ann", AccountID: "acc-u"},
	{ID: 2, DisplayName: "Bob", AccountID: "acc-v"},
}

func day(d int) time.Time { return time.Date(2026, 10, d, 0, 0, 0, 0, time.UTC) }

func ref(id int64) *int64 { return &id }

func entry(acc string, d int, secs int64, src model.Source) model.TimeEntry {
	return model.TimeEntry{AccountID: acc, LoggedOn: day(d), Seconds: secs, Source: src}
}

func TestRun_IssueAndEventExample(t *testing.T) {
	feedEntry := entry("acc-u", 15, 3600, model.SourcePrimary)
	feedEntry.IssueKey = "ABC-1"
	feedEntry.IssueRefID = ref(10001)
	feed := &stubStrategy{name: "feed", source: model.SourcePrimary, entries: []model.TimeEntry{feedEntry}}
	linked := entry("acc-u", 15, 3600, model.SourceTimelog)
	linked.IssueRefID = ref(10001)
	timelog := &stubAdapter{name: "timesheet_b", entries: []model.TimeEntry{
		entry("acc-u", 15, 1800, model.SourceTimelog),
		linked,
	}}

	f := worklog.New(worklog.Deps{
		Tracker:    &stubTracker{},
		Strategies: []worklog.Strategy{feed},
		Adapters:   []worklog.Adapter{timelog},
		Clock:      mockClock(t),
		Log:        zerolog.Nop(),
	})
	res, err := f.Run(context.Background(), worklog.Request{Users: users, Window: "yesterday"})
	require.NoError(t, err)

	assert.Equal(t, "2026-10-15", res.Window.StartDate())
	assert.Equal(t, "2026-10-15", res.Window.EndDate())
	assert.NotEmpty(t, res.RunID)

	require.Len(t, res.Users, 2)
	u := res.Users[0]
	assert.Equal(t, "acc-u", u.AccountID)
	assert.EqualValues(t, 5400, u.TotalSeconds)
	require.Len(t, u.Entries, 2)
	assert.Equal(t, "ABC-1", u.Entries[0].IssueKey)
	assert.Equal(t, "", u.Entries[1].IssueKey)
	assert.Zero(t, res.Users[1].TotalSeconds)

	assert.Equal(t, "feed", res.Diagnostics.Strategy)
	assert.NoError(t, res.Diagnostics.Err())
	assert.Equal(t, []string{"acc-u", "acc-v"}, feed.gotQ.Accounts)
}

func TestRun_FallbackDiscardsFailedStrategy(t *testing.T) {
	feed := &stubStrategy{
		name: "feed", source: model.SourcePrimary,
		entries: []model.TimeEntry{entry("acc-u", 15, 9999, model.SourcePrimary)},
		err:     errors.New("feed unsupported"),
	}
	legacy := &stubStrategy{
		name: "legacy", source: model.SourceLegacy,
		entries: []model.TimeEntry{entry("acc-v", 15, 600, model.SourceLegacy)},
	}
	reg := prometheus.NewRegistry()

	f := worklog.New(worklog.Deps{
		Tracker:    &stubTracker{},
		Strategies: []worklog.Strategy{feed, legacy},
		Clock:      mockClock(t),
		Metrics:    metrics.New(reg),
		Log:        zerolog.Nop(),
	})
	res, err := f.Run(context.Background(), worklog.Request{Users: users, Window: "today", TeamID: "team-1"})
	require.NoError(t, err)

	assert.Equal(t, "legacy", res.Diagnostics.Strategy)
	assert.Equal(t, []string{"feed"}, res.Diagnostics.FailedStrategies)
	assert.Equal(t, "team-1", legacy.gotQ.TeamID)

	require.Len(t, res.Users, 2)
	assert.Equal(t, "acc-v", res.Users[0].AccountID)
	assert.EqualValues(t, 600, res.Users[0].TotalSeconds)
	assert.Zero(t, res.Users[1].TotalSeconds, "failed strategy's entries are not merged")

	src, ok := res.Diagnostics.Source(string(model.SourceLegacy))
	require.True(t, ok)
	assert.Equal(t, worklog.StatusOK, src.Status)
	require.Len(t, res.Diagnostics.Errors(), 1)

	count, err := testutil.GatherAndCount(reg, "twl_primary_fallbacks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRun_AllStrategiesFail(t *testing.T) {
	feed := &stubStrategy{name: "feed", source: model.SourcePrimary, err: errors.New("no feed")}
	legacy := &stubStrategy{name: "legacy", source: model.SourceLegacy, err: errors.New("no search")}
	hours := &stubAdapter{name: "timesheet_a", entries: []model.TimeEntry{entry("acc-u", 16, 1200, model.SourceTimesheet)}}

	f := worklog.New(worklog.Deps{
		Tracker:    &stubTracker{},
		Strategies: []worklog.Strategy{feed, legacy},
		Adapters:   []worklog.Adapter{hours},
		Clock:      mockClock(t),
		Log:        zerolog.Nop(),
	})
	res, err := f.Run(context.Background(), worklog.Request{Users: users, Window: "today"})
	require.NoError(t, err)

	assert.Equal(t, worklog.StrategyNone, res.Diagnostics.Strategy)
	assert.Equal(t, worklog.StatusDegraded, res.Diagnostics.Sources[0].Status)
	assert.Contains(t, res.Diagnostics.Sources[0].Error, "no search")
	assert.EqualValues(t, 1200, res.Users[0].TotalSeconds)
	assert.Len(t, res.Diagnostics.Errors(), 2)
}

func TestRun_UnauthorizedIsFatal(t *testing.T) {
	feed := &stubStrategy{name: "feed", source: model.SourcePrimary}
	tracker := &stubTracker{myselfErr: fmt.Errorf("%w: 401", jira.ErrUnauthorized)}

	f := worklog.New(worklog.Deps{
		Tracker:    tracker,
		Strategies: []worklog.Strategy{feed},
		Clock:      mockClock(t),
		Log:        zerolog.Nop(),
	})
	_, err := f.Run(context.Background(), worklog.Request{Users: users, Window: "today"})
	require.ErrorIs(t, err, jira.ErrUnauthorized)
	assert.Zero(t, feed.calls.Load(), "nothing runs after a credential failure")
}

func TestRun_OtherTrackerCheckErrorsDegrade(t *testing.T) {
	feed := &stubStrategy{name: "feed", source: model.SourcePrimary}
	f := worklog.New(worklog.Deps{
		Tracker:    &stubTracker{myselfErr: errors.New("timeout")},
		Strategies: []worklog.Strategy{feed},
		Clock:      mockClock(t),
		Log:        zerolog.Nop(),
	})
	res, err := f.Run(context.Background(), worklog.Request{Users: users, Window: "today"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, feed.calls.Load())
	assert.Len(t, res.Diagnostics.Errors(), 1)
}

func TestRun_AdapterStatuses(t *testing.T) {
	feed := &stubStrategy{name: "feed", source: model.SourcePrimary}
	skipped := &stubAdapter{name: "timesheet_a", err: timesheet.ErrNotConfigured}
	partial := &stubAdapter{
		name:    "timesheet_b",
		entries: []model.TimeEntry{entry("acc-u", 16, 300, model.SourceTimelog)},
		report:  timesheet.Report{Excluded: 2, Flagged: 1},
		err:     errors.New("page 2 rejected"),
	}

	f := worklog.New(worklog.Deps{
		Tracker:    &stubTracker{},
		Strategies: []worklog.Strategy{feed},
		Adapters:   []worklog.Adapter{skipped, partial},
		Clock:      mockClock(t),
		Log:        zerolog.Nop(),
	})
	res, err := f.Run(context.Background(), worklog.Request{Users: users, Window: "today"})
	require.NoError(t, err)

	a, ok := res.Diagnostics.Source("timesheet_a")
	require.True(t, ok)
	assert.Equal(t, worklog.StatusSkipped, a.Status)

	b, ok := res.Diagnostics.Source("timesheet_b")
	require.True(t, ok)
	assert.Equal(t, worklog.StatusPartial, b.Status)
	assert.Equal(t, 2, b.Excluded)
	assert.Equal(t, 1, b.Flagged)
	assert.EqualValues(t, 300, res.Users[0].TotalSeconds, "entries read before the failure still count")
	assert.Len(t, res.Diagnostics.Errors(), 1, "unconfigured sources are not errors")
}

func TestRun_Idempotent(t *testing.T) {
	feed := &stubStrategy{name: "feed", source: model.SourcePrimary, entries: []model.TimeEntry{
		entry("acc-v", 16, 600, model.SourcePrimary),
		entry("acc-u", 16, 600, model.SourcePrimary),
	}}
	hours := &stubAdapter{name: "timesheet_a", entries: []model.TimeEntry{entry("acc-u", 16, 60, model.SourceTimesheet)}}

	f := worklog.New(worklog.Deps{
		Tracker:    &stubTracker{},
		Strategies: []worklog.Strategy{feed},
		Adapters:   []worklog.Adapter{hours},
		Clock:      mockClock(t),
		Log:        zerolog.Nop(),
	})
	req := worklog.Request{Users: users, Window: "3"}
	first, err := f.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := f.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Users, second.Users)
	assert.Equal(t, first.Window, second.Window)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_WindowUsesLocation(t *testing.T) {
	loc := time.FixedZone("MSK", 3*3600)
	clk := quartz.NewMock(t)
	// Sunday 22:30 UTC is already Monday in MSK.
	clk.Set(time.Date(2026, 10, 11, 22, 30, 0, 0, time.UTC))

	feed := &stubStrategy{name: "feed", source: model.SourcePrimary}
	f := worklog.New(worklog.Deps{
		Strategies: []worklog.Strategy{feed},
		Clock:      clk,
		Location:   loc,
		Log:        zerolog.Nop(),
	})
	res, err := f.Run(context.Background(), worklog.Request{Users: users, Window: "previous_workday"})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-09", res.Window.StartDate())
	assert.Equal(t, "2026-10-09", res.Window.EndDate())
	assert.Equal(t, loc, res.Window.Location())
}

func TestDiagnostics_MarshalJSON(t *testing.T) {
	feed := &stubStrategy{name: "feed", source: model.SourcePrimary, err: errors.New("boom")}
	f := worklog.New(worklog.Deps{Strategies: []worklog.Strategy{feed}, Clock: mockClock(t), Log: zerolog.Nop()})
	res, err := f.Run(context.Background(), worklog.Request{Users: users, Window: "today"})
	require.NoError(t, err)

	data, err := res.Diagnostics.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "none", gjson.GetBytes(data, "strategy").String())
	assert.Equal(t, "feed: boom", gjson.GetBytes(data, "errors.0").String())
	assert.Equal(t, "degraded", gjson.GetBytes(data, "sources.0.status").String())
}
