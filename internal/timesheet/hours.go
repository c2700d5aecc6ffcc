package timesheet

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Tiliavir/team-worklog/internal/httpx"
	"github.com/Tiliavir/team-worklog/internal/model"
	"github.com/Tiliavir/team-worklog/internal/timecalc"
)

// HourAdapter reads the hour-based timesheet service. The service knows
// nothing about work items, so every entry it returns is an event.
type HourAdapter struct {
	opts Options
	http *httpx.Client
	log  zerolog.Logger
}

// NewHourAdapter returns an adapter. hc may be nil.
func NewHourAdapter(opts Options, hc *http.Client, log zerolog.Logger) *HourAdapter {
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	return &HourAdapter{opts: opts, http: newHTTP(opts.Token, hc, log), log: log}
}

// Name identifies the adapter in logs and diagnostics.
func (a *HourAdapter) Name() string { return string(model.SourceTimesheet) }

// Fetch searches the window for the requested members.
func (a *HourAdapter) Fetch(ctx context.Context, req Request) ([]model.TimeEntry, Report, error) {
	var rep Report
	if !a.opts.configured() {
		return nil, rep, ErrNotConfigured
	}
	members := req.accounts()
	if len(members) == 0 {
		return nil, rep, nil
	}

	body := map[string]any{
		"members":   members,
		"startDate": req.Window.StartDate(),
		"endDate":   req.Window.EndDate(),
	}
	data, err := a.http.Do(ctx, http.MethodPost, a.opts.BaseURL+"/timelogs/search", body)
	if err != nil {
		return nil, rep, fmt.Errorf("timesheet search: %w", err)
	}
	rep.Pages = 1

	tracked := req.tracked()
	loc := req.Window.Location()
	var out []model.TimeEntry
	for _, rec := range records(data) {
		account := accountOf(rec)
		if _, ok := tracked[account]; !ok {
			continue
		}
		seconds := int64(math.Round(rec.Get("hour").Float() * 3600))
		if seconds <= 0 {
			continue
		}
		raw := rec.Get("date").String()
		day, err := timecalc.ParseDay(raw, loc)
		if err != nil {
			a.log.Debug().Err(err).Str("account", account).Msg("skipping timesheet entry")
			continue
		}
		if !req.Window.ContainsDay(day) {
			continue
		}
		summary := rec.Get("summary").String()
		out = append(out, model.TimeEntry{
			AccountID:    account,
			LoggedOn:     day,
			Seconds:      seconds,
			TimeSpent:    timecalc.FormatDuration(seconds),
			RawTimestamp: rec.Get("loggedAt").String(),
			Source:       model.SourceTimesheet,
			Category:     rec.Get("logtimeType").String(),
			Comment:      summary,
		})
	}
	return out, rep, nil
}
