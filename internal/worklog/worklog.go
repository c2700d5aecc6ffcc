// Package worklog runs one aggregation: it resolves the window, collects
// tracker worklogs through the first working strategy, reads the timesheet
// services alongside, and folds everything into per-user totals.
package worklog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/team-worklog/internal/aggregate"
	"github.com/Tiliavir/team-worklog/internal/jira"
	"github.com/Tiliavir/team-worklog/internal/metrics"
	"github.com/Tiliavir/team-worklog/internal/model"
	"github.com/Tiliavir/team-worklog/internal/timecalc"
	"github.com/Tiliavir/team-worklog/internal/timesheet"
)

// Tracker verifies access to the primary tracker before collection starts.
type Tracker interface {
	DetectAPIPrefix(ctx context.Context) (string, error)
	Myself(ctx context.Context) error
}

// Strategy is one way of collecting tracker worklogs. Strategies are tried
// in order and the first one that succeeds is committed.
type Strategy interface {
	Name() string
	Source() model.Source
	Collect(ctx context.Context, q jira.Query) ([]model.TimeEntry, error)
}

// Adapter reads one timesheet service.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, req timesheet.Request) ([]model.TimeEntry, timesheet.Report, error)
}

// Deps wires a Fetcher.
type Deps struct {
	Tracker    Tracker
	Strategies []Strategy
	Adapters   []Adapter
	// Location is the fixed zone all dates are evaluated in. Defaults to
	// UTC.
	Location *time.Location
	Clock    quartz.Clock
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

// Fetcher produces aggregates. It holds no per-run state and may be reused.
type Fetcher struct {
	tracker    Tracker
	strategies []Strategy
	adapters   []Adapter
	loc        *time.Location
	clock      quartz.Clock
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// New returns a Fetcher.
func New(d Deps) *Fetcher {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Clock == nil {
		d.Clock = quartz.NewReal()
	}
	return &Fetcher{
		tracker:    d.Tracker,
		strategies: d.Strategies,
		adapters:   d.Adapters,
		loc:        d.Location,
		clock:      d.Clock,
		metrics:    d.Metrics,
		log:        d.Log,
	}
}

// Request scopes one run.
type Request struct {
	Users []model.TrackedUser
	// Window is a window token understood by timecalc.ResolveWindow.
	Window string
	// TeamID is the tracker team value for the coarse legacy search.
	TeamID string
}

// Result is the outcome of one run.
type Result struct {
	RunID       string                `json:"run_id"`
	Window      model.DateWindow      `json:"-"`
	Users       []model.UserAggregate `json:"users"`
	Diagnostics Diagnostics           `json:"diagnostics"`
}

// Run aggregates the requested users over the requested window. The only
// error returned is one wrapping jira.ErrUnauthorized; every other failure
// degrades its source and is reported in Diagnostics.
func (f *Fetcher) Run(ctx context.Context, req Request) (Result, error) {
	started := f.clock.Now()
	runID := uuid.NewString()
	log := f.log.With().Str("run_id", runID).Logger()

	w := timecalc.ResolveWindow(req.Window, started.In(f.loc))
	log = log.With().Str("from", w.StartDate()).Str("to", w.EndDate()).Logger()
	res := Result{RunID: runID, Window: w}

	accounts := make([]string, 0, len(req.Users))
	for _, u := range req.Users {
		if u.AccountID != "" {
			accounts = append(accounts, u.AccountID)
		}
	}

	var errs *multierror.Error
	if err := f.checkTracker(ctx, log); err != nil {
		if errors.Is(err, jira.ErrUnauthorized) {
			f.metrics.ObserveRun("unauthorized", f.clock.Since(started))
			return Result{}, err
		}
		errs = multierror.Append(errs, err)
	}

	var (
		primary primaryOutcome
		fetched = make([]adapterOutcome, len(f.adapters))
	)
	var g errgroup.Group
	g.Go(func() error {
		primary = f.collectPrimary(ctx, jira.Query{Window: w, Accounts: accounts, TeamID: req.TeamID}, log)
		return nil
	})
	for i, a := range f.adapters {
		g.Go(func() error {
			fetched[i] = f.fetchAdapter(ctx, a, timesheet.Request{Window: w, Accounts: accounts}, log)
			return nil
		})
	}
	_ = g.Wait()

	streams := [][]model.TimeEntry{primary.entries}
	res.Diagnostics.Strategy = primary.strategy
	res.Diagnostics.FailedStrategies = primary.failed
	res.Diagnostics.Sources = append(res.Diagnostics.Sources, primary.report)
	errs = multierror.Append(errs, primary.errs...)
	for _, o := range fetched {
		streams = append(streams, o.entries)
		res.Diagnostics.Sources = append(res.Diagnostics.Sources, o.report)
		if o.err != nil {
			errs = multierror.Append(errs, o.err)
		}
	}
	res.Diagnostics.errs = errs

	res.Users = aggregate.Build(req.Users, streams...)

	f.metrics.ObserveRun("ok", f.clock.Since(started))
	log.Info().
		Int("users", len(res.Users)).
		Str("strategy", primary.strategy).
		Int("errors", len(res.Diagnostics.Errors())).
		Msg("worklog aggregation finished")
	return res, nil
}

// checkTracker detects the REST prefix and verifies the caller's own
// credentials.
func (f *Fetcher) checkTracker(ctx context.Context, log zerolog.Logger) error {
	if f.tracker == nil {
		return nil
	}
	prefix, err := f.tracker.DetectAPIPrefix(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("tracker prefix detection failed")
		return fmt.Errorf("tracker prefix: %w", err)
	}
	log.Debug().Str("prefix", prefix).Msg("tracker prefix")
	if err := f.tracker.Myself(ctx); err != nil {
		if errors.Is(err, jira.ErrUnauthorized) {
			log.Error().Err(err).Msg("tracker rejected credentials")
			return err
		}
		log.Warn().Err(err).Msg("tracker credential check failed, continuing")
		return fmt.Errorf("tracker credential check: %w", err)
	}
	return nil
}

type primaryOutcome struct {
	entries  []model.TimeEntry
	strategy string
	failed   []string
	report   SourceReport
	errs     []error
}

// collectPrimary walks the strategy chain. A failed strategy's partial
// output is discarded entirely.
func (f *Fetcher) collectPrimary(ctx context.Context, q jira.Query, log zerolog.Logger) primaryOutcome {
	out := primaryOutcome{
		strategy: StrategyNone,
		report:   SourceReport{Name: string(model.SourcePrimary), Status: StatusDegraded},
	}
	if len(f.strategies) == 0 {
		out.report.Status = StatusSkipped
		return out
	}
	for i, s := range f.strategies {
		entries, err := s.Collect(ctx, q)
		if err != nil {
			log.Warn().Err(err).Str("strategy", s.Name()).Msg("tracker strategy failed")
			out.failed = append(out.failed, s.Name())
			out.errs = append(out.errs, fmt.Errorf("%s: %w", s.Name(), err))
			if i+1 < len(f.strategies) {
				f.metrics.Fallback()
			}
			continue
		}
		out.entries = entries
		out.strategy = s.Name()
		out.report = SourceReport{Name: string(s.Source()), Status: StatusOK, Entries: len(entries)}
		break
	}
	if out.strategy == StrategyNone {
		out.report.Error = multierror.Append(nil, out.errs...).Error()
	}
	f.metrics.Source(out.report.Name, out.report.Status, out.report.Entries)
	return out
}

type adapterOutcome struct {
	entries []model.TimeEntry
	report  SourceReport
	err     error
}

func (f *Fetcher) fetchAdapter(ctx context.Context, a Adapter, req timesheet.Request, log zerolog.Logger) adapterOutcome {
	log = log.With().Str("source", a.Name()).Logger()
	entries, rep, err := a.Fetch(ctx, req)

	out := adapterOutcome{
		entries: entries,
		report: SourceReport{
			Name:            a.Name(),
			Status:          StatusOK,
			Entries:         len(entries),
			Excluded:        rep.Excluded,
			Flagged:         rep.Flagged,
			RemovedAccounts: rep.RemovedAccounts,
		},
	}
	switch {
	case errors.Is(err, timesheet.ErrNotConfigured):
		out.report.Status = StatusSkipped
		log.Debug().Msg("timesheet source not configured")
	case err != nil && len(entries) > 0:
		out.report.Status = StatusPartial
		out.report.Error = err.Error()
		out.err = fmt.Errorf("%s: %w", a.Name(), err)
		log.Warn().Err(err).Int("entries", len(entries)).Msg("timesheet source failed part way")
	case err != nil:
		out.report.Status = StatusDegraded
		out.report.Error = err.Error()
		out.err = fmt.Errorf("%s: %w", a.Name(), err)
		log.Warn().Err(err).Msg("timesheet source unavailable")
	case len(rep.RemovedAccounts) > 0 || rep.Truncated:
		out.report.Status = StatusPartial
	}
	f.metrics.Source(out.report.Name, out.report.Status, len(entries))
	f.metrics.Timelog(rep.Excluded, rep.Flagged, len(rep.RemovedAccounts))
	return out
}
