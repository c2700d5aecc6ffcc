package jira

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/Tiliavir/team-worklog/internal/model"
)

// Limits caps the work any collector does against the tracker.
type Limits struct {
	// SinceMargin is subtracted from the window start to form the feed
	// cursor. The feed indexes by last edit, not by logged date.
	SinceMargin  time.Duration
	MaxFeedPages int
	// BatchSize is the most ids sent in one hydrate call.
	BatchSize int
	Workers   int

	MaxLegacyUsers  int
	UserExtraPages  int
	SearchPageSize  int
	MaxTeamPages    int
	MaxLegacyIssues int
	MaxWorklogPages int
	TeamField       string
}

// DefaultLimits returns the production limits.
func DefaultLimits() Limits {
	return Limits{
		SinceMargin:     48 * time.Hour,
		MaxFeedPages:    200,
		BatchSize:       1000,
		Workers:         10,
		MaxLegacyUsers:  20,
		UserExtraPages:  5,
		SearchPageSize:  200,
		MaxTeamPages:    50,
		MaxLegacyIssues: 300,
		MaxWorklogPages: 10,
		TeamField:       "TEAM",
	}
}

// FeedCollector collects worklogs through the incremental change feed and a
// batch hydrate. Any failure aborts the whole collection.
type FeedCollector struct {
	client   *Client
	resolver *Resolver
	limits   Limits
	log      zerolog.Logger
}

// NewFeedCollector returns a FeedCollector.
func NewFeedCollector(c *Client, limits Limits, log zerolog.Logger) *FeedCollector {
	return &FeedCollector{
		client:   c,
		resolver: NewResolver(c, limits.Workers, log),
		limits:   limits,
		log:      log,
	}
}

// Name identifies the strategy in logs and diagnostics.
func (f *FeedCollector) Name() string { return "feed" }

// Source is the entry source this collector produces.
func (f *FeedCollector) Source() model.Source { return model.SourcePrimary }

// Collect returns all tracked users' entries logged within q.Window.
func (f *FeedCollector) Collect(ctx context.Context, q Query) ([]model.TimeEntry, error) {
	since := q.Window.Start.Add(-f.limits.SinceMargin).UnixMilli()
	ids, err := f.changedIDs(ctx, since)
	if err != nil {
		return nil, err
	}
	f.log.Debug().Int("ids", len(ids)).Int64("since", since).Msg("change feed read")

	records, err := f.hydrate(ctx, ids)
	if err != nil {
		return nil, err
	}

	tracked := q.tracked()
	type pending struct {
		entry model.TimeEntry
		ref   IssueRef
	}
	var (
		kept []pending
		refs []IssueRef
	)
	for _, rec := range records {
		e, ok := toEntry(rec, tracked, q.Window, model.SourcePrimary)
		if !ok {
			continue
		}
		ref := ExtractIssueRef(rec)
		kept = append(kept, pending{entry: e, ref: ref})
		if !ref.IsZero() {
			refs = append(refs, ref)
		}
	}

	meta := f.resolver.Resolve(ctx, refs)
	out := make([]model.TimeEntry, 0, len(kept))
	for _, p := range kept {
		if !p.ref.IsZero() {
			setIssue(&p.entry, p.ref, meta[p.ref.String()])
		}
		out = append(out, p.entry)
	}
	return out, nil
}

// changedIDs walks the change feed from since. The loop ends on the last
// page, on a cursor that fails to advance, or at MaxFeedPages.
func (f *FeedCollector) changedIDs(ctx context.Context, since int64) ([]int64, error) {
	cursor := since
	seen := make(map[int64]struct{})
	var ids []int64
	for i := 0; i < f.limits.MaxFeedPages; i++ {
		page, err := f.client.UpdatedWorklogs(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, id := range page.IDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if page.LastPage {
			return ids, nil
		}
		if page.Until <= cursor {
			f.log.Warn().Int64("cursor", cursor).Int64("until", page.Until).Msg("change feed cursor did not advance")
			return ids, nil
		}
		cursor = page.Until
	}
	f.log.Warn().Int("pages", f.limits.MaxFeedPages).Msg("change feed page cap reached")
	return ids, nil
}

func (f *FeedCollector) hydrate(ctx context.Context, ids []int64) ([]gjson.Result, error) {
	size := f.limits.BatchSize
	if size <= 0 {
		size = 1000
	}
	var out []gjson.Result
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		recs, err := f.client.WorklogsByIDs(ctx, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("hydrating ids %d..%d: %w", start, end, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}
