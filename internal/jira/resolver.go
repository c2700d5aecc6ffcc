package jira

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Tiliavir/team-worklog/internal/workpool"
)

// IssueMeta is the human-facing identity of a work item.
type IssueMeta struct {
	Key     string
	Summary string
}

type titleFetcher interface {
	IssueTitle(ctx context.Context, ref string) (key, summary string, err error)
}

// Resolver maps issue refs to keys and summaries with bounded concurrency.
type Resolver struct {
	client  titleFetcher
	workers int
	log     zerolog.Logger
}

// NewResolver returns a Resolver issuing at most workers lookups at a time.
func NewResolver(client titleFetcher, workers int, log zerolog.Logger) *Resolver {
	return &Resolver{client: client, workers: workers, log: log}
}

// Resolve looks up every distinct ref once. The table is keyed by
// IssueRef.String(). A failed lookup degrades to the ref itself as both key
// and summary.
func (r *Resolver) Resolve(ctx context.Context, refs []IssueRef) map[string]IssueMeta {
	seen := make(map[string]struct{}, len(refs))
	var keys []string
	for _, ref := range refs {
		s := ref.String()
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		keys = append(keys, s)
	}

	table := make(map[string]IssueMeta, len(keys))
	results := workpool.Run(ctx, r.workers, keys, func(ctx context.Context, ref string) (IssueMeta, error) {
		key, summary, err := r.client.IssueTitle(ctx, ref)
		return IssueMeta{Key: key, Summary: summary}, err
	})
	for _, res := range results {
		if res.Err != nil {
			r.log.Debug().Err(res.Err).Str("ref", res.Key).Msg("issue lookup failed, using ref")
			table[res.Key] = IssueMeta{Key: res.Key, Summary: res.Key}
			continue
		}
		table[res.Key] = res.Value
	}
	return table
}
