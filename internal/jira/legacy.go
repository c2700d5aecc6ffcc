package jira

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/Tiliavir/team-worklog/internal/model"
	"github.com/Tiliavir/team-worklog/internal/workpool"
)

var searchFields = []string{"key", "summary"}

// LegacyCollector discovers candidate issues through JQL search and reads
// each issue's worklog individually. It is slower than the change feed and
// only used when the feed is unavailable.
type LegacyCollector struct {
	client *Client
	limits Limits
	log    zerolog.Logger
}

// NewLegacyCollector returns a LegacyCollector.
func NewLegacyCollector(c *Client, limits Limits, log zerolog.Logger) *LegacyCollector {
	return &LegacyCollector{client: c, limits: limits, log: log}
}

// Name identifies the strategy in logs and diagnostics.
func (l *LegacyCollector) Name() string { return "legacy" }

// Source is the entry source this collector produces.
func (l *LegacyCollector) Source() model.Source { return model.SourceLegacy }

// Collect returns all tracked users' entries logged within q.Window.
func (l *LegacyCollector) Collect(ctx context.Context, q Query) ([]model.TimeEntry, error) {
	keys := l.discoverByAuthor(ctx, q)
	if len(keys) == 0 {
		if q.TeamID == "" {
			l.log.Debug().Msg("no issues by author and no tracker team id, nothing logged")
			return []model.TimeEntry{}, nil
		}
		teamKeys, err := l.discoverByTeam(ctx, q)
		if err != nil && len(teamKeys) == 0 {
			return nil, fmt.Errorf("legacy discovery: %w", err)
		}
		if err != nil {
			l.log.Warn().Err(err).Int("issues", len(teamKeys)).Msg("team search incomplete")
		}
		keys = teamKeys
	}
	if len(keys) > l.limits.MaxLegacyIssues {
		l.log.Warn().Int("found", len(keys)).Int("cap", l.limits.MaxLegacyIssues).Msg("too many issues, truncating")
		keys = keys[:l.limits.MaxLegacyIssues]
	}

	type issueLogs struct {
		logs    []gjson.Result
		summary string
	}
	fetched := workpool.Collect(ctx, l.limits.Workers, keys, func(ctx context.Context, key string) (issueLogs, error) {
		logs, err := l.client.IssueWorklogs(ctx, key, l.limits.MaxWorklogPages)
		if err != nil {
			return issueLogs{}, err
		}
		_, summary, err := l.client.IssueTitle(ctx, key)
		if err != nil {
			summary = key
		}
		return issueLogs{logs: logs, summary: summary}, nil
	})

	tracked := q.tracked()
	var out []model.TimeEntry
	for _, key := range keys {
		res := fetched[key]
		if res.Err != nil {
			l.log.Debug().Err(res.Err).Str("issue", key).Msg("worklog fetch failed, skipping issue")
			continue
		}
		for _, rec := range res.Value.logs {
			e, ok := toEntry(rec, tracked, q.Window, model.SourceLegacy)
			if !ok {
				continue
			}
			ref := ExtractIssueRef(rec)
			if ref.Kind != RefNumeric {
				ref = TextualRef(key)
			}
			setIssue(&e, ref, IssueMeta{Key: key, Summary: res.Value.summary})
			out = append(out, e)
		}
	}
	return out, nil
}

// discoverByAuthor asks, per tracked user, which issues they logged time on
// within the window. A failing user contributes nothing.
func (l *LegacyCollector) discoverByAuthor(ctx context.Context, q Query) []string {
	accounts := q.Accounts
	if len(accounts) > l.limits.MaxLegacyUsers {
		accounts = accounts[:l.limits.MaxLegacyUsers]
	}
	set := newOrderedSet()
	for _, account := range accounts {
		if account == "" {
			continue
		}
		jql := fmt.Sprintf(`worklogAuthor = "%s" AND worklogDate >= "%s" AND worklogDate <= "%s"`,
			account, q.Window.StartDate(), q.Window.EndDate())
		if err := l.search(ctx, jql, 1+l.limits.UserExtraPages, set); err != nil {
			l.log.Debug().Err(err).Str("account", account).Msg("worklog author search failed")
		}
	}
	return set.items
}

// discoverByTeam lists every issue of the tracked team, without an author
// filter.
func (l *LegacyCollector) discoverByTeam(ctx context.Context, q Query) ([]string, error) {
	fields, err := l.client.Fields(ctx)
	if err != nil {
		return nil, err
	}
	fieldID, err := FindFieldID(fields, l.limits.TeamField)
	if err != nil {
		return nil, err
	}
	set := newOrderedSet()
	jql := fmt.Sprintf(`"%s" = "%s"`, fieldID, q.TeamID)
	err = l.search(ctx, jql, l.limits.MaxTeamPages, set)
	return set.items, err
}

func (l *LegacyCollector) search(ctx context.Context, jql string, maxPages int, set *orderedSet) error {
	token := ""
	for page := 0; page < maxPages; page++ {
		res, err := l.client.SearchJQL(ctx, jql, searchFields, l.limits.SearchPageSize, token)
		if err != nil {
			return err
		}
		if len(res.Keys) == 0 {
			return nil
		}
		for _, k := range res.Keys {
			set.add(k)
		}
		if res.NextPageToken == "" {
			return nil
		}
		token = res.NextPageToken
	}
	return nil
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}
