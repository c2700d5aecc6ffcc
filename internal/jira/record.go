package jira

import (
	"github.com/tidwall/gjson"

	"github.com/Tiliavir/team-worklog/internal/model"
	"github.com/Tiliavir/team-worklog/internal/richtext"
	"github.com/Tiliavir/team-worklog/internal/timecalc"
)

// Query scopes one collection run.
type Query struct {
	Window model.DateWindow
	// Accounts are the tracked account ids in directory order.
	Accounts []string
	// TeamID is the tracker team value used by the coarse legacy search.
	TeamID string
}

func (q Query) tracked() map[string]struct{} {
	m := make(map[string]struct{}, len(q.Accounts))
	for _, a := range q.Accounts {
		if a != "" {
			m[a] = struct{}{}
		}
	}
	return m
}

// toEntry filters a raw worklog record by author membership, logged date and
// duration, and converts the survivors. Issue fields are left for the caller.
func toEntry(rec gjson.Result, tracked map[string]struct{}, w model.DateWindow, source model.Source) (model.TimeEntry, bool) {
	account := rec.Get("author.accountId").String()
	if account == "" {
		return model.TimeEntry{}, false
	}
	if _, ok := tracked[account]; !ok {
		return model.TimeEntry{}, false
	}

	started := rec.Get("started").String()
	at, err := timecalc.ParseStarted(started)
	if err != nil {
		return model.TimeEntry{}, false
	}
	if !w.ContainsDay(at) {
		return model.TimeEntry{}, false
	}

	seconds := rec.Get("timeSpentSeconds").Int()
	if seconds <= 0 {
		return model.TimeEntry{}, false
	}

	return model.TimeEntry{
		AccountID:    account,
		LoggedOn:     timecalc.StartOfDay(at.In(w.Location())),
		Seconds:      seconds,
		TimeSpent:    rec.Get("timeSpent").String(),
		RawTimestamp: started,
		Source:       source,
		Comment:      richtext.Flatten(rec.Get("comment")),
	}, true
}

func setIssue(e *model.TimeEntry, ref IssueRef, meta IssueMeta) {
	if ref.Kind == RefNumeric {
		id := ref.ID
		e.IssueRefID = &id
	}
	e.IssueKey = meta.Key
	e.IssueSummary = meta.Summary
}
