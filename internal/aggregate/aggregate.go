// Package aggregate folds normalized entries from every source into per-user
// totals.
package aggregate

import (
	"sort"

	"github.com/Tiliavir/team-worklog/internal/model"
)

// Build returns one aggregate per tracked user, sorted by total descending
// with ties kept in directory order. Entries are appended in stream order.
// When users share an account id, its entries go to the first of them.
// Entries of unknown accounts, non-positive durations and issue-linked
// timelog entries are ignored.
func Build(users []model.TrackedUser, streams ...[]model.TimeEntry) []model.UserAggregate {
	out := make([]model.UserAggregate, 0, len(users))
	index := make(map[string]int, len(users))
	for _, u := range users {
		if _, dup := index[u.AccountID]; u.AccountID != "" && !dup {
			index[u.AccountID] = len(out)
		}
		out = append(out, model.UserAggregate{
			UserID:      u.ID,
			DisplayName: u.Name(),
			AccountID:   u.AccountID,
			Entries:     []model.TimeEntry{},
		})
	}

	for _, stream := range streams {
		for _, e := range stream {
			if !counts(e) {
				continue
			}
			i, ok := index[e.AccountID]
			if !ok {
				continue
			}
			out[i].TotalSeconds += e.Seconds
			out[i].Entries = append(out[i].Entries, e)
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].TotalSeconds > out[b].TotalSeconds
	})
	return out
}

func counts(e model.TimeEntry) bool {
	if e.Seconds <= 0 {
		return false
	}
	// The primary tracker already counts issue-linked timelog time.
	if e.Source == model.SourceTimelog && e.IssueRefID != nil {
		return false
	}
	return true
}
