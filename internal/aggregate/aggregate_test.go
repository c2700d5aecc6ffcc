package aggregate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/team-worklog/internal/aggregate"
	"github.com/Tiliavir/team-worklog/internal/model"
)

var day = time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC)

func ref(id int64) *int64 { return &id }

func TestBuild_IssueAndEvent(t *testing.T) {
	users := []model.TrackedUser{{ID: 1, DisplayName: "Ann", AccountID: "acc-u"}}
	primary := []model.TimeEntry{{
		AccountID: "acc-u", IssueKey: "ABC-1", IssueRefID: ref(10001),
		LoggedOn: day, Seconds: 3600, Source: model.SourcePrimary,
	}}
	timelog := []model.TimeEntry{{
		AccountID: "acc-u", LoggedOn: day, Seconds: 1800, Source: model.SourceTimelog,
	}}

	got := aggregate.Build(users, primary, timelog)
	require.Len(t, got, 1)
	assert.EqualValues(t, 5400, got[0].TotalSeconds)
	assert.InDelta(t, 1.5, got[0].TotalHours(), 1e-9)
	require.Len(t, got[0].Entries, 2)
	assert.Equal(t, "ABC-1", got[0].Entries[0].IssueKey)
	assert.Equal(t, "", got[0].Entries[1].IssueKey)
}

func TestBuild_ZeroInitAndSort(t *testing.T) {
	users := []model.TrackedUser{
		{ID: 1, DisplayName: "Ann", AccountID: "a"},
		{ID: 2, AccountID: "b"},
		{ID: 3, DisplayName: "Cid", AccountID: "c"},
		{ID: 4, DisplayName: "Dee", AccountID: "d"},
	}
	entries := []model.TimeEntry{
		{AccountID: "c", Seconds: 600, Source: model.SourcePrimary},
		{AccountID: "a", Seconds: 300, Source: model.SourcePrimary},
		{AccountID: "d", Seconds: 600, Source: model.SourceTimesheet},
		{AccountID: "stranger", Seconds: 9999, Source: model.SourcePrimary},
		{AccountID: "a", Seconds: 0, Source: model.SourcePrimary},
		{AccountID: "a", Seconds: 1200, Source: model.SourceTimelog, IssueRefID: ref(7)},
	}

	got := aggregate.Build(users, entries)
	require.Len(t, got, 4)
	var order []string
	for _, g := range got {
		order = append(order, g.AccountID)
	}
	assert.Equal(t, []string{"c", "d", "a", "b"}, order, "ties keep directory order")
	assert.EqualValues(t, 300, got[2].TotalSeconds)
	assert.Len(t, got[2].Entries, 1)

	assert.Equal(t, "b", got[3].DisplayName, "display name falls back to account id")
	assert.Zero(t, got[3].TotalSeconds)
	assert.NotNil(t, got[3].Entries)
}

func TestBuild_TotalsEqualEntrySums(t *testing.T) {
	users := []model.TrackedUser{{ID: 1, AccountID: "a"}, {ID: 2, AccountID: "b"}}
	var entries []model.TimeEntry
	for i := int64(1); i <= 50; i++ {
		acc := "a"
		if i%3 == 0 {
			acc = "b"
		}
		entries = append(entries, model.TimeEntry{AccountID: acc, Seconds: i * 37, Source: model.SourcePrimary})
	}

	for _, agg := range aggregate.Build(users, entries[:25], entries[25:]) {
		var sum int64
		for _, e := range agg.Entries {
			sum += e.Seconds
		}
		assert.Equal(t, sum, agg.TotalSeconds, agg.AccountID)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	users := []model.TrackedUser{{ID: 1, AccountID: "a"}, {ID: 2, AccountID: "b"}}
	entries := []model.TimeEntry{
		{AccountID: "b", Seconds: 60, Source: model.SourcePrimary},
		{AccountID: "a", Seconds: 60, Source: model.SourcePrimary},
	}
	assert.Equal(t, aggregate.Build(users, entries), aggregate.Build(users, entries))
}

func TestBuild_SharedAccountKeepsEveryUser(t *testing.T) {
	users := []model.TrackedUser{
		{ID: 1, DisplayName: "Ann", AccountID: "x"},
		{ID: 2, DisplayName: "Ann (old)", AccountID: "x"},
		{ID: 3, DisplayName: "No account"},
	}
	entries := []model.TimeEntry{{AccountID: "x", Seconds: 600, Source: model.SourcePrimary}}

	got := aggregate.Build(users, entries)
	require.Len(t, got, 3)
	assert.EqualValues(t, 1, got[0].UserID)
	assert.EqualValues(t, 600, got[0].TotalSeconds)
	assert.EqualValues(t, 2, got[1].UserID)
	assert.Zero(t, got[1].TotalSeconds)
	assert.EqualValues(t, 3, got[2].UserID)
	assert.Zero(t, got[2].TotalSeconds)
}
