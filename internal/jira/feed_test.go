package jira_test

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/team-worklog/internal/jira"
	"github.com/Tiliavir/team-worklog/internal/model"
)

func TestFeedCollector_Collect(t *testing.T) {
	f := newFakeTracker(t)
	w := testWindow()
	since := w.Start.AddDate(0, 0, -2).UnixMilli()
	wantSince := strconv.FormatInt(since, 10)
	next := strconv.FormatInt(since+1000, 10)

	f.handle("GET /rest/api/3/worklog/updated", func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("since") {
		case wantSince:
			writeJSON(rw, `{"values":[{"worklogId":1},{"worklogId":2}],"until":`+next+`,"lastPage":false}`)
		case next:
			writeJSON(rw, `{"values":[{"worklogId":2},{"worklogId":3},{"worklogId":4}],"until":`+strconv.FormatInt(since+2000, 10)+`,"lastPage":true}`)
		default:
			http.Error(rw, "unexpected since "+r.URL.Query().Get("since"), http.StatusBadRequest)
		}
	})
	var batches [][]int64
	f.serveWorklogList(map[int64]string{
		1: worklogJSON(1, "acc-a", "2026-10-09T10:00:00.000+0300", 3600, "10001"),
		2: worklogJSON(2, "acc-x", "2026-10-09T10:00:00.000+0300", 600, "10001"),
		3: worklogJSON(3, "acc-a", "2026-10-07T10:00:00.000Z", 1200, "10001"),
		4: worklogJSON(4, "acc-b", "2026-10-09T23:30:00.000Z", 1800, "10002"),
	}, &batches)
	f.handle("GET /rest/api/3/issue/10001", func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "summary", r.URL.Query().Get("fields"))
		writeJSON(rw, `{"key":"ABC-1","fields":{"summary":"Login page"}}`)
	})
	f.handle("GET /rest/api/3/issue/10002", func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "boom", http.StatusInternalServerError)
	})

	c := jira.NewFeedCollector(f.client(), testLimits(), zerolog.Nop())
	got, err := c.Collect(context.Background(), jira.Query{Window: w, Accounts: []string{"acc-a", "acc-b"}})
	require.NoError(t, err)

	require.Len(t, batches, 1)
	assert.Equal(t, []int64{1, 2, 3, 4}, batches[0], "ids deduplicated in feed order")

	// Record 2 is untracked, record 3 is outside the window, record 4 is on
	// 2026-10-09 in UTC which is the window's zone.
	require.Len(t, got, 2)

	assert.Equal(t, "acc-a", got[0].AccountID)
	assert.Equal(t, "ABC-1", got[0].IssueKey)
	assert.Equal(t, "Login page", got[0].IssueSummary)
	require.NotNil(t, got[0].IssueRefID)
	assert.EqualValues(t, 10001, *got[0].IssueRefID)
	assert.EqualValues(t, 3600, got[0].Seconds)
	assert.Equal(t, "2026-10-09", got[0].Date())
	assert.Equal(t, "work on 1", got[0].Comment)
	assert.Equal(t, model.SourcePrimary, got[0].Source)
	assert.Equal(t, "2026-10-09T10:00:00.000+0300", got[0].RawTimestamp)

	// Failed lookups degrade to the raw ref.
	assert.Equal(t, "acc-b", got[1].AccountID)
	assert.Equal(t, "10002", got[1].IssueKey)
	assert.Equal(t, "10002", got[1].IssueSummary)

	assert.Equal(t, 1, f.count("GET /rest/api/3/issue/10001"), "each ref resolved once")
}

func TestFeedCollector_NonAdvancingCursorTerminates(t *testing.T) {
	f := newFakeTracker(t)
	f.handle("GET /rest/api/3/worklog/updated", func(rw http.ResponseWriter, r *http.Request) {
		// Echo the cursor back: never the last page, never advancing.
		until := r.URL.Query().Get("since")
		writeJSON(rw, `{"values":[{"worklogId":7}],"until":`+until+`,"lastPage":false}`)
	})
	f.serveWorklogList(map[int64]string{}, nil)

	c := jira.NewFeedCollector(f.client(), testLimits(), zerolog.Nop())
	got, err := c.Collect(context.Background(), jira.Query{Window: testWindow(), Accounts: []string{"acc-a"}})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, f.count("GET /rest/api/3/worklog/updated"))
}

func TestFeedCollector_PageCap(t *testing.T) {
	f := newFakeTracker(t)
	f.handle("GET /rest/api/3/worklog/updated", func(rw http.ResponseWriter, r *http.Request) {
		since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		writeJSON(rw, `{"values":[],"until":`+strconv.FormatInt(since+1, 10)+`,"lastPage":false}`)
	})
	f.serveWorklogList(map[int64]string{}, nil)

	limits := testLimits()
	limits.MaxFeedPages = 5
	c := jira.NewFeedCollector(f.client(), limits, zerolog.Nop())
	_, err := c.Collect(context.Background(), jira.Query{Window: testWindow(), Accounts: []string{"acc-a"}})
	require.NoError(t, err)
	assert.Equal(t, 5, f.count("GET /rest/api/3/worklog/updated"))
}

func TestFeedCollector_HydratesInBatches(t *testing.T) {
	f := newFakeTracker(t)
	f.handle("GET /rest/api/3/worklog/updated", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, `{"values":[{"worklogId":1},{"worklogId":2},{"worklogId":3},{"worklogId":4},{"worklogId":5}],"until":1,"lastPage":true}`)
	})
	var batches [][]int64
	f.serveWorklogList(map[int64]string{}, &batches)

	limits := testLimits()
	limits.BatchSize = 2
	c := jira.NewFeedCollector(f.client(), limits, zerolog.Nop())
	_, err := c.Collect(context.Background(), jira.Query{Window: testWindow(), Accounts: []string{"acc-a"}})
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{1, 2}, {3, 4}, {5}}, batches)
}

func TestFeedCollector_UnavailableFeedFails(t *testing.T) {
	f := newFakeTracker(t)
	f.handle("GET /rest/api/3/worklog/updated", func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "not here", http.StatusNotFound)
	})

	c := jira.NewFeedCollector(f.client(), testLimits(), zerolog.Nop())
	_, err := c.Collect(context.Background(), jira.Query{Window: testWindow(), Accounts: []string{"acc-a"}})
	require.Error(t, err)
}

func TestFeedCollector_HydrateFailureFails(t *testing.T) {
	f := newFakeTracker(t)
	f.handle("GET /rest/api/3/worklog/updated", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, `{"values":[{"worklogId":1}],"until":1,"lastPage":true}`)
	})
	f.handle("POST /rest/api/3/worklog/list", func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "too large", http.StatusRequestEntityTooLarge)
	})

	c := jira.NewFeedCollector(f.client(), testLimits(), zerolog.Nop())
	_, err := c.Collect(context.Background(), jira.Query{Window: testWindow(), Accounts: []string{"acc-a"}})
	require.Error(t, err)
}
