package jira_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tiliavir/team-worklog/internal/jira"
	"github.com/Tiliavir/team-worklog/internal/model"
)

// fakeTracker is an in-process stand-in for the tracker REST API.
type fakeTracker struct {
	t   *testing.T
	mux *http.ServeMux
	srv *httptest.Server

	mu    sync.Mutex
	calls map[string]int
}

func newFakeTracker(t *testing.T) *fakeTracker {
	t.Helper()
	f := &fakeTracker{t: t, mux: http.NewServeMux(), calls: map[string]int{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[r.Method+" "+r.URL.Path]++
		f.mu.Unlock()
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTracker) handle(pattern string, h http.HandlerFunc) {
	f.mux.HandleFunc(pattern, h)
}

func (f *fakeTracker) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeTracker) client() *jira.Client {
	return jira.NewClient(jira.Options{
		BaseURL:   f.srv.URL,
		Token:     "secret",
		APIPrefix: "/rest/api/3",
	}, f.srv.Client(), zerolog.Nop())
}

// serveWorklogList answers batch hydrate calls from records keyed by id.
func (f *fakeTracker) serveWorklogList(records map[int64]string, batches *[][]int64) {
	f.handle("POST /rest/api/3/worklog/list", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []int64 `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if batches != nil {
			f.mu.Lock()
			*batches = append(*batches, body.IDs)
			f.mu.Unlock()
		}
		var out []string
		for _, id := range body.IDs {
			if rec, ok := records[id]; ok {
				out = append(out, rec)
			}
		}
		writeJSON(w, "["+strings.Join(out, ",")+"]")
	})
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func worklogJSON(id int64, account, started string, seconds int, issueID string) string {
	return fmt.Sprintf(`{"id":"%d","self":"https://example.atlassian.net/rest/api/3/issue/%s/worklog/%d",`+
		`"author":{"accountId":%q},"started":%q,"timeSpentSeconds":%d,"timeSpent":"%dm",`+
		`"comment":{"type":"doc","version":1,"content":[{"type":"paragraph","content":[{"type":"text","text":"work on %d"}]}]},`+
		`"issueId":%q}`, id, issueID, id, account, started, seconds, seconds/60, id, issueID)
}

// testWindow is 2026-10-09 in UTC.
func testWindow() model.DateWindow {
	return model.DateWindow{
		Start: time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 9, 23, 59, 59, 0, time.UTC),
	}
}

func testLimits() jira.Limits {
	l := jira.DefaultLimits()
	l.Workers = 3
	return l
}
