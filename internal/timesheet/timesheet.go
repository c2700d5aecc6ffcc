// Package timesheet reads "event" time from the two external timesheet
// services: the hour-based search API and the paginated timelog API.
package timesheet

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/Tiliavir/team-worklog/internal/httpx"
	"github.com/Tiliavir/team-worklog/internal/model"
)

// ErrNotConfigured is returned when an adapter lacks its base URL or token.
var ErrNotConfigured = errors.New("timesheet: not configured")

// Options configures an adapter.
type Options struct {
	BaseURL string
	// Token is a bearer JWT issued by the service.
	Token string
}

func (o Options) configured() bool {
	return strings.TrimSpace(o.BaseURL) != "" && strings.TrimSpace(o.Token) != ""
}

// Request scopes one fetch.
type Request struct {
	Window   model.DateWindow
	Accounts []string
}

func (r Request) tracked() map[string]struct{} {
	m := make(map[string]struct{}, len(r.Accounts))
	for _, a := range r.Accounts {
		if a != "" {
			m[a] = struct{}{}
		}
	}
	return m
}

// accounts returns the non-empty account ids without duplicates, in order.
func (r Request) accounts() []string {
	seen := make(map[string]struct{}, len(r.Accounts))
	out := make([]string, 0, len(r.Accounts))
	for _, a := range r.Accounts {
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Report carries what an adapter dropped or changed while fetching.
type Report struct {
	Pages int
	// Excluded counts entries dropped because they reference a work item the
	// primary tracker already accounts for.
	Excluded int
	// Flagged counts entries whose issue reference is present but not
	// numeric. They are kept as events.
	Flagged int
	// RemovedAccounts were named invalid by the service and dropped from the
	// request.
	RemovedAccounts []string
	// Truncated is set when the page cap stopped pagination early.
	Truncated bool
}

// newHTTP returns an httpx client sending the bearer token through an oauth2
// transport layered over hc.
func newHTTP(token string, hc *http.Client, log zerolog.Logger) *httpx.Client {
	ctx := context.Background()
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return httpx.New(oauth2.NewClient(ctx, src), log)
}

// accountOf reads the assignee of a record, which is either a plain account
// id or an object carrying one.
func accountOf(rec gjson.Result) string {
	a := rec.Get("assignee")
	if a.IsObject() {
		if id := a.Get("accountId").String(); id != "" {
			return id
		}
		return a.Get("id").String()
	}
	if s := strings.TrimSpace(a.String()); s != "" {
		return s
	}
	return rec.Get("accountId").String()
}

// records returns the entry list of a payload that is either a bare array or
// an object with a data array.
func records(data []byte) []gjson.Result {
	res := gjson.ParseBytes(data)
	if res.IsArray() {
		return res.Array()
	}
	return res.Get("data").Array()
}
