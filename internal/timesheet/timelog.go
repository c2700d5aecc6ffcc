package timesheet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/Tiliavir/team-worklog/internal/httpx"
	"github.com/Tiliavir/team-worklog/internal/model"
	"github.com/Tiliavir/team-worklog/internal/richtext"
	"github.com/Tiliavir/team-worklog/internal/timecalc"
)

const (
	DefaultPageSize = 100
	DefaultMaxPages = 100
)

// TimelogAdapter reads the offset-paginated timelog service. Entries linked
// to a work item are dropped since the primary tracker already counts them.
type TimelogAdapter struct {
	opts     Options
	http     *httpx.Client
	log      zerolog.Logger
	PageSize int
	MaxPages int
}

// NewTimelogAdapter returns an adapter. hc may be nil.
func NewTimelogAdapter(opts Options, hc *http.Client, log zerolog.Logger) *TimelogAdapter {
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	return &TimelogAdapter{
		opts:     opts,
		http:     newHTTP(opts.Token, hc, log),
		log:      log,
		PageSize: DefaultPageSize,
		MaxPages: DefaultMaxPages,
	}
}

// Name identifies the adapter in logs and diagnostics.
func (a *TimelogAdapter) Name() string { return string(model.SourceTimelog) }

type timelogPage struct {
	records []gjson.Result
	hasMore bool
	limit   int
}

// Fetch pages through the window. On a fatal error the entries of pages
// already read are returned alongside it.
func (a *TimelogAdapter) Fetch(ctx context.Context, req Request) ([]model.TimeEntry, Report, error) {
	var rep Report
	if !a.opts.configured() {
		return nil, rep, ErrNotConfigured
	}
	accounts := req.accounts()
	if len(accounts) == 0 {
		return nil, rep, nil
	}
	limit := a.PageSize
	if limit <= 0 {
		limit = DefaultPageSize
	}
	maxPages := a.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	tracked := req.tracked()
	var out []model.TimeEntry
	offset := 0
	for page := 0; page < maxPages; page++ {
		p, err := a.page(ctx, req.Window, accounts, offset, limit)
		if err != nil {
			invalid := invalidAccounts(err, accounts)
			if len(invalid) == 0 {
				return out, rep, err
			}
			accounts = without(accounts, invalid)
			rep.RemovedAccounts = append(rep.RemovedAccounts, invalid...)
			a.log.Warn().Strs("accounts", invalid).Int("offset", offset).Msg("timelog rejected accounts, retrying page")
			if len(accounts) == 0 {
				return out, rep, nil
			}
			// Same offset: the rejected page was never served.
			p, err = a.page(ctx, req.Window, accounts, offset, limit)
			if err != nil {
				return out, rep, err
			}
		}
		rep.Pages++
		out = append(out, a.convert(p.records, tracked, req.Window, &rep)...)

		if !p.hasMore {
			return out, rep, nil
		}
		step := p.limit
		if step <= 0 {
			step = limit
		}
		offset += step
	}
	rep.Truncated = true
	a.log.Warn().Int("pages", maxPages).Msg("timelog page cap reached")
	return out, rep, nil
}

func (a *TimelogAdapter) page(ctx context.Context, w model.DateWindow, accounts []string, offset, limit int) (timelogPage, error) {
	q := url.Values{
		"from":   {w.StartDate()},
		"to":     {w.EndDate()},
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	q["userIds"] = accounts
	data, err := a.http.Do(ctx, http.MethodGet, a.opts.BaseURL+"/timelogs?"+q.Encode(), nil)
	if err != nil {
		return timelogPage{}, fmt.Errorf("timelog page at offset %d: %w", offset, err)
	}
	res := gjson.ParseBytes(data)
	return timelogPage{
		records: records(data),
		hasMore: res.Get("hasMore").Bool(),
		limit:   int(res.Get("limit").Int()),
	}, nil
}

func (a *TimelogAdapter) convert(recs []gjson.Result, tracked map[string]struct{}, w model.DateWindow, rep *Report) []model.TimeEntry {
	var out []model.TimeEntry
	for _, rec := range recs {
		account := accountOf(rec)
		if _, ok := tracked[account]; !ok {
			continue
		}
		seconds := rec.Get("timeSpentSeconds").Int()
		if seconds <= 0 {
			continue
		}
		day, raw, ok := a.day(rec, w.Location())
		if !ok || !w.ContainsDay(day) {
			continue
		}

		switch issueRef(rec.Get("issueId")) {
		case refNumeric:
			rep.Excluded++
			continue
		case refInvalid:
			rep.Flagged++
			a.log.Debug().Str("account", account).Str("issue_id", rec.Get("issueId").Raw).Msg("non-numeric issue id, counting as event")
		}

		summary := rec.Get("summary").String()
		comment := richtext.Flatten(rec.Get("notes"))
		if comment == "" {
			comment = summary
		}
		out = append(out, model.TimeEntry{
			AccountID:    account,
			LoggedOn:     day,
			Seconds:      seconds,
			TimeSpent:    timecalc.FormatDuration(seconds),
			RawTimestamp: raw,
			Source:       model.SourceTimelog,
			Category:     rec.Get("type").String(),
			Comment:      comment,
		})
	}
	return out
}

// day prefers the precise start timestamp and falls back to the date field.
func (a *TimelogAdapter) day(rec gjson.Result, loc *time.Location) (time.Time, string, bool) {
	if started := rec.Get("info.started").String(); started != "" {
		if t, err := timecalc.ParseStarted(started); err == nil {
			return timecalc.StartOfDay(t.In(loc)), started, true
		}
	}
	raw := rec.Get("date").String()
	d, err := timecalc.ParseDay(raw, loc)
	if err != nil {
		a.log.Debug().Err(err).Msg("skipping timelog entry")
		return time.Time{}, "", false
	}
	return d, raw, true
}

type refKind int

const (
	refAbsent refKind = iota
	refNumeric
	refInvalid
)

// issueRef classifies a timelog issueId. Zero and empty values count as
// absent.
func issueRef(v gjson.Result) refKind {
	switch v.Type {
	case gjson.Null:
		return refAbsent
	case gjson.Number:
		if v.Int() == 0 && v.Float() == 0 {
			return refAbsent
		}
		if float64(v.Int()) != v.Float() {
			return refInvalid
		}
		return refNumeric
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return refAbsent
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			if n == 0 {
				return refAbsent
			}
			return refNumeric
		}
		return refInvalid
	default:
		return refInvalid
	}
}

var (
	invalidHint = regexp.MustCompile(`(?i)invalid.*account|account.*invalid`)
	idToken     = regexp.MustCompile(`[^\s,;\[\]{}"'()]+`)
)

// invalidAccounts extracts the requested account ids named in an
// authorization rejection's error list. Nil means the rejection cannot be
// recovered from.
func invalidAccounts(err error, requested []string) []string {
	if !httpx.HasStatus(err, http.StatusUnauthorized, http.StatusForbidden) {
		return nil
	}
	var se *httpx.StatusError
	if !errors.As(err, &se) {
		return nil
	}
	want := make(map[string]struct{}, len(requested))
	for _, a := range requested {
		want[a] = struct{}{}
	}
	found := map[string]struct{}{}
	gjson.GetBytes(se.Body, "errors").ForEach(func(_, msg gjson.Result) bool {
		text := msg.String()
		if !invalidHint.MatchString(text) {
			return true
		}
		for _, tok := range idToken.FindAllString(text, -1) {
			tok = strings.TrimRight(tok, ".:")
			if _, ok := want[tok]; ok {
				found[tok] = struct{}{}
			}
		}
		return true
	})
	var out []string
	for _, a := range requested {
		if _, ok := found[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

func without(accounts, drop []string) []string {
	skip := make(map[string]struct{}, len(drop))
	for _, d := range drop {
		skip[d] = struct{}{}
	}
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if _, ok := skip[a]; !ok {
			out = append(out, a)
		}
	}
	return out
}
