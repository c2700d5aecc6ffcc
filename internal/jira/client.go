package jira

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/Tiliavir/team-worklog/internal/httpx"
)

// ErrUnauthorized means the caller's own tracker credentials were rejected.
var ErrUnauthorized = errors.New("jira: credentials rejected")

// searchPath is only served under v3, whatever prefix the instance answers on.
const searchPath = "/rest/api/3/search/jql"

// Options configures a Client.
type Options struct {
	BaseURL string
	// Email selects Basic auth (email:token); without it Token is sent as a
	// Bearer token.
	Email string
	Token string
	// APIPrefix skips prefix detection when set, e.g. "/rest/api/2".
	APIPrefix string
}

// Client is a tracker REST client.
type Client struct {
	baseURL string
	prefix  string
	http    *httpx.Client
	log     zerolog.Logger
}

// NewClient returns a client using hc for transport. hc may be nil.
func NewClient(opts Options, hc *http.Client, log zerolog.Logger) *Client {
	h := httpx.New(hc, log)
	switch {
	case opts.Email != "" && opts.Token != "":
		raw := opts.Email + ":" + opts.Token
		h.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(raw)))
	case opts.Token != "":
		h.Header.Set("Authorization", "Bearer "+opts.Token)
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		prefix:  strings.TrimRight(strings.TrimSpace(opts.APIPrefix), "/"),
		http:    h,
		log:     log,
	}
}

// APIPrefix returns the detected or configured REST prefix.
func (c *Client) APIPrefix() string { return c.prefix }

func (c *Client) apiURL(path string, q url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// DetectAPIPrefix probes v3 then v2. An endpoint answering 200, 401 or 403
// exists; anything else means the prefix is not served.
func (c *Client) DetectAPIPrefix(ctx context.Context) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("jira: empty base URL")
	}
	if c.prefix != "" {
		return c.prefix, nil
	}
	var lastErr error
	for _, prefix := range []string{"/rest/api/3", "/rest/api/2"} {
		_, err := c.http.Do(ctx, http.MethodGet, c.apiURL(prefix+"/serverInfo", nil), nil)
		if err == nil || httpx.HasStatus(err, http.StatusUnauthorized, http.StatusForbidden) {
			c.prefix = prefix
			return prefix, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("jira: cannot detect REST API prefix: %w", lastErr)
}

// Myself verifies the configured credentials.
func (c *Client) Myself(ctx context.Context) error {
	_, err := c.http.Do(ctx, http.MethodGet, c.apiURL(c.prefix+"/myself", nil), nil)
	if httpx.HasStatus(err, http.StatusUnauthorized, http.StatusForbidden) {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}

// FeedPage is one page of the worklog change feed.
type FeedPage struct {
	IDs      []int64
	Until    int64
	LastPage bool
}

// UpdatedWorklogs reads the change feed from since (epoch milliseconds).
func (c *Client) UpdatedWorklogs(ctx context.Context, since int64) (FeedPage, error) {
	q := url.Values{"since": {strconv.FormatInt(since, 10)}}
	var page struct {
		Values []struct {
			WorklogID int64 `json:"worklogId"`
			ID        int64 `json:"id"`
		} `json:"values"`
		Until    int64 `json:"until"`
		LastPage bool  `json:"lastPage"`
	}
	if err := c.http.DecodeJSON(ctx, http.MethodGet, c.apiURL(c.prefix+"/worklog/updated", q), nil, &page); err != nil {
		return FeedPage{}, fmt.Errorf("worklog change feed: %w", err)
	}
	out := FeedPage{Until: page.Until, LastPage: page.LastPage}
	for _, v := range page.Values {
		id := v.WorklogID
		if id == 0 {
			id = v.ID
		}
		if id != 0 {
			out.IDs = append(out.IDs, id)
		}
	}
	return out, nil
}

// WorklogsByIDs hydrates full worklog records for ids.
func (c *Client) WorklogsByIDs(ctx context.Context, ids []int64) ([]gjson.Result, error) {
	body := map[string][]int64{"ids": ids}
	data, err := c.http.Do(ctx, http.MethodPost, c.apiURL(c.prefix+"/worklog/list", nil), body)
	if err != nil {
		return nil, fmt.Errorf("worklog batch: %w", err)
	}
	res := gjson.ParseBytes(data)
	if !res.IsArray() {
		return nil, fmt.Errorf("worklog batch: unexpected payload %.100s", string(data))
	}
	return res.Array(), nil
}

// IssueTitle fetches the key and summary of the issue addressed by ref,
// which may be a numeric id or a key.
func (c *Client) IssueTitle(ctx context.Context, ref string) (key, summary string, err error) {
	if ref == "" {
		return "", "", errors.New("jira: empty issue ref")
	}
	q := url.Values{"fields": {"summary"}}
	var issue struct {
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
		} `json:"fields"`
	}
	if err := c.http.DecodeJSON(ctx, http.MethodGet, c.apiURL(c.prefix+"/issue/"+url.PathEscape(ref), q), nil, &issue); err != nil {
		return "", "", fmt.Errorf("issue %s: %w", ref, err)
	}
	if issue.Key == "" {
		issue.Key = ref
	}
	if issue.Fields.Summary == "" {
		issue.Fields.Summary = issue.Key
	}
	return issue.Key, issue.Fields.Summary, nil
}

// SearchPage is one page of a JQL search.
type SearchPage struct {
	Keys          []string
	NextPageToken string
}

// SearchJQL runs one page of a token-paginated JQL search.
func (c *Client) SearchJQL(ctx context.Context, jql string, fields []string, maxResults int, pageToken string) (SearchPage, error) {
	body := map[string]any{
		"jql":        jql,
		"fields":     fields,
		"maxResults": maxResults,
	}
	if pageToken != "" {
		body["nextPageToken"] = pageToken
	}
	data, err := c.http.Do(ctx, http.MethodPost, c.apiURL(searchPath, nil), body)
	if err != nil {
		return SearchPage{}, fmt.Errorf("search (jql): %w", err)
	}
	res := gjson.ParseBytes(data)
	issues := res.Get("issues")
	if !issues.Exists() {
		issues = res.Get("values")
	}
	var page SearchPage
	issues.ForEach(func(_, issue gjson.Result) bool {
		if k := issue.Get("key").String(); k != "" {
			page.Keys = append(page.Keys, k)
		}
		return true
	})
	page.NextPageToken = strings.TrimSpace(res.Get("nextPageToken").String())
	return page, nil
}

// IssueWorklogs returns all worklog records of one issue, following
// startAt pagination for at most maxPages pages.
func (c *Client) IssueWorklogs(ctx context.Context, key string, maxPages int) ([]gjson.Result, error) {
	if key == "" {
		return nil, errors.New("jira: empty issue key")
	}
	var out []gjson.Result
	startAt := 0
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		if startAt > 0 {
			q.Set("startAt", strconv.Itoa(startAt))
		}
		data, err := c.http.Do(ctx, http.MethodGet, c.apiURL(c.prefix+"/issue/"+url.PathEscape(key)+"/worklog", q), nil)
		if err != nil {
			return nil, fmt.Errorf("issue %s worklog: %w", key, err)
		}
		res := gjson.ParseBytes(data)
		logs := res.Get("worklogs").Array()
		out = append(out, logs...)

		total := int(res.Get("total").Int())
		startAt += len(logs)
		if len(logs) == 0 || startAt >= total {
			break
		}
	}
	return out, nil
}

// Field is a tracker field definition.
type Field struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Fields lists all field definitions.
func (c *Client) Fields(ctx context.Context) ([]Field, error) {
	data, err := c.http.Do(ctx, http.MethodGet, c.apiURL(c.prefix+"/field", nil), nil)
	if err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	var fields []Field
	if err := sonic.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decoding fields: %w", err)
	}
	return fields, nil
}

// FindFieldID resolves a field id by name: exact case-insensitive match
// first, then substring.
func FindFieldID(fields []Field, name string) (string, error) {
	target := strings.ToLower(strings.TrimSpace(name))
	for _, f := range fields {
		if strings.ToLower(strings.TrimSpace(f.Name)) == target {
			return f.ID, nil
		}
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(strings.TrimSpace(f.Name)), target) {
			return f.ID, nil
		}
	}
	return "", fmt.Errorf("jira: field %q not found", name)
}
