// Package httpx performs the outbound JSON calls shared by the upstream
// clients: request construction, typed status errors and a single
// rate-limit retry.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	// DefaultRetryAfter is used when a 429 response carries no usable
	// Retry-After header.
	DefaultRetryAfter = 3 * time.Second
	// MaxRetryAfter bounds how long a single rate-limit pause may last.
	MaxRetryAfter = 30 * time.Second
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.URL, e.Code, body)
}

// HasStatus reports whether err is a StatusError with one of the given codes.
func HasStatus(err error, codes ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.Code == c {
			return true
		}
	}
	return false
}

// Client sends JSON requests. Header is applied to every request; auth
// belongs either there or in the HTTP client's transport.
type Client struct {
	HTTP   *http.Client
	Header http.Header
	Log    zerolog.Logger
}

// New returns a Client using hc, or http.DefaultClient when hc is nil.
func New(hc *http.Client, log zerolog.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{HTTP: hc, Header: http.Header{}, Log: log}
}

// Do sends method to u with body encoded as JSON (when non-nil) and returns
// the response body. A 429 response pauses for the server-specified duration
// and is retried exactly once.
func (c *Client) Do(ctx context.Context, method, u string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		b, err := sonic.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		payload = b
	}

	wait := &retryAfter{}
	policy := backoff.WithContext(backoff.WithMaxRetries(wait, 1), ctx)

	var out []byte
	op := func() error {
		data, code, hdr, err := c.send(ctx, method, u, payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		if code == http.StatusTooManyRequests {
			wait.next = parseRetryAfter(hdr.Get("Retry-After"))
			return &StatusError{Method: method, URL: u, Code: code, Body: data}
		}
		if code < 200 || code >= 300 {
			return backoff.Permanent(&StatusError{Method: method, URL: u, Code: code, Body: data})
		}
		out = data
		return nil
	}
	notify := func(err error, d time.Duration) {
		c.Log.Warn().Str("url", u).Dur("retry_after", d).Msg("rate limited, retrying once")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeJSON is Do followed by decoding the response into out.
func (c *Client) DecodeJSON(ctx context.Context, method, u string, body, out any) error {
	data, err := c.Do(ctx, method, u, body)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", u, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, u string, payload []byte) ([]byte, int, http.Header, error) {
	var r io.Reader
	if payload != nil {
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("reading response body: %w", err)
	}
	return data, resp.StatusCode, resp.Header, nil
}

// retryAfter is a backoff.BackOff whose next delay is set from the last
// rate-limited response.
type retryAfter struct {
	next time.Duration
}

func (r *retryAfter) NextBackOff() time.Duration { return r.next }
func (r *retryAfter) Reset()                     { r.next = 0 }

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil {
		d := time.Duration(secs) * time.Second
		if d < 0 {
			return 0
		}
		if d > MaxRetryAfter {
			return MaxRetryAfter
		}
		return d
	}
	if at, err := http.ParseTime(v); err == nil {
		d := time.Until(at)
		if d < 0 {
			return 0
		}
		if d > MaxRetryAfter {
			return MaxRetryAfter
		}
		return d
	}
	return DefaultRetryAfter
}
