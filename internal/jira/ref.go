package jira

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// RefKind discriminates IssueRef.
type RefKind int

const (
	RefNone RefKind = iota
	RefNumeric
	RefTextual
)

// IssueRef is a reference to a work item: a numeric id, a textual key, or
// nothing.
type IssueRef struct {
	Kind RefKind
	ID   int64
	Key  string
}

// NumericRef returns a reference by id.
func NumericRef(id int64) IssueRef { return IssueRef{Kind: RefNumeric, ID: id} }

// TextualRef returns a reference by key.
func TextualRef(key string) IssueRef { return IssueRef{Kind: RefTextual, Key: key} }

// IsZero reports whether the reference points at nothing.
func (r IssueRef) IsZero() bool { return r.Kind == RefNone }

// String is the form used in lookups and as the resolver's table key.
func (r IssueRef) String() string {
	switch r.Kind {
	case RefNumeric:
		return strconv.FormatInt(r.ID, 10)
	case RefTextual:
		return r.Key
	}
	return ""
}

var (
	idPaths  = []string{"issueId", "issue_id", "issue.id", "issue"}
	keyPaths = []string{"issueKey", "issue_key", "issue.key"}

	// selfIssue matches ".../issue/<id-or-key>/worklog/..." in a record's self URL.
	selfIssue = regexp.MustCompile(`/issue/([A-Za-z][A-Za-z0-9_]*-\d+|\d+)/worklog`)
	keyShape  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*-\d+$`)
)

// ExtractIssueRef finds the work item a raw worklog record belongs to. Id
// fields win over key fields; the record's self URL is the last resort.
func ExtractIssueRef(rec gjson.Result) IssueRef {
	for _, p := range idPaths {
		if ref := refFromValue(rec.Get(p)); !ref.IsZero() {
			return ref
		}
	}
	for _, p := range keyPaths {
		v := rec.Get(p)
		if v.Type == gjson.String && keyShape.MatchString(strings.TrimSpace(v.String())) {
			return TextualRef(strings.TrimSpace(v.String()))
		}
	}
	if m := selfIssue.FindStringSubmatch(rec.Get("self").String()); m != nil {
		return parseRef(m[1])
	}
	return IssueRef{}
}

func refFromValue(v gjson.Result) IssueRef {
	switch v.Type {
	case gjson.Number:
		if id := v.Int(); id > 0 {
			return NumericRef(id)
		}
	case gjson.String:
		return parseRef(strings.TrimSpace(v.String()))
	case gjson.JSON:
		if v.IsObject() {
			if ref := refFromValue(v.Get("id")); !ref.IsZero() {
				return ref
			}
			if k := v.Get("key"); k.Type == gjson.String && keyShape.MatchString(k.String()) {
				return TextualRef(k.String())
			}
		}
	}
	return IssueRef{}
}

func parseRef(s string) IssueRef {
	if s == "" {
		return IssueRef{}
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		if id > 0 {
			return NumericRef(id)
		}
		return IssueRef{}
	}
	if keyShape.MatchString(s) {
		return TextualRef(s)
	}
	return IssueRef{}
}
