package model

import (
	"time"

	"github.com/bytedance/sonic"
)

// Source identifies which upstream produced a TimeEntry.
type Source string

const (
	SourcePrimary   Source = "primary"
	SourceLegacy    Source = "legacy"
	SourceTimesheet Source = "timesheet_a"
	SourceTimelog   Source = "timesheet_b"
)

// TimeEntry is a single normalized worklog record. Entries are built per
// source and consumed by the aggregator; nothing persists them.
type TimeEntry struct {
	AccountID    string    `json:"user_account_id"`
	IssueKey     string    `json:"issue_key,omitempty"`
	IssueSummary string    `json:"issue_summary,omitempty"`
	IssueRefID   *int64    `json:"issue_ref_id,omitempty"`
	LoggedOn     time.Time `json:"logged_on"`
	Seconds      int64     `json:"duration_seconds"`
	TimeSpent    string    `json:"time_spent,omitempty"`
	RawTimestamp string    `json:"raw_timestamp,omitempty"`
	Source       Source    `json:"source"`
	Category     string    `json:"category,omitempty"`
	Comment      string    `json:"comment"`
}

// Date returns the logged-on calendar date as YYYY-MM-DD.
func (e TimeEntry) Date() string {
	return e.LoggedOn.Format("2006-01-02")
}

// IsEvent reports whether the entry is not linked to any work item.
func (e TimeEntry) IsEvent() bool {
	return e.IssueRefID == nil && e.IssueKey == ""
}

// TrackedUser is a member of the caller's local directory whose time is
// collected. AccountID is the identity shared by all upstream sources.
type TrackedUser struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	AccountID   string `json:"account_id"`
}

// Name returns the display name, falling back to the account id.
func (u TrackedUser) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.AccountID
}

// UserAggregate is the per-user output of one aggregation run.
type UserAggregate struct {
	UserID       int64       `json:"user_id"`
	DisplayName  string      `json:"user_name"`
	AccountID    string      `json:"user_account_id"`
	TotalSeconds int64       `json:"total_seconds"`
	Entries      []TimeEntry `json:"entries"`
}

// TotalHours returns TotalSeconds expressed in hours.
func (a UserAggregate) TotalHours() float64 {
	return float64(a.TotalSeconds) / 3600.0
}

// MarshalJSON adds total_hours to the stored fields.
func (a UserAggregate) MarshalJSON() ([]byte, error) {
	type plain UserAggregate
	return sonic.Marshal(struct {
		plain
		TotalHours float64 `json:"total_hours"`
	}{plain(a), a.TotalHours()})
}
