package worklog

import (
	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-multierror"
)

// Source statuses.
const (
	StatusOK       = "ok"
	StatusPartial  = "partial"
	StatusDegraded = "degraded"
	StatusSkipped  = "skipped"
)

// StrategyNone is reported when no tracker strategy succeeded.
const StrategyNone = "none"

// SourceReport describes how one source fared in a run.
type SourceReport struct {
	Name            string   `json:"name"`
	Status          string   `json:"status"`
	Entries         int      `json:"entries"`
	Excluded        int      `json:"excluded,omitempty"`
	Flagged         int      `json:"flagged,omitempty"`
	RemovedAccounts []string `json:"removed_accounts,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// Diagnostics is the debug side channel of a run. Nothing in it is raised
// to the caller.
type Diagnostics struct {
	// Strategy is the committed tracker strategy, or StrategyNone.
	Strategy         string         `json:"strategy"`
	FailedStrategies []string       `json:"failed_strategies,omitempty"`
	Sources          []SourceReport `json:"sources"`

	errs *multierror.Error
}

// Err returns the accumulated source errors, or nil.
func (d Diagnostics) Err() error {
	return d.errs.ErrorOrNil()
}

// Errors returns the accumulated source errors one by one.
func (d Diagnostics) Errors() []error {
	if d.errs == nil {
		return nil
	}
	return d.errs.Errors
}

// Source returns the report for the named source.
func (d Diagnostics) Source(name string) (SourceReport, bool) {
	for _, s := range d.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceReport{}, false
}

// MarshalJSON adds the error messages to the exported fields.
func (d Diagnostics) MarshalJSON() ([]byte, error) {
	type plain Diagnostics
	msgs := make([]string, 0, len(d.Errors()))
	for _, err := range d.Errors() {
		msgs = append(msgs, err.Error())
	}
	return sonic.Marshal(struct {
		plain
		Errors []string `json:"errors"`
	}{plain(d), msgs})
}
