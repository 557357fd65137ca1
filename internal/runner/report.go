package runner

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/fault"
)

// Status is the outcome of a table or trigger in a report.
type Status string

const (
	StatusInstalled Status = "installed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusPresent   Status = "present"
	StatusMissing   Status = "missing"
	StatusPartial   Status = "partial"
	StatusRemoved   Status = "removed"
)

// Operations reported by a Runner.
const (
	OpInstall   = "install"
	OpStatus    = "status"
	OpUninstall = "uninstall"
)

// TriggerResult is the outcome for one trigger kind of a table.
type TriggerResult struct {
	Event   dialect.Event `json:"event" yaml:"event"`
	Trigger string        `json:"trigger" yaml:"trigger"`
	Status  Status        `json:"status" yaml:"status"`
	Error   string        `json:"error,omitempty" yaml:"error,omitempty"`
	// Dropped is set when the previous definition was removed but the
	// new one could not be created.
	Dropped bool `json:"dropped,omitempty" yaml:"dropped,omitempty"`
}

// TableResult is the outcome for one table.
type TableResult struct {
	Table    string          `json:"table" yaml:"table"`
	Status   Status          `json:"status" yaml:"status"`
	Code     fault.Code      `json:"code,omitempty" yaml:"code,omitempty"`
	Error    string          `json:"error,omitempty" yaml:"error,omitempty"`
	Triggers []TriggerResult `json:"triggers" yaml:"triggers"`

	err error
}

// Err returns the error that failed the table, or nil.
func (t TableResult) Err() error {
	return t.err
}

// Summary counts tables by status.
type Summary struct {
	Tables int            `json:"tables" yaml:"tables"`
	Counts map[Status]int `json:"counts" yaml:"counts"`
}

// Report describes a whole run, one entry per table in catalog order.
type Report struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	Operation  string        `json:"operation" yaml:"operation"`
	Dialect    string        `json:"dialect" yaml:"dialect"`
	Ledger     string        `json:"ledger" yaml:"ledger"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at" yaml:"finished_at"`
	Tables     []TableResult `json:"tables" yaml:"tables"`
	Summary    Summary       `json:"summary" yaml:"summary"`
	// Canceled is set when the run stopped dispatching tables early.
	Canceled bool `json:"canceled,omitempty" yaml:"canceled,omitempty"`
}

// Err joins the errors of every failed table. It is nil when no table
// failed; skipped tables are not errors.
func (r *Report) Err() error {
	var errs []error
	for _, t := range r.Tables {
		if t.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Table, t.err))
		}
	}
	return errors.Join(errs...)
}

// Failed returns the tables that failed.
func (r *Report) Failed() []TableResult {
	var out []TableResult
	for _, t := range r.Tables {
		if t.Status == StatusFailed {
			out = append(out, t)
		}
	}
	return out
}

// Outcome classifies the run for metrics: "ok" when every table reached
// the operation's success status, "partial" otherwise.
func (r *Report) Outcome() string {
	if r.Canceled || len(r.Failed()) > 0 {
		return "partial"
	}
	return "ok"
}

func (r *Report) summarize() {
	r.Summary = Summary{Tables: len(r.Tables), Counts: map[Status]int{}}
	for _, t := range r.Tables {
		r.Summary.Counts[t.Status]++
	}
}

// WriteText renders the report as an aligned table followed by the errors
// of failed tables.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "%s run %s (%s, ledger %s)\n\n", r.Operation, r.RunID, r.Dialect, r.Ledger)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tSTATUS\tINSERT\tUPDATE\tDELETE")
	for _, t := range r.Tables {
		cols := []string{t.Table, string(t.Status)}
		for _, ev := range dialect.Events {
			cols = append(cols, string(triggerStatus(t, ev)))
		}
		fmt.Fprintln(tw, strings.Join(cols, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, t := range r.Failed() {
		fmt.Fprintf(w, "\n%s: %s\n", t.Table, t.Error)
	}

	fmt.Fprintf(w, "\n%d tables", r.Summary.Tables)
	for _, s := range summaryOrder {
		if n := r.Summary.Counts[s]; n > 0 {
			fmt.Fprintf(w, ", %d %s", n, s)
		}
	}
	if r.Canceled {
		fmt.Fprint(w, " (canceled)")
	}
	_, err := fmt.Fprintln(w)
	return err
}

var summaryOrder = []Status{
	StatusInstalled, StatusPresent, StatusRemoved, StatusPartial, StatusMissing, StatusFailed, StatusSkipped,
}

func triggerStatus(t TableResult, ev dialect.Event) Status {
	for _, tr := range t.Triggers {
		if tr.Event == ev {
			return tr.Status
		}
	}
	return StatusSkipped
}
