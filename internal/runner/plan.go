package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/fault"
	"github.com/roach88/undolog/internal/synth"
)

// PlannedTrigger is one synthesized trigger in a plan.
type PlannedTrigger struct {
	Name       string        `json:"name" yaml:"name"`
	Event      dialect.Event `json:"event" yaml:"event"`
	Up         string        `json:"up" yaml:"up"`
	Down       string        `json:"down" yaml:"down"`
	Drop       []string      `json:"drop" yaml:"drop"`
	Statements []string      `json:"statements" yaml:"statements"`
}

// PlannedTable holds the triggers synthesized for one table, or the
// reason none could be.
type PlannedTable struct {
	Table    string           `json:"table" yaml:"table"`
	Code     fault.Code       `json:"code,omitempty" yaml:"code,omitempty"`
	Error    string           `json:"error,omitempty" yaml:"error,omitempty"`
	Triggers []PlannedTrigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`

	specs []synth.TriggerSpec
	err   error
}

// Plan is the DDL an install run would execute, without executing it.
type Plan struct {
	RunID   string         `json:"run_id" yaml:"run_id"`
	Dialect string         `json:"dialect" yaml:"dialect"`
	Ledger  string         `json:"ledger" yaml:"ledger"`
	Tables  []PlannedTable `json:"tables" yaml:"tables"`
}

// Err joins the errors of tables that could not be planned.
func (p *Plan) Err() error {
	var errs []error
	for _, t := range p.Tables {
		if t.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Table, t.err))
		}
	}
	return errors.Join(errs...)
}

// Script renders the plan as a SQL script. Tables that could not be
// planned appear as comments.
func (p *Plan) Script() string {
	var sb strings.Builder
	for i, t := range p.Tables {
		if i > 0 {
			sb.WriteString("\n")
		}
		if t.err != nil {
			fmt.Fprintf(&sb, "-- %s: %s\n", t.Table, t.Error)
			continue
		}
		sb.WriteString(synth.Script(t.specs))
	}
	return sb.String()
}

// WriteText writes the plan's script.
func (p *Plan) WriteText(w io.Writer) error {
	_, err := io.WriteString(w, p.Script())
	return err
}

// Plan synthesizes the triggers for the given tables, or for every
// included table when none are given. Nothing is executed; the ledger is
// not created.
func (r *Runner) Plan(ctx context.Context, tables ...string) (*Plan, error) {
	runID := r.runIDs.Generate()
	log := r.logger.With("run_id", runID, "operation", "plan")

	names := r.filter(tables)
	if len(tables) == 0 {
		var err error
		if names, err = r.tableNames(ctx); err != nil {
			log.Error("plan aborted", "error", err)
			return nil, err
		}
	}

	plan := &Plan{
		RunID:   runID,
		Dialect: r.dialect.Name(),
		Ledger:  r.opts.LedgerTable,
		Tables:  make([]PlannedTable, 0, len(names)),
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		plan.Tables = append(plan.Tables, r.planTable(ctx, name))
	}
	log.Debug("plan ready", "tables", len(plan.Tables))
	return plan, nil
}

func (r *Runner) planTable(ctx context.Context, table string) PlannedTable {
	pt := PlannedTable{Table: table}

	tbl, err := r.catalog.Describe(ctx, table)
	if err != nil {
		return pt.fail(err)
	}
	specs, err := synth.Synthesize(r.dialect, synth.Options{LedgerTable: r.opts.LedgerTable}, tbl)
	if err != nil {
		return pt.fail(fault.Introspection(table, "cannot synthesize triggers", err))
	}

	pt.specs = specs
	for _, s := range specs {
		pt.Triggers = append(pt.Triggers, PlannedTrigger{
			Name:       s.Name,
			Event:      s.Event,
			Up:         s.Up,
			Down:       s.Down,
			Drop:       s.Drop,
			Statements: s.Statements,
		})
	}
	return pt
}

func (pt PlannedTable) fail(err error) PlannedTable {
	pt.err = err
	pt.Code = fault.CodeOf(err)
	pt.Error = err.Error()
	return pt
}
