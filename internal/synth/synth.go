// Package synth generates the change-capture triggers for a table.
//
// Each trigger body evaluates, per affected row, two SQL strings: up_sql
// replays the mutation and down_sql reverses it. Both are appended to the
// ledger together with the table name and the session user. The algorithm
// is written once against dialect.Dialect; only the spelling of the
// expressions differs between engines.
package synth

import (
	"fmt"
	"strings"

	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/schema"
)

// Options configure synthesis.
type Options struct {
	// LedgerTable is the table the triggers append to.
	LedgerTable string
}

// TriggerSpec is one synthesized trigger.
type TriggerSpec struct {
	Table string
	Event dialect.Event
	Name  string

	// Up and Down are the per-row expressions producing up_sql and down_sql.
	Up   string
	Down string

	// Trigger is the dialect-level definition, used for staging.
	Trigger dialect.Trigger

	// Statements create the trigger, in order.
	Statements []string
	// Drop removes the trigger if it exists.
	Drop []string
}

// Synthesize returns the Insert, Update and Delete triggers for t, in that
// order.
func Synthesize(d dialect.Dialect, opts Options, t schema.Table) ([]TriggerSpec, error) {
	if t.PrimaryKey == "" {
		return nil, fmt.Errorf("table %q has no primary key", t.Name)
	}
	if len(t.Writable()) == 0 {
		return nil, fmt.Errorf("table %q has no writable columns", t.Name)
	}
	ledger := opts.LedgerTable
	if ledger == "" {
		ledger = dialect.DefaultLedgerTable
	}

	specs := make([]TriggerSpec, 0, len(dialect.Events))
	for _, ev := range dialect.Events {
		up, down := captures(d, t, ev)
		trig := dialect.Trigger{
			Name:   dialect.TriggerName(t.Name, ev, d.MaxIdentLen()),
			Table:  t.Name,
			Event:  ev,
			Action: action(d, ledger, t.Name, up, down),
		}
		specs = append(specs, TriggerSpec{
			Table:      t.Name,
			Event:      ev,
			Name:       trig.Name,
			Up:         up,
			Down:       down,
			Trigger:    trig,
			Statements: d.CreateTrigger(trig),
			Drop:       d.DropTrigger(trig),
		})
	}
	return specs, nil
}

// Names returns the three trigger names for table without synthesizing
// bodies.
func Names(d dialect.Dialect, table string) []string {
	names := make([]string, 0, len(dialect.Events))
	for _, ev := range dialect.Events {
		names = append(names, dialect.TriggerName(table, ev, d.MaxIdentLen()))
	}
	return names
}

// DropSpecs returns specs carrying only names and drop statements, for
// removing triggers from tables that may no longer be describable.
func DropSpecs(d dialect.Dialect, table string) []TriggerSpec {
	specs := make([]TriggerSpec, 0, len(dialect.Events))
	for _, ev := range dialect.Events {
		trig := dialect.Trigger{
			Name:  dialect.TriggerName(table, ev, d.MaxIdentLen()),
			Table: table,
			Event: ev,
		}
		specs = append(specs, TriggerSpec{
			Table:   table,
			Event:   ev,
			Name:    trig.Name,
			Trigger: trig,
			Drop:    d.DropTrigger(trig),
		})
	}
	return specs
}

func captures(d dialect.Dialect, t schema.Table, ev dialect.Event) (up, down string) {
	switch ev {
	case dialect.Insert:
		return insertFrom(d, t, dialect.New), deleteBy(d, t, dialect.New)
	case dialect.Update:
		// up_sql keys on OLD and down_sql on NEW, so an update that changes
		// the primary key still replays and reverts against the right row.
		return updateFrom(d, t, dialect.New, dialect.Old), updateFrom(d, t, dialect.Old, dialect.New)
	default:
		return deleteBy(d, t, dialect.Old), insertFrom(d, t, dialect.Old)
	}
}

// insertFrom renders INSERT INTO t (cols) VALUES (values of row).
func insertFrom(d dialect.Dialect, t schema.Table, row dialect.Row) string {
	cols := t.Writable()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = d.Ident(c.Name)
	}

	b := newText(d).str("INSERT INTO " + d.TableRef(t.Name) + " (" + strings.Join(names, ",") + ") VALUES (")
	for i, c := range cols {
		if i > 0 {
			b.str(",")
		}
		b.expr(Format(d, c, row))
	}
	return b.str(")").String()
}

// deleteBy renders DELETE FROM t WHERE pk=<key of row>.
func deleteBy(d dialect.Dialect, t schema.Table, row dialect.Row) string {
	key := t.Key()
	return newText(d).
		str("DELETE FROM " + d.TableRef(t.Name) + " WHERE " + d.Ident(key.Name) + "=").
		expr(Format(d, key, row)).
		String()
}

// updateFrom renders UPDATE t SET <changes taken from set> WHERE pk=<key
// of where>. The WHERE clause addresses the row as it exists before the
// captured statement runs, which keeps a changed key reversible.
func updateFrom(d dialect.Dialect, t schema.Table, set, where dialect.Row) string {
	key := t.Key()
	return newText(d).
		str("UPDATE " + d.TableRef(t.Name) + " SET ").
		expr(SetList(d, t, set)).
		str(" WHERE " + d.Ident(key.Name) + "=").
		expr(Format(d, key, where)).
		String()
}

// action renders the ledger append the trigger runs for every row.
func action(d dialect.Dialect, ledger, table, up, down string) string {
	return fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s) VALUES (%s, %s, %s, %s)",
		d.TableRef(ledger),
		d.Ident(dialect.LedgerUpSQL),
		d.Ident(dialect.LedgerDownSQL),
		d.Ident(dialect.LedgerModTable),
		d.Ident(dialect.LedgerUser),
		up,
		down,
		d.Literal(table),
		d.SessionUser(),
	)
}

// Script renders specs as a runnable script: each trigger's drop
// statements followed by its create statements.
func Script(specs []TriggerSpec) string {
	var sb strings.Builder
	for i, s := range specs {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "-- %s (%s on %s)\n", s.Name, s.Event.Keyword(), s.Table)
		for _, stmt := range s.Drop {
			sb.WriteString(stmt)
			sb.WriteString(";\n")
		}
		for _, stmt := range s.Statements {
			sb.WriteString(stmt)
			sb.WriteString(";\n")
		}
	}
	return sb.String()
}
