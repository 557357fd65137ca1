// Package catalog reads table and column descriptors from the engine's
// own catalog. Nothing is cached; every call queries the engine.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/fault"
	"github.com/roach88/undolog/internal/schema"
	"github.com/roach88/undolog/internal/store"
)

// Reader introspects the database a session is connected to.
type Reader struct {
	session *store.Session
	dialect dialect.Dialect
	// database scopes MySQL catalog queries; empty means the connection's
	// current database.
	database string
	logger   *slog.Logger
}

// NewReader creates a Reader. A nil logger uses slog.Default().
func NewReader(s *store.Session, database string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		session:  s,
		dialect:  s.Dialect(),
		database: database,
		logger:   logger,
	}
}

// TableNames lists user base tables ordered by name. Views and engine
// internal tables are not included.
func (r *Reader) TableNames(ctx context.Context) ([]string, error) {
	query, args := r.dialect.TablesQuery(r.database)

	var names []string
	err := r.session.Query(ctx,
		func() { names = names[:0] },
		func(rows *sql.Rows) error {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
			return nil
		},
		query, args...)
	if err != nil {
		return nil, classify("", "list tables", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Describe reads the columns of table in declared order and resolves its
// primary key. Tables with zero columns or without a single-column primary
// key are INTROSPECTION errors.
func (r *Reader) Describe(ctx context.Context, table string) (schema.Table, error) {
	query, args := r.dialect.ColumnsQuery(r.database, table)

	var cols []schema.Column
	err := r.session.Query(ctx,
		func() { cols = cols[:0] },
		func(rows *sql.Rows) error {
			var c schema.Column
			if err := rows.Scan(&c.Name, &c.SQLType, &c.PrimaryKey, &c.Generated); err != nil {
				return err
			}
			c.Class = r.dialect.Classify(c.SQLType)
			cols = append(cols, c)
			return nil
		},
		query, args...)
	if err != nil {
		return schema.Table{}, classify(table, "describe table", err)
	}

	t, err := schema.NewTable(table, cols)
	if err != nil {
		return schema.Table{}, fault.Introspection(table, "cannot describe table", err)
	}

	r.logger.Debug("described table",
		"table", table,
		"columns", len(cols),
		"primary_key", t.PrimaryKey,
	)
	return t, nil
}

// Tables describes every user table in one call, for one-shot
// introspection. Tables that cannot be described are left out of the
// result and their errors joined; a failure to list tables at all returns
// no descriptors. Runs use TableNames and Describe instead so each table's
// failure is reported against that table.
func (r *Reader) Tables(ctx context.Context) ([]schema.Table, error) {
	names, err := r.TableNames(ctx)
	if err != nil {
		return nil, err
	}

	tables := make([]schema.Table, 0, len(names))
	var errs []error
	for _, name := range names {
		t, err := r.Describe(ctx, name)
		if err != nil {
			if fault.IsConnectivity(err) {
				return nil, err
			}
			errs = append(errs, err)
			continue
		}
		tables = append(tables, t)
	}
	return tables, errors.Join(errs...)
}

// Triggers lists the names of triggers defined on table.
func (r *Reader) Triggers(ctx context.Context, table string) ([]string, error) {
	query, args := r.dialect.TriggersQuery(r.database, table)

	var names []string
	err := r.session.Query(ctx,
		func() { names = names[:0] },
		func(rows *sql.Rows) error {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
			return nil
		},
		query, args...)
	if err != nil {
		return nil, classify(table, "list triggers", err)
	}
	return names, nil
}

// classify keeps CONNECTIVITY errors and reports everything else as an
// INTROSPECTION failure.
func classify(table, op string, err error) error {
	if fault.IsConnectivity(err) {
		return err
	}
	return fault.Introspection(table, op+" failed", err)
}
