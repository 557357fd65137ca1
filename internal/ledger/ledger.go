// Package ledger manages the append-only table the generated triggers
// write to.
//
// The ledger has a fixed shape on every engine:
//
//	id          auto-increment primary key
//	user        session user that made the change
//	up_sql      statement replaying the change
//	down_sql    statement reversing the change
//	mod_table   table the change was made to
//	created_at  time of the change
//
// Only triggers insert into the ledger. This package creates it, verifies
// an existing ledger is compatible, and reads entries back.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/fault"
	"github.com/roach88/undolog/internal/schema"
	"github.com/roach88/undolog/internal/store"
)

// Entry is one ledger row.
type Entry struct {
	ID        int64  `json:"id" yaml:"id"`
	User      string `json:"user" yaml:"user"`
	UpSQL     string `json:"up_sql" yaml:"up_sql"`
	DownSQL   string `json:"down_sql" yaml:"down_sql"`
	ModTable  string `json:"mod_table" yaml:"mod_table"`
	CreatedAt string `json:"created_at" yaml:"created_at"`
}

// shape is the type class each ledger column must have.
var shape = []struct {
	column string
	class  schema.TypeClass
}{
	{dialect.LedgerID, schema.Numeric},
	{dialect.LedgerUser, schema.Text},
	{dialect.LedgerUpSQL, schema.Text},
	{dialect.LedgerDownSQL, schema.Text},
	{dialect.LedgerModTable, schema.Text},
	{dialect.LedgerCreatedAt, schema.Temporal},
}

// Manager creates and verifies the ledger table.
type Manager struct {
	session  *store.Session
	dialect  dialect.Dialect
	table    string
	database string
	logger   *slog.Logger
}

// NewManager creates a Manager for the ledger named table. An empty table
// uses dialect.DefaultLedgerTable; a nil logger uses slog.Default().
func NewManager(s *store.Session, database, table string, logger *slog.Logger) *Manager {
	if table == "" {
		table = dialect.DefaultLedgerTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		session:  s,
		dialect:  s.Dialect(),
		table:    table,
		database: database,
		logger:   logger,
	}
}

// Table returns the ledger table name.
func (m *Manager) Table() string {
	return m.table
}

// Ensure creates the ledger if it does not exist and verifies its shape.
// An existing ledger with a missing column or an incompatible column type
// is a SCHEMA_CONFLICT error.
func (m *Manager) Ensure(ctx context.Context) error {
	err := m.create(ctx)
	switch {
	case err == nil:
		m.logger.Info("created ledger table", "table", m.table)
	case errors.Is(err, fault.ErrLedgerAlreadyExists):
		m.logger.Debug("ledger table already exists", "table", m.table)
	default:
		return err
	}
	return m.Verify(ctx)
}

// create issues CREATE TABLE, mapping the engine's "already exists"
// rejection to fault.ErrLedgerAlreadyExists.
func (m *Manager) create(ctx context.Context) error {
	err := m.session.Exec(ctx, m.dialect.LedgerDDL(m.table))
	if err == nil {
		return nil
	}
	if m.dialect.IsAlreadyExists(err) {
		return fault.ErrLedgerAlreadyExists
	}
	if fault.IsConnectivity(err) {
		return err
	}
	return fmt.Errorf("create ledger table %s: %w", m.table, err)
}

// Verify checks that the ledger has every required column with a
// compatible type class. Extra columns are allowed.
func (m *Manager) Verify(ctx context.Context) error {
	query, args := m.dialect.ColumnsQuery(m.database, m.table)

	classes := map[string]schema.TypeClass{}
	types := map[string]string{}
	err := m.session.Query(ctx,
		func() {
			clear(classes)
			clear(types)
		},
		func(rows *sql.Rows) error {
			var (
				name, sqlType string
				pk, generated bool
			)
			if err := rows.Scan(&name, &sqlType, &pk, &generated); err != nil {
				return err
			}
			classes[name] = m.dialect.Classify(sqlType)
			types[name] = sqlType
			return nil
		},
		query, args...)
	if err != nil {
		if fault.IsConnectivity(err) {
			return err
		}
		return fault.Introspection(m.table, "describe ledger table failed", err)
	}

	if len(classes) == 0 {
		return fault.SchemaConflict(m.table, "ledger table has no columns")
	}
	for _, want := range shape {
		got, ok := classes[want.column]
		if !ok {
			return fault.SchemaConflict(m.table, fmt.Sprintf("ledger column %q is missing", want.column))
		}
		if got != want.class {
			return fault.SchemaConflict(m.table, fmt.Sprintf("ledger column %q has type %s, want a %s type",
				want.column, types[want.column], want.class))
		}
	}
	return nil
}

// Entries reads ledger rows in insertion order. A table argument limits
// the result to entries for that table.
func (m *Manager) Entries(ctx context.Context, table string) ([]Entry, error) {
	d := m.dialect
	query := fmt.Sprintf("SELECT %s, %s, %s, %s, %s, %s FROM %s",
		d.Ident(dialect.LedgerID),
		d.Ident(dialect.LedgerUser),
		d.Ident(dialect.LedgerUpSQL),
		d.Ident(dialect.LedgerDownSQL),
		d.Ident(dialect.LedgerModTable),
		d.Ident(dialect.LedgerCreatedAt),
		d.TableRef(m.table),
	)
	var args []any
	if table != "" {
		query += " WHERE " + d.Ident(dialect.LedgerModTable) + " = " + placeholder(d)
		args = append(args, table)
	}
	query += " ORDER BY " + d.Ident(dialect.LedgerID)

	var entries []Entry
	err := m.session.Query(ctx,
		func() { entries = entries[:0] },
		func(rows *sql.Rows) error {
			var (
				e               Entry
				user, createdAt sql.NullString
			)
			if err := rows.Scan(&e.ID, &user, &e.UpSQL, &e.DownSQL, &e.ModTable, &createdAt); err != nil {
				return err
			}
			e.User = user.String
			e.CreatedAt = createdAt.String
			entries = append(entries, e)
			return nil
		},
		query, args...)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Count returns the number of ledger rows.
func (m *Manager) Count(ctx context.Context) (int64, error) {
	var n int64
	err := m.session.Query(ctx, nil,
		func(rows *sql.Rows) error { return rows.Scan(&n) },
		"SELECT COUNT(*) FROM "+m.dialect.TableRef(m.table))
	if err != nil {
		return 0, fmt.Errorf("count ledger: %w", err)
	}
	return n, nil
}

func placeholder(d dialect.Dialect) string {
	if d.Name() == "postgres" {
		return "$1"
	}
	return "?"
}
