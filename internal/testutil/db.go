package testutil

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/store"
)

// OrdersDDL creates the orders table used across tests.
const OrdersDDL = `CREATE TABLE orders (
	id INTEGER PRIMARY KEY,
	status TEXT,
	amount INTEGER
)`

// SQLiteUser is the ledger user recorded by sessions from OpenSQLite.
const SQLiteUser = "tester"

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenSQLite opens a session on a fresh SQLite database in a temporary
// directory and runs the given setup statements.
func OpenSQLite(t *testing.T, setup ...string) *store.Session {
	t.Helper()
	return OpenWith(t, dialect.SQLite{User: SQLiteUser}, setup...)
}

// OpenWith is OpenSQLite with a caller-supplied dialect, which must render
// SQL that SQLite accepts.
func OpenWith(t *testing.T, d dialect.Dialect, setup ...string) *store.Session {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(context.Background(), store.Config{
		Dialect: d,
		DSN:     path,
		Logger:  Logger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	Exec(t, s, setup...)
	return s
}

// Exec runs statements on s, failing the test on the first error.
func Exec(t *testing.T, s *store.Session, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		require.NoError(t, s.Exec(context.Background(), stmt), stmt)
	}
}

// QueryStrings runs a single-column query and returns its values.
func QueryStrings(t *testing.T, s *store.Session, query string, args ...any) []string {
	t.Helper()
	var out []string
	err := s.Query(context.Background(),
		func() { out = nil },
		func(rows *sql.Rows) error {
			var v sql.NullString
			if err := rows.Scan(&v); err != nil {
				return err
			}
			out = append(out, v.String)
			return nil
		},
		query, args...)
	require.NoError(t, err)
	return out
}

// NewSQLiteFile creates a SQLite database file, runs the setup statements
// and closes it, returning the path. Use it where the code under test
// opens the database itself.
func NewSQLiteFile(t *testing.T, setup ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	s, err := store.Open(context.Background(), store.Config{
		Dialect: dialect.SQLite{User: SQLiteUser},
		DSN:     path,
		Logger:  Logger(),
	})
	require.NoError(t, err)
	Exec(t, s, setup...)
	require.NoError(t, s.Close())
	return path
}
