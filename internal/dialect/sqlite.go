package dialect

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/undolog/internal/schema"
)

// SQLite renders SQL for SQLite (3.44 or newer, for concat_ws).
//
// SQLite values carry their own storage class, so quote() renders every
// column regardless of declared type.
type SQLite struct {
	// User is recorded in the ledger user column.
	User string
}

func (SQLite) Name() string   { return "sqlite" }
func (SQLite) Driver() string { return "sqlite3" }

// DSN returns the database path; host and credentials do not apply.
func (SQLite) DSN(p ConnParams) string {
	if len(p.Params) == 0 {
		return p.Database
	}
	parts := make([]string, 0, len(p.Params))
	for k, v := range p.Params {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return "file:" + p.Database + "?" + strings.Join(parts, "&")
}

func (SQLite) QuoteIdent(name string) string { return quoteWith(name, `"`) }

func (d SQLite) Ident(name string) string {
	if needsQuote(name) {
		return d.QuoteIdent(name)
	}
	return name
}

func (d SQLite) TableRef(table string) string { return d.Ident(table) }

func (SQLite) Literal(s string) string { return standardLiteral(s) }

func (SQLite) MaxIdentLen() int { return 0 }

func (d SQLite) Ref(row Row, column string) string {
	return string(row) + "." + d.Ident(column)
}

func (SQLite) Concat(parts ...string) string {
	return strings.Join(parts, " || ")
}

func (d SQLite) ConcatWS(sep string, parts ...string) string {
	return "concat_ws(" + d.Literal(sep) + ", " + strings.Join(parts, ", ") + ")"
}

func (SQLite) Classify(sqlType string) schema.TypeClass { return schema.ClassifyAffinity(sqlType) }

// Format renders through quote(), which escapes text, renders blobs as
// X'..' literals, numbers unquoted and NULL as the bare word NULL.
func (SQLite) Format(ref string, _ schema.TypeClass) string {
	return "quote(" + ref + ")"
}

func (SQLite) Differs(newRef, oldRef string) string {
	return newRef + " IS NOT " + oldRef
}

func (d SQLite) SessionUser() string { return d.Literal(d.User) }

func (d SQLite) LedgerDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
  %s INTEGER PRIMARY KEY AUTOINCREMENT,
  %s VARCHAR(200),
  %s TEXT,
  %s TEXT,
  %s VARCHAR(64),
  %s TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
		d.TableRef(table),
		d.Ident(LedgerID),
		d.Ident(LedgerUser),
		d.Ident(LedgerUpSQL),
		d.Ident(LedgerDownSQL),
		d.Ident(LedgerModTable),
		d.Ident(LedgerCreatedAt),
	)
}

func (d SQLite) CreateTrigger(t Trigger) []string {
	return []string{fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW\nBEGIN\n  %s;\nEND",
		d.Ident(t.Name), t.Event.Keyword(), d.TableRef(t.Table), t.Action)}
}

func (d SQLite) DropTrigger(t Trigger) []string {
	return []string{"DROP TRIGGER IF EXISTS " + d.Ident(t.Name)}
}

func (SQLite) TransactionalDDL() bool { return true }

func (SQLite) TablesQuery(string) (string, []any) {
	return `SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY name`, nil
}

// ColumnsQuery reads table_xinfo so generated columns are visible; hidden
// values 2 and 3 mark virtual and stored generated columns.
func (SQLite) ColumnsQuery(_, table string) (string, []any) {
	return `SELECT name, type, pk > 0, hidden IN (2, 3)
		FROM pragma_table_xinfo(?)
		ORDER BY cid`, []any{table}
}

func (SQLite) TriggersQuery(_, table string) (string, []any) {
	return `SELECT name
		FROM sqlite_master
		WHERE type = 'trigger'
		  AND tbl_name = ?
		ORDER BY name`, []any{table}
}

func (SQLite) IsAlreadyExists(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrError &&
		strings.Contains(se.Error(), "already exists")
}

func (SQLite) IsConnectivity(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked || se.Code == sqlite3.ErrCantOpen
	}
	return false
}
