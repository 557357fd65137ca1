// Package dialect renders engine-specific SQL for the trigger generator.
//
// A Dialect owns every piece of SQL text whose spelling differs between
// engines: identifier and literal quoting, the expression primitives used
// inside trigger bodies, ledger and trigger DDL, catalog queries, and the
// classification of driver errors. The synthesis algorithm itself lives in
// package synth and is written once against this interface.
package dialect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/undolog/internal/schema"
)

// Event is a row-level mutation kind.
type Event string

const (
	Insert Event = "insert"
	Update Event = "update"
	Delete Event = "delete"
)

// Events lists the three event kinds in install order.
var Events = []Event{Insert, Update, Delete}

// Keyword returns the SQL keyword for the event.
func (e Event) Keyword() string {
	return strings.ToUpper(string(e))
}

// Row selects the transition row a trigger body reads from.
type Row string

const (
	New Row = "NEW"
	Old Row = "OLD"
)

// Trigger is a fully synthesized trigger, ready to be rendered as DDL.
type Trigger struct {
	Name  string
	Table string
	Event Event
	// Action is the single statement the trigger runs per affected row.
	Action string
}

// ConnParams are the connection settings a dialect turns into a DSN.
type ConnParams struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Params   map[string]string
}

// Options tune dialect rendering.
type Options struct {
	// Schema is the PostgreSQL schema holding the instrumented tables.
	Schema string
	// SessionUser is recorded as the ledger user on SQLite, which has no
	// session identity of its own.
	SessionUser string
}

// Dialect renders engine-specific SQL.
type Dialect interface {
	// Name is the dialect name used in configuration ("mysql", "postgres", "sqlite").
	Name() string
	// Driver is the database/sql driver name.
	Driver() string
	// DSN builds a driver connection string.
	DSN(p ConnParams) string

	// QuoteIdent always quotes name.
	QuoteIdent(name string) string
	// Ident quotes name only when it is not a plain lowercase identifier.
	Ident(name string) string
	// TableRef renders a table name for use in statements.
	TableRef(table string) string
	// Literal renders s as an escaped string literal.
	Literal(s string) string
	// MaxIdentLen is the engine's identifier length limit, 0 when unlimited.
	MaxIdentLen() int

	// Ref renders a transition-row column reference such as NEW.amount.
	Ref(row Row, column string) string
	// Concat concatenates text expressions.
	Concat(parts ...string) string
	// ConcatWS joins text expressions with sep, skipping NULL parts.
	ConcatWS(sep string, parts ...string) string
	// Classify maps a catalog type name to the class Format renders.
	Classify(sqlType string) schema.TypeClass
	// Format renders ref as the text of a SQL literal reproducing its value.
	Format(ref string, class schema.TypeClass) string
	// Differs is a null-safe "values differ" predicate.
	Differs(newRef, oldRef string) string
	// SessionUser is the expression recorded as the ledger user.
	SessionUser() string

	// LedgerDDL creates the ledger table.
	LedgerDDL(table string) string
	// CreateTrigger renders the statements that create t.
	CreateTrigger(t Trigger) []string
	// DropTrigger renders the statements that drop t if it exists.
	DropTrigger(t Trigger) []string
	// TransactionalDDL reports whether DROP and CREATE TRIGGER can share a
	// transaction that rolls back atomically.
	TransactionalDDL() bool

	// TablesQuery lists user base tables, ordered by name.
	TablesQuery(database string) (string, []any)
	// ColumnsQuery describes a table. Rows are (name, type, is_pk, is_generated)
	// in declared order.
	ColumnsQuery(database, table string) (string, []any)
	// TriggersQuery lists trigger names on a table.
	TriggersQuery(database, table string) (string, []any)

	// IsAlreadyExists reports whether err is a "table already exists" rejection.
	IsAlreadyExists(err error) bool
	// IsConnectivity reports whether err means the engine was unreachable.
	IsConnectivity(err error) bool
}

// Stager is implemented by dialects without transactional DDL. A staging
// trigger proves a definition compiles without ever writing a row.
type Stager interface {
	StageTrigger(t Trigger) (create, drop []string)
}

// Names lists supported dialect names.
var Names = []string{"mysql", "postgres", "sqlite"}

// Lookup returns the dialect registered under name.
func Lookup(name string, opts Options) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql", "mariadb":
		return MySQL{}, nil
	case "postgres", "postgresql", "pgx":
		schemaName := opts.Schema
		if schemaName == "" {
			schemaName = "public"
		}
		return Postgres{Schema: schemaName}, nil
	case "sqlite", "sqlite3":
		user := opts.SessionUser
		if user == "" {
			user = "sqlite"
		}
		return SQLite{User: user}, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q: must be one of %v", name, Names)
	}
}

var plainIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reserved holds words that must be quoted in at least one supported engine.
var reserved = map[string]bool{
	"add": true, "all": true, "alter": true, "and": true, "as": true, "asc": true,
	"between": true, "by": true, "case": true, "check": true, "column": true,
	"constraint": true, "create": true, "cross": true, "current_date": true,
	"current_time": true, "current_timestamp": true, "current_user": true,
	"default": true, "delete": true, "desc": true, "distinct": true, "drop": true,
	"else": true, "end": true, "exists": true, "for": true, "foreign": true,
	"from": true, "group": true, "having": true, "in": true, "index": true,
	"inner": true, "insert": true, "into": true, "is": true, "join": true,
	"key": true, "left": true, "like": true, "limit": true, "not": true,
	"null": true, "offset": true, "on": true, "or": true, "order": true,
	"outer": true, "primary": true, "references": true, "right": true,
	"select": true, "session_user": true, "set": true, "table": true,
	"then": true, "to": true, "trigger": true, "union": true, "unique": true,
	"update": true, "user": true, "using": true, "values": true, "when": true,
	"where": true, "with": true,
}

// needsQuote reports whether name must be quoted to survive as an identifier.
func needsQuote(name string) bool {
	return !plainIdent.MatchString(name) || reserved[name]
}

func quoteWith(name string, q string) string {
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// standardLiteral escapes s per the SQL standard (quotes doubled).
func standardLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
