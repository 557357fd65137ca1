package dialect

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roach88/undolog/internal/schema"
)

// Postgres renders SQL for PostgreSQL.
//
// Triggers are backed by a plpgsql function per trigger. DDL is
// transactional, so installs are atomic.
type Postgres struct {
	// Schema holds the instrumented tables and the ledger.
	Schema string
}

func (Postgres) Name() string   { return "postgres" }
func (Postgres) Driver() string { return "pgx" }

func (Postgres) DSN(p ConnParams) string {
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + p.Database,
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	if len(p.Params) > 0 {
		q := url.Values{}
		for k, v := range p.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (Postgres) QuoteIdent(name string) string { return quoteWith(name, `"`) }

func (d Postgres) Ident(name string) string {
	if needsQuote(name) {
		return d.QuoteIdent(name)
	}
	return name
}

// TableRef qualifies table with the schema unless the schema is public.
func (d Postgres) TableRef(table string) string {
	if d.Schema == "" || d.Schema == "public" {
		return d.Ident(table)
	}
	return d.Ident(d.Schema) + "." + d.Ident(table)
}

func (Postgres) Literal(s string) string { return standardLiteral(s) }

func (Postgres) MaxIdentLen() int { return 63 }

func (d Postgres) Ref(row Row, column string) string {
	return string(row) + "." + d.Ident(column)
}

func (Postgres) Concat(parts ...string) string {
	return "concat(" + strings.Join(parts, ", ") + ")"
}

func (d Postgres) ConcatWS(sep string, parts ...string) string {
	return "concat_ws(" + d.Literal(sep) + ", " + strings.Join(parts, ", ") + ")"
}

func (Postgres) Classify(sqlType string) schema.TypeClass { return schema.Classify(sqlType) }

// Format uses quote_nullable for every quoted class, including bytea whose
// text form round-trips through a string literal.
func (Postgres) Format(ref string, class schema.TypeClass) string {
	switch class {
	case schema.Numeric, schema.Boolean:
		return "COALESCE(CAST(" + ref + " AS text), 'NULL')"
	default:
		return "quote_nullable(" + ref + ")"
	}
}

func (Postgres) Differs(newRef, oldRef string) string {
	return newRef + " IS DISTINCT FROM " + oldRef
}

func (Postgres) SessionUser() string { return "session_user" }

func (d Postgres) LedgerDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
  %s BIGSERIAL PRIMARY KEY,
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

func (d Postgres) functionRef(trigger string) string {
	return d.TableRef(FunctionName(trigger, d.MaxIdentLen()))
}

func (d Postgres) CreateTrigger(t Trigger) []string {
	body := fmt.Sprintf("BEGIN\n  %s;\n  RETURN NULL;\nEND", t.Action)
	tag := dollarTag(body)
	fn := d.functionRef(t.Name)
	return []string{
		fmt.Sprintf("CREATE OR REPLACE FUNCTION %s() RETURNS trigger LANGUAGE plpgsql AS %s\n%s\n%s",
			fn, tag, body, tag),
		fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW EXECUTE FUNCTION %s()",
			d.Ident(t.Name), t.Event.Keyword(), d.TableRef(t.Table), fn),
	}
}

func (d Postgres) DropTrigger(t Trigger) []string {
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", d.Ident(t.Name), d.TableRef(t.Table)),
		fmt.Sprintf("DROP FUNCTION IF EXISTS %s()", d.functionRef(t.Name)),
	}
}

func (Postgres) TransactionalDDL() bool { return true }

// dollarTag picks a dollar-quote tag that does not occur in body.
func dollarTag(body string) string {
	tag := "$undolog$"
	for i := 1; strings.Contains(body, tag); i++ {
		tag = fmt.Sprintf("$undolog%d$", i)
	}
	return tag
}

func (d Postgres) TablesQuery(string) (string, []any) {
	return `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`, []any{d.Schema}
}

func (d Postgres) ColumnsQuery(_, table string) (string, []any) {
	return `SELECT c.column_name, c.data_type,
		       EXISTS (
		           SELECT 1
		           FROM information_schema.table_constraints tc
		           JOIN information_schema.key_column_usage k
		             ON k.constraint_schema = tc.constraint_schema
		            AND k.constraint_name = tc.constraint_name
		           WHERE tc.constraint_type = 'PRIMARY KEY'
		             AND tc.table_schema = c.table_schema
		             AND tc.table_name = c.table_name
		             AND k.column_name = c.column_name
		       ),
		       c.is_generated = 'ALWAYS'
		FROM information_schema.columns c
		WHERE c.table_schema = $1
		  AND c.table_name = $2
		ORDER BY c.ordinal_position`, []any{d.Schema, table}
}

func (d Postgres) TriggersQuery(_, table string) (string, []any) {
	return `SELECT DISTINCT trigger_name
		FROM information_schema.triggers
		WHERE event_object_schema = $1
		  AND event_object_table = $2
		ORDER BY trigger_name`, []any{d.Schema, table}
}

// PostgreSQL SQLSTATE codes.
const (
	stateDuplicateTable     = "42P07"
	stateTooManyConnections = "53300"
	stateAdminShutdown      = "57P01"
	stateCrashShutdown      = "57P02"
	stateCannotConnectNow   = "57P03"
)

func (Postgres) IsAlreadyExists(err error) bool {
	var pe *pgconn.PgError
	return errors.As(err, &pe) && pe.Code == stateDuplicateTable
}

func (Postgres) IsConnectivity(err error) bool {
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		if strings.HasPrefix(pe.Code, "08") {
			return true
		}
		switch pe.Code {
		case stateTooManyConnections, stateAdminShutdown, stateCrashShutdown, stateCannotConnectNow:
			return true
		}
	}
	return false
}
