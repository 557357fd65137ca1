package dialect

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/roach88/undolog/internal/schema"
)

// MySQL renders SQL for MySQL and MariaDB.
//
// MySQL cannot roll back DDL, so it implements Stager.
type MySQL struct{}

var _ Stager = MySQL{}

func (MySQL) Name() string   { return "mysql" }
func (MySQL) Driver() string { return "mysql" }

func (MySQL) DSN(p ConnParams) string {
	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	host := p.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := p.Port
	if port == 0 {
		port = 3306
	}
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = p.Database
	if len(p.Params) > 0 {
		cfg.Params = p.Params
	}
	return cfg.FormatDSN()
}

func (MySQL) QuoteIdent(name string) string { return quoteWith(name, "`") }

func (d MySQL) Ident(name string) string {
	if needsQuote(name) {
		return d.QuoteIdent(name)
	}
	return name
}

func (d MySQL) TableRef(table string) string { return d.Ident(table) }

// Literal escapes backslashes as well as quotes; MySQL treats backslash as
// an escape character unless NO_BACKSLASH_ESCAPES is set.
func (MySQL) Literal(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return standardLiteral(s)
}

func (MySQL) MaxIdentLen() int { return 64 }

func (d MySQL) Ref(row Row, column string) string {
	return string(row) + "." + d.Ident(column)
}

func (MySQL) Concat(parts ...string) string {
	return "CONCAT(" + strings.Join(parts, ", ") + ")"
}

func (d MySQL) ConcatWS(sep string, parts ...string) string {
	return "CONCAT_WS(" + d.Literal(sep) + ", " + strings.Join(parts, ", ") + ")"
}

func (MySQL) Classify(sqlType string) schema.TypeClass { return schema.Classify(sqlType) }

// Format uses QUOTE() for textual values. QUOTE escapes quotes, backslashes,
// NUL and Control+Z, and returns the bare word NULL for NULL.
func (d MySQL) Format(ref string, class schema.TypeClass) string {
	switch class {
	case schema.Numeric, schema.Boolean:
		return "COALESCE(CAST(" + ref + " AS CHAR), 'NULL')"
	case schema.Binary:
		return "CASE WHEN " + ref + " IS NULL THEN 'NULL' ELSE " +
			d.Concat(d.Literal("X'"), "HEX("+ref+")", d.Literal("'")) + " END"
	case schema.Bit:
		// HEX of a BIT value can have an odd digit count, which X'' rejects.
		return "CASE WHEN " + ref + " IS NULL THEN 'NULL' ELSE " +
			d.Concat(d.Literal("b'"), "BIN("+ref+")", d.Literal("'")) + " END"
	default:
		return "QUOTE(" + ref + ")"
	}
}

func (MySQL) Differs(newRef, oldRef string) string {
	return "NOT (" + newRef + " <=> " + oldRef + ")"
}

func (MySQL) SessionUser() string { return "USER()" }

func (d MySQL) LedgerDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
  %s INT UNSIGNED NOT NULL AUTO_INCREMENT,
  %s VARCHAR(200) DEFAULT NULL,
  %s LONGTEXT,
  %s LONGTEXT,
  %s VARCHAR(64) DEFAULT NULL,
  %s TIMESTAMP NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (%s)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		d.TableRef(table),
		d.Ident(LedgerID),
		d.Ident(LedgerUser),
		d.Ident(LedgerUpSQL),
		d.Ident(LedgerDownSQL),
		d.Ident(LedgerModTable),
		d.Ident(LedgerCreatedAt),
		d.Ident(LedgerID),
	)
}

func (d MySQL) CreateTrigger(t Trigger) []string {
	return []string{fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW\n%s",
		d.Ident(t.Name), t.Event.Keyword(), d.TableRef(t.Table), t.Action)}
}

func (d MySQL) DropTrigger(t Trigger) []string {
	return []string{"DROP TRIGGER IF EXISTS " + d.Ident(t.Name)}
}

func (MySQL) TransactionalDDL() bool { return false }

// StageTrigger renders a trigger with the same body wrapped in IF FALSE, so
// the engine validates columns and privileges but the trigger never writes.
func (d MySQL) StageTrigger(t Trigger) (create, drop []string) {
	name := StagingName(t.Name, d.MaxIdentLen())
	create = []string{fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW\nBEGIN\n  IF FALSE THEN\n    %s;\n  END IF;\nEND",
		d.Ident(name), t.Event.Keyword(), d.TableRef(t.Table), t.Action)}
	drop = []string{"DROP TRIGGER IF EXISTS " + d.Ident(name)}
	return create, drop
}

func (MySQL) TablesQuery(database string) (string, []any) {
	return `SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE())
		  AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, []any{database}
}

func (MySQL) ColumnsQuery(database, table string) (string, []any) {
	return `SELECT COLUMN_NAME, DATA_TYPE, COLUMN_KEY = 'PRI',
		       EXTRA IN ('VIRTUAL GENERATED', 'STORED GENERATED')
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE())
		  AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, []any{database, table}
}

func (MySQL) TriggersQuery(database, table string) (string, []any) {
	return `SELECT TRIGGER_NAME
		FROM INFORMATION_SCHEMA.TRIGGERS
		WHERE TRIGGER_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE())
		  AND EVENT_OBJECT_TABLE = ?
		ORDER BY TRIGGER_NAME`, []any{database, table}
}

// MySQL server error numbers.
const (
	erTableExists     = 1050
	erConCount        = 1040
	erServerShutdown  = 1053
	erUnknownComError = 1047
	erLockWaitTimeout = 1205
)

func (MySQL) IsAlreadyExists(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erTableExists
}

func (MySQL) IsConnectivity(err error) bool {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case erConCount, erServerShutdown, erUnknownComError, erLockWaitTimeout:
			return true
		}
	}
	return false
}
