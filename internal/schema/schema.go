// Package schema holds the table and column descriptors read from the
// engine catalog.
//
// Descriptors are read fresh on every run and are never cached.
package schema

import (
	"fmt"
	"strings"
)

// TypeClass selects how a column value is rendered into captured SQL.
type TypeClass int

const (
	// Text values are quoted with the engine's escaping quote function.
	Text TypeClass = iota
	// Numeric values are cast to text unquoted.
	Numeric
	// Boolean values are cast to text unquoted.
	Boolean
	// Temporal values (date, time, timestamp) are quoted like text.
	Temporal
	// Binary values are rendered as hex literals where the engine supports it.
	Binary
	// Bit values are rendered as bit-string literals (b'101').
	Bit
)

// String returns the lowercase class name.
func (c TypeClass) String() string {
	switch c {
	case Numeric:
		return "numeric"
	case Boolean:
		return "boolean"
	case Temporal:
		return "temporal"
	case Binary:
		return "binary"
	case Bit:
		return "bit"
	default:
		return "text"
	}
}

// Quoted reports whether values of this class are rendered as quoted literals.
func (c TypeClass) Quoted() bool {
	return c == Text || c == Temporal
}

// Column describes one column in catalog-declared order.
type Column struct {
	Name       string
	SQLType    string
	Class      TypeClass
	PrimaryKey bool
	// Generated columns are computed by the engine and cannot be assigned.
	Generated bool
}

// Table describes one user table.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey string
}

// NewTable builds a Table from introspected columns and resolves its
// single-column primary key.
func NewTable(name string, cols []Column) (Table, error) {
	t := Table{Name: name, Columns: cols}
	if len(cols) == 0 {
		return t, fmt.Errorf("table %q reports zero columns", name)
	}
	var keys []string
	for _, c := range cols {
		if c.PrimaryKey {
			keys = append(keys, c.Name)
		}
	}
	switch len(keys) {
	case 0:
		return t, fmt.Errorf("table %q has no primary key", name)
	case 1:
		t.PrimaryKey = keys[0]
	default:
		return t, fmt.Errorf("table %q has a composite primary key (%s)", name, strings.Join(keys, ", "))
	}
	return t, nil
}

// Key returns the primary key column.
func (t Table) Key() Column {
	for _, c := range t.Columns {
		if c.Name == t.PrimaryKey {
			return c
		}
	}
	return Column{}
}

// Writable returns the columns that can appear in INSERT column lists.
func (t Table) Writable() []Column {
	out := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Generated {
			out = append(out, c)
		}
	}
	return out
}

// NonKey returns writable columns other than the primary key.
func (t Table) NonKey() []Column {
	out := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Generated && !c.PrimaryKey {
			out = append(out, c)
		}
	}
	return out
}

// Classify maps a MySQL or PostgreSQL catalog type name to a TypeClass.
// Names it does not know, such as geometry and range types, are Text so
// their values are captured as quoted literals.
func Classify(sqlType string) TypeClass {
	class, _ := classifyExact(sqlType)
	return class
}

// ClassifyAffinity maps a SQLite declared type to a TypeClass. Declared
// types are free text in SQLite, so names that are not matched exactly fall
// back to its column affinity rules.
func ClassifyAffinity(sqlType string) TypeClass {
	if class, ok := classifyExact(sqlType); ok {
		return class
	}

	t := strings.ToLower(sqlType)
	switch {
	case strings.Contains(t, "int"):
		return Numeric
	case strings.Contains(t, "char"), strings.Contains(t, "clob"), strings.Contains(t, "text"):
		return Text
	case strings.Contains(t, "blob"):
		return Binary
	case strings.Contains(t, "real"), strings.Contains(t, "floa"), strings.Contains(t, "doub"):
		return Numeric
	}
	return Text
}

func classifyExact(sqlType string) (TypeClass, bool) {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	base := t
	if i := strings.IndexAny(t, "( "); i >= 0 {
		base = t[:i]
	}

	switch base {
	case "bool", "boolean":
		return Boolean, true
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint",
		"int2", "int4", "int8", "decimal", "dec", "numeric", "fixed",
		"float", "float4", "float8", "double", "real",
		"serial", "smallserial", "bigserial", "year", "oid":
		return Numeric, true
	case "date", "datetime", "timestamp", "timestamptz", "time", "timetz", "interval":
		return Temporal, true
	case "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary", "bytea":
		return Binary, true
	case "bit", "varbit":
		return Bit, true
	case "char", "character", "varchar", "nchar", "nvarchar", "text",
		"tinytext", "mediumtext", "longtext", "clob":
		return Text, true
	}
	return Text, false
}
