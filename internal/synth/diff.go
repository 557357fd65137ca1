package synth

import (
	"strings"

	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/schema"
)

// Format renders an expression evaluating to the SQL literal text of
// row.col, so that the captured statement reproduces the value exactly.
// The result is never NULL; a NULL value renders as the word NULL.
func Format(d dialect.Dialect, col schema.Column, row dialect.Row) string {
	return d.Format(d.Ref(row, col.Name), col.Class)
}

// Assign renders an expression evaluating to "<col>=<value>" for row.
func Assign(d dialect.Dialect, col schema.Column, row dialect.Row) string {
	return d.Concat(d.Literal(d.Ident(col.Name)+"="), Format(d, col, row))
}

// Diff renders an expression evaluating to "<col>=<value of row>" when
// NEW and OLD differ on col, and to NULL otherwise. The comparison treats
// NULL as an ordinary value.
func Diff(d dialect.Dialect, col schema.Column, row dialect.Row) string {
	changed := d.Differs(d.Ref(dialect.New, col.Name), d.Ref(dialect.Old, col.Name))
	return "CASE WHEN " + changed + " THEN " + Assign(d, col, row) + " END"
}

// SetList renders the SET list of a captured UPDATE over row: one
// assignment per changed column, non-key columns first and the key last.
// When no column changed the key is assigned to itself so the statement
// stays valid.
func SetList(d dialect.Dialect, t schema.Table, row dialect.Row) string {
	key := t.Key()
	parts := make([]string, 0, len(t.Columns))
	for _, c := range t.NonKey() {
		parts = append(parts, Diff(d, c, row))
	}
	parts = append(parts, Diff(d, key, row))
	return "COALESCE(NULLIF(" + d.ConcatWS(",", parts...) + ", ''), " + Assign(d, key, row) + ")"
}

// text accumulates a string-valued SQL expression out of literal text and
// sub-expressions, merging adjacent literal runs.
type text struct {
	d     dialect.Dialect
	parts []string
	lit   strings.Builder
}

func newText(d dialect.Dialect) *text {
	return &text{d: d}
}

func (b *text) str(s string) *text {
	b.lit.WriteString(s)
	return b
}

func (b *text) expr(e string) *text {
	b.flush()
	b.parts = append(b.parts, e)
	return b
}

func (b *text) flush() {
	if b.lit.Len() > 0 {
		b.parts = append(b.parts, b.d.Literal(b.lit.String()))
		b.lit.Reset()
	}
}

func (b *text) String() string {
	b.flush()
	if len(b.parts) == 1 {
		return b.parts[0]
	}
	return b.d.Concat(b.parts...)
}
