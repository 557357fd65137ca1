package synth

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/schema"
)

func ordersTable(t *testing.T) schema.Table {
	t.Helper()
	tbl, err := schema.NewTable("orders", []schema.Column{
		{Name: "id", SQLType: "integer", Class: schema.Numeric, PrimaryKey: true},
		{Name: "status", SQLType: "varchar(20)", Class: schema.Text},
		{Name: "amount", SQLType: "decimal(10,2)", Class: schema.Numeric},
		{Name: "placed_at", SQLType: "timestamp", Class: schema.Temporal},
		{Name: "receipt", SQLType: "blob", Class: schema.Binary},
		{Name: "amount_due", SQLType: "decimal(10,2)", Class: schema.Numeric, Generated: true},
	})
	require.NoError(t, err)
	return tbl
}

func allDialects() []dialect.Dialect {
	return []dialect.Dialect{
		dialect.MySQL{},
		dialect.Postgres{Schema: "public"},
		dialect.SQLite{User: "sqlite"},
	}
}

func TestSynthesize_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, d := range allDialects() {
		t.Run(d.Name(), func(t *testing.T) {
			specs, err := Synthesize(d, Options{}, ordersTable(t))
			require.NoError(t, err)
			g.Assert(t, "orders_"+d.Name(), []byte(Script(specs)))
		})
	}
}

func TestSynthesize_OneTriggerPerEvent(t *testing.T) {
	for _, d := range allDialects() {
		t.Run(d.Name(), func(t *testing.T) {
			specs, err := Synthesize(d, Options{}, ordersTable(t))
			require.NoError(t, err)
			require.Len(t, specs, 3)

			assert.Equal(t, dialect.Insert, specs[0].Event)
			assert.Equal(t, dialect.Update, specs[1].Event)
			assert.Equal(t, dialect.Delete, specs[2].Event)

			for _, s := range specs {
				assert.Equal(t, "orders", s.Table)
				assert.Equal(t, "orders_log_after_"+string(s.Event), s.Name)
				assert.NotEmpty(t, s.Statements)
				assert.NotEmpty(t, s.Drop)
			}
			assert.Equal(t, Names(d, "orders"), []string{specs[0].Name, specs[1].Name, specs[2].Name})
		})
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	for _, d := range allDialects() {
		a, err := Synthesize(d, Options{}, ordersTable(t))
		require.NoError(t, err)
		b, err := Synthesize(d, Options{}, ordersTable(t))
		require.NoError(t, err)
		assert.Equal(t, a, b, d.Name())
	}
}

func TestSynthesize_GeneratedColumnsExcluded(t *testing.T) {
	specs, err := Synthesize(dialect.SQLite{User: "sqlite"}, Options{}, ordersTable(t))
	require.NoError(t, err)

	for _, s := range specs {
		assert.NotContains(t, s.Up, "amount_due")
		assert.NotContains(t, s.Down, "amount_due")
	}
}

func TestSynthesize_UpdateKeysOnPriorRow(t *testing.T) {
	specs, err := Synthesize(dialect.SQLite{User: "sqlite"}, Options{}, ordersTable(t))
	require.NoError(t, err)

	update := specs[1]
	assert.True(t, strings.HasSuffix(update.Up, "' WHERE id=' || quote(OLD.id)"), update.Up)
	assert.True(t, strings.HasSuffix(update.Down, "' WHERE id=' || quote(NEW.id)"), update.Down)
}

func TestSynthesize_LedgerTable(t *testing.T) {
	specs, err := Synthesize(dialect.SQLite{User: "ci"}, Options{LedgerTable: "audit_log"}, ordersTable(t))
	require.NoError(t, err)

	action := specs[0].Trigger.Action
	assert.True(t, strings.HasPrefix(action, `INSERT INTO audit_log (up_sql, down_sql, mod_table, "user") VALUES (`))
	assert.True(t, strings.HasSuffix(action, `, 'orders', 'ci')`))
}

func TestSynthesize_QuotesReservedNames(t *testing.T) {
	tbl, err := schema.NewTable("order", []schema.Column{
		{Name: "key", Class: schema.Numeric, PrimaryKey: true},
		{Name: "Label", Class: schema.Text},
	})
	require.NoError(t, err)

	specs, err := Synthesize(dialect.MySQL{}, Options{}, tbl)
	require.NoError(t, err)

	assert.Equal(t, "CONCAT('DELETE FROM `order` WHERE `key`=', COALESCE(CAST(NEW.`key` AS CHAR), 'NULL'))", specs[0].Down)
	assert.Contains(t, specs[1].Up, "CONCAT('`Label`=', QUOTE(NEW.`Label`))")
}

func TestSynthesize_RejectsKeylessTable(t *testing.T) {
	_, err := Synthesize(dialect.SQLite{}, Options{}, schema.Table{
		Name:    "events",
		Columns: []schema.Column{{Name: "payload"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no primary key")
}

func TestSynthesize_LongTableName(t *testing.T) {
	name := strings.Repeat("t", 70)
	tbl, err := schema.NewTable(name, []schema.Column{
		{Name: "id", Class: schema.Numeric, PrimaryKey: true},
	})
	require.NoError(t, err)

	specs, err := Synthesize(dialect.MySQL{}, Options{}, tbl)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, s := range specs {
		assert.LessOrEqual(t, len(s.Name), 64)
		assert.False(t, seen[s.Name], "duplicate name %s", s.Name)
		seen[s.Name] = true
	}
}

func TestSetList(t *testing.T) {
	tbl, err := schema.NewTable("orders", []schema.Column{
		{Name: "id", Class: schema.Numeric, PrimaryKey: true},
		{Name: "status", Class: schema.Text},
	})
	require.NoError(t, err)

	got := SetList(dialect.Postgres{}, tbl, dialect.New)
	assert.Equal(t, "COALESCE(NULLIF(concat_ws(',', "+
		"CASE WHEN NEW.status IS DISTINCT FROM OLD.status THEN concat('status=', quote_nullable(NEW.status)) END, "+
		"CASE WHEN NEW.id IS DISTINCT FROM OLD.id THEN concat('id=', COALESCE(CAST(NEW.id AS text), 'NULL')) END), ''), "+
		"concat('id=', COALESCE(CAST(NEW.id AS text), 'NULL')))", got)
}

func TestDropSpecs(t *testing.T) {
	specs := DropSpecs(dialect.Postgres{Schema: "public"}, "orders")
	require.Len(t, specs, 3)
	assert.Equal(t, []string{
		"DROP TRIGGER IF EXISTS orders_log_after_update ON orders",
		"DROP FUNCTION IF EXISTS orders_log_after_update_fn()",
	}, specs[1].Drop)
	assert.Empty(t, specs[1].Statements)
}
