package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/fault"
	"github.com/roach88/undolog/internal/ledger"
	"github.com/roach88/undolog/internal/metrics"
	"github.com/roach88/undolog/internal/store"
	"github.com/roach88/undolog/internal/testutil"
)

const customersDDL = "CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, email TEXT)"

func newRunner(s *store.Session, opts Options, extra ...Option) *Runner {
	options := append([]Option{
		WithLogger(testutil.Logger()),
		WithRunIDGenerator(testutil.NewFixedRunIDGenerator("run-1")),
		WithClock(testutil.NewStepClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), time.Second).Now),
	}, extra...)
	return New(s, opts, options...)
}

func entries(t *testing.T, r *Runner) []ledger.Entry {
	t.Helper()
	out, err := r.Ledger().Entries(context.Background(), "")
	require.NoError(t, err)
	return out
}

func ordersRows(t *testing.T, s *store.Session) []string {
	t.Helper()
	return testutil.QueryStrings(t, s,
		`SELECT id || '|' || COALESCE(status, '<null>') || '|' || COALESCE(amount, '<null>') FROM orders ORDER BY id`)
}

func triggerDefs(t *testing.T, s *store.Session) []string {
	t.Helper()
	return testutil.QueryStrings(t, s, "SELECT name || ': ' || sql FROM sqlite_master WHERE type = 'trigger' ORDER BY name")
}

func TestRun_OrdersScenario(t *testing.T) {
	s := testutil.OpenSQLite(t, testutil.OrdersDDL)
	r := newRunner(s, Options{})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	testutil.Exec(t, s,
		"INSERT INTO orders (id, status, amount) VALUES (1, 'new', 100)",
		"UPDATE orders SET status = 'paid' WHERE id = 1",
		"DELETE FROM orders WHERE id = 1",
	)

	got := entries(t, r)
	require.Len(t, got, 3)

	assert.Equal(t, "INSERT INTO orders (id,status,amount) VALUES (1,'new',100)", got[0].UpSQL)
	assert.Equal(t, "DELETE FROM orders WHERE id=1", got[0].DownSQL)

	assert.Equal(t, "UPDATE orders SET status='paid' WHERE id=1", got[1].UpSQL)
	assert.Equal(t, "UPDATE orders SET status='new' WHERE id=1", got[1].DownSQL)

	assert.Equal(t, "DELETE FROM orders WHERE id=1", got[2].UpSQL)
	assert.Equal(t, "INSERT INTO orders (id,status,amount) VALUES (1,'paid',100)", got[2].DownSQL)

	for _, e := range got {
		assert.Equal(t, "orders", e.ModTable)
		assert.Equal(t, testutil.SQLiteUser, e.User)
		assert.NotEmpty(t, e.CreatedAt)
	}
}

func TestRun_RoundTrip(t *testing.T) {
	seed := []string{
		testutil.OrdersDDL,
		"INSERT INTO orders (id, status, amount) VALUES (1, 'new', 100), (2, 'held', NULL)",
	}
	s := testutil.OpenSQLite(t, seed...)
	before := ordersRows(t, s)

	r := newRunner(s, Options{})
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	testutil.Exec(t, s,
		"UPDATE orders SET status = 'paid' WHERE id = 1",
		"UPDATE orders SET amount = 5 WHERE id = 2",
		"UPDATE orders SET id = 3 WHERE id = 2",
		"UPDATE orders SET status = NULL WHERE id = 3",
		"INSERT INTO orders (id, status, amount) VALUES (4, 'it''s here', -7)",
		"UPDATE orders SET amount = amount WHERE id = 4",
		"DELETE FROM orders WHERE id = 1",
	)
	after := ordersRows(t, s)
	log := entries(t, r)
	require.Len(t, log, 7)

	// Replaying up_sql on a copy of the starting state reproduces the end state.
	replica := testutil.OpenSQLite(t, seed...)
	for _, e := range log {
		testutil.Exec(t, replica, e.UpSQL)
	}
	assert.Equal(t, after, ordersRows(t, replica))

	// Applying down_sql newest first restores the starting state.
	for i := len(log) - 1; i >= 0; i-- {
		testutil.Exec(t, s, log[i].DownSQL)
	}
	assert.Equal(t, before, ordersRows(t, s))
}

func TestRun_UpdateCapturesOnlyChangedColumns(t *testing.T) {
	s := testutil.OpenSQLite(t,
		testutil.OrdersDDL,
		"INSERT INTO orders (id, status, amount) VALUES (1, 'new', NULL)",
	)
	r := newRunner(s, Options{})
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	testutil.Exec(t, s,
		"UPDATE orders SET amount = 10, status = 'new' WHERE id = 1",
		"UPDATE orders SET amount = 10 WHERE id = 1",
		"UPDATE orders SET id = 9 WHERE id = 1",
	)

	got := entries(t, r)
	require.Len(t, got, 3)

	assert.Equal(t, "UPDATE orders SET amount=10 WHERE id=1", got[0].UpSQL)
	assert.Equal(t, "UPDATE orders SET amount=NULL WHERE id=1", got[0].DownSQL)

	assert.Equal(t, "UPDATE orders SET id=1 WHERE id=1", got[1].UpSQL, "no-op updates assign the key")
	assert.Equal(t, "UPDATE orders SET id=1 WHERE id=1", got[1].DownSQL)

	assert.Equal(t, "UPDATE orders SET id=9 WHERE id=1", got[2].UpSQL)
	assert.Equal(t, "UPDATE orders SET id=1 WHERE id=9", got[2].DownSQL)
}

func TestRun_Idempotent(t *testing.T) {
	s := testutil.OpenSQLite(t, testutil.OrdersDDL, customersDDL)
	r := newRunner(s, Options{})

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	first := triggerDefs(t, s)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.Equal(t, first, triggerDefs(t, s))
	assert.Len(t, first, 6)
}

func TestRun_Completeness(t *testing.T) {
	s := testutil.OpenSQLite(t, testutil.OrdersDDL, customersDDL,
		"CREATE TABLE scratch (id INTEGER PRIMARY KEY, note TEXT)",
		"CREATE VIEW paid_orders AS SELECT * FROM orders WHERE status = 'paid'",
	)
	r := newRunner(s, Options{Exclude: []string{"scratch"}})

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	var tables []string
	for _, tr := range report.Tables {
		tables = append(tables, tr.Table)
		assert.Equal(t, StatusInstalled, tr.Status)
		require.Len(t, tr.Triggers, 3)
		for _, k := range tr.Triggers {
			assert.Equal(t, StatusInstalled, k.Status)
		}
	}
	assert.Equal(t, []string{"customers", "orders"}, tables)

	onTable := func(table string) []string {
		return testutil.QueryStrings(t, s, "SELECT name FROM sqlite_master WHERE type = 'trigger' AND tbl_name = ? ORDER BY name", table)
	}
	assert.Equal(t, []string{"orders_log_after_delete", "orders_log_after_insert", "orders_log_after_update"}, onTable("orders"))
	assert.Len(t, onTable("customers"), 3)
	assert.Empty(t, onTable("scratch"))
	assert.Empty(t, onTable(dialect.DefaultLedgerTable))
}

func TestRun_FailuresAreIsolated(t *testing.T) {
	s := testutil.OpenSQLite(t, testutil.OrdersDDL, customersDDL, "CREATE TABLE events (payload TEXT)")
	r := newRunner(s, Options{})

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	err = report.Err()
	require.Error(t, err)
	assert.True(t, fault.IsIntrospection(err))

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "events", failed[0].Table)
	assert.Equal(t, fault.CodeIntrospection, failed[0].Code)
	assert.Equal(t, "partial", report.Outcome())
	assert.Equal(t, 2, report.Summary.Counts[StatusInstalled])
	assert.Equal(t, 1, report.Summary.Counts[StatusFailed])

	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "report_install", buf.Bytes())
}

func TestRun_SchemaConflictAborts(t *testing.T) {
	s := testutil.OpenSQLite(t, testutil.OrdersDDL,
		"CREATE TABLE db_log (id INTEGER PRIMARY KEY, message TEXT)")
	m := metrics.New()
	r := newRunner(s, Options{}, WithMetrics(m))

	report, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, fault.IsSchemaConflict(err))
	assert.Empty(t, triggerDefs(t, s), "no trigger is installed when the ledger conflicts")
}

func TestRun_CustomLedgerTable(t *testing.T) {
	s := testutil.OpenSQLite(t, testutil.OrdersDDL)
	r := newRunner(s, Options{LedgerTable: "audit_log"})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	testutil.Exec(t, s, "INSERT INTO orders (id, status, amount) VALUES (7, 'new', 1)")
	assert.Equal(t, []string{"DELETE FROM orders WHERE id=7"},
		testutil.QueryStrings(t, s, "SELECT down_sql FROM audit_log"))
}

func TestRun_ConcurrentWorkersKeepOrder(t *testing.T) {
	setup := []string{testutil.OrdersDDL, customersDDL}
	for _, name := range []string{"a_items", "b_items", "c_items", "d_items"} {
		setup = append(setup, "CREATE TABLE "+name+" (id INTEGER PRIMARY KEY, v TEXT)")
	}
	s := testutil.OpenSQLite(t, setup...)
	r := newRunner(s, Options{Workers: 4})

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	var tables []string
	for _, tr := range report.Tables {
		tables = append(tables, tr.Table)
	}
	assert.Equal(t, []string{"a_items", "b_items", "c_items", "customers", "d_items", "orders"}, tables)
	assert.Len(t, triggerDefs(t, s), 18)
}

func TestForEach_CancellationSkipsUndispatched(t *testing.T) {
	s := testutil.OpenSQLite(t)
	r := newRunner(s, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	results, canceled := r.forEach(ctx, OpInstall, []string{"a", "b", "c"}, func(ctx context.Context, table string) TableResult {
		if ctx.Err() != nil {
			return r.skipped(table)
		}
		calls.Add(1)
		cancel()
		return TableResult{Table: table, Status: StatusInstalled}
	})

	assert.True(t, canceled)
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, results, 3)
	assert.Equal(t, StatusInstalled, results[0].Status)
	assert.Equal(t, StatusSkipped, results[1].Status)
	assert.Equal(t, StatusSkipped, results[2].Status)
	assert.Len(t, results[2].Triggers, 3)
}

func TestFilter_NormalizesNames(t *testing.T) {
	s := testutil.OpenSQLite(t)
	// Precomposed in the exclusion list, decomposed in the catalog.
	r := newRunner(s, Options{Exclude: []string{"caf\u00e9"}})

	got := r.filter([]string{"cafe\u0301", "orders", "db_log"})
	assert.Equal(t, []string{"orders"}, got)
}

func TestStatusAndUninstall(t *testing.T) {
	s := testutil.OpenSQLite(t, testutil.OrdersDDL, customersDDL)
	r := newRunner(s, Options{})

	report, err := r.Status(context.Background())
	require.NoError(t, err)
	for _, tr := range report.Tables {
		assert.Equal(t, StatusMissing, tr.Status, tr.Table)
	}

	_, err = r.Run(context.Background())
	require.NoError(t, err)
	testutil.Exec(t, s, "DROP TRIGGER customers_log_after_update")

	report, err = r.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Tables, 2)
	assert.Equal(t, StatusPartial, report.Tables[0].Status)
	assert.Equal(t, StatusMissing, report.Tables[0].Triggers[1].Status)
	assert.Equal(t, StatusPresent, report.Tables[1].Status)

	report, err = r.Uninstall(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	for _, tr := range report.Tables {
		assert.Equal(t, StatusRemoved, tr.Status)
	}
	assert.Empty(t, triggerDefs(t, s))

	n, err := r.Ledger().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, []string{"db_log"},
		testutil.QueryStrings(t, s, "SELECT name FROM sqlite_master WHERE name = 'db_log'"), "uninstall keeps the ledger")
}

func TestPlan(t *testing.T) {
	s := testutil.OpenSQLite(t, testutil.OrdersDDL, "CREATE TABLE events (payload TEXT)")
	r := newRunner(s, Options{})

	plan, err := r.Plan(context.Background(), "orders")
	require.NoError(t, err)
	require.NoError(t, plan.Err())
	require.Len(t, plan.Tables, 1)
	require.Len(t, plan.Tables[0].Triggers, 3)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "plan_orders", []byte(plan.Script()))

	assert.Empty(t, triggerDefs(t, s), "plan executes nothing")
	assert.Empty(t, testutil.QueryStrings(t, s, "SELECT name FROM sqlite_master WHERE name = 'db_log'"))

	all, err := r.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, all.Tables, 2)
	assert.True(t, fault.IsIntrospection(all.Err()))
	assert.Contains(t, all.Script(), "-- events: INTROSPECTION")
}

func TestReport_JSON(t *testing.T) {
	s := testutil.OpenSQLite(t, testutil.OrdersDDL)
	r := newRunner(s, Options{})

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Equal(t, "install", decoded["operation"])
	assert.Equal(t, "2024-05-01T12:00:00Z", decoded["started_at"])
	assert.Equal(t, "2024-05-01T12:00:01Z", decoded["finished_at"])

	tables := decoded["tables"].([]any)
	require.Len(t, tables, 1)
	first := tables[0].(map[string]any)
	assert.Equal(t, "orders", first["table"])
	assert.Equal(t, "installed", first["status"])
	assert.NotContains(t, first, "error")
}

func TestRun_Metrics(t *testing.T) {
	s := testutil.OpenSQLite(t, testutil.OrdersDDL, "CREATE TABLE events (payload TEXT)")
	m := metrics.New()
	r := newRunner(s, Options{}, WithMetrics(m))

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["undolog_runs_total"])
	assert.True(t, names["undolog_tables_total"])
	assert.True(t, names["undolog_triggers_total"])
}
