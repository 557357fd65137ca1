// Package runner orchestrates a whole undolog run.
//
// An install run ensures the ledger table exists with a compatible shape,
// lists the user tables, and then for each table describes it, synthesizes
// its three triggers and installs them in Insert, Update, Delete order.
// Tables are independent: a failure is recorded in the report and the run
// moves on. Only a ledger that cannot be created or verified aborts the
// run, and it does so before any trigger is touched.
//
// Tables are processed by a bounded worker pool (one worker by default).
// Cancellation stops dispatching; tables that were never started are
// reported as skipped and completed tables are left installed.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/undolog/internal/catalog"
	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/fault"
	"github.com/roach88/undolog/internal/install"
	"github.com/roach88/undolog/internal/ledger"
	"github.com/roach88/undolog/internal/metrics"
	"github.com/roach88/undolog/internal/store"
	"github.com/roach88/undolog/internal/synth"
)

// Options configure what a run touches.
type Options struct {
	// Database scopes catalog queries on MySQL; empty means the
	// connection's current database.
	Database string

	// LedgerTable names the ledger. It is never instrumented.
	LedgerTable string

	// Exclude lists tables to leave alone. Names are compared in Unicode
	// NFC form.
	Exclude []string

	// Workers bounds how many tables are processed concurrently.
	Workers int
}

// Runner runs install, plan, status and uninstall operations.
type Runner struct {
	dialect   dialect.Dialect
	opts      Options
	catalog   *catalog.Reader
	ledger    *ledger.Manager
	installer *install.Installer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	runIDs    RunIDGenerator
	now       func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithMetrics records run metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithRunIDGenerator overrides run ID generation (for testing).
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(r *Runner) {
		r.runIDs = g
	}
}

// WithClock overrides the time source of report timestamps (for testing).
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New creates a Runner on an open session.
func New(s *store.Session, opts Options, options ...Option) *Runner {
	if opts.LedgerTable == "" {
		opts.LedgerTable = dialect.DefaultLedgerTable
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	r := &Runner{
		dialect: s.Dialect(),
		opts:    opts,
		logger:  slog.Default(),
		runIDs:  UUIDv7Generator{},
		now:     time.Now,
	}
	for _, opt := range options {
		opt(r)
	}

	r.catalog = catalog.NewReader(s, opts.Database, r.logger)
	r.ledger = ledger.NewManager(s, opts.Database, opts.LedgerTable, r.logger)
	r.installer = install.New(s, r.logger)
	return r
}

// Ledger returns the ledger manager the runner writes through.
func (r *Runner) Ledger() *ledger.Manager {
	return r.ledger
}

// Run installs the change-capture triggers on every included table.
//
// The returned error is non-nil only when the run aborted: the ledger
// could not be ensured or the tables could not be listed. Per-table
// failures are in the report; see Report.Err.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report, log := r.begin(OpInstall)
	log.Info("starting install", "dialect", r.dialect.Name(), "ledger", r.opts.LedgerTable, "workers", r.opts.Workers)

	if err := r.ledger.Ensure(ctx); err != nil {
		return nil, r.abort(report, log, fmt.Errorf("ensure ledger: %w", err))
	}

	names, err := r.tableNames(ctx)
	if err != nil {
		return nil, r.abort(report, log, err)
	}

	report.Tables, report.Canceled = r.forEach(ctx, OpInstall, names, func(ctx context.Context, table string) TableResult {
		return r.installTable(ctx, log, table)
	})
	r.finish(report, log)
	return report, nil
}

// Status reports which generated triggers exist on every included table.
func (r *Runner) Status(ctx context.Context) (*Report, error) {
	report, log := r.begin(OpStatus)

	names, err := r.tableNames(ctx)
	if err != nil {
		return nil, r.abort(report, log, err)
	}

	report.Tables, report.Canceled = r.forEach(ctx, OpStatus, names, r.tableStatus)
	r.finish(report, log)
	return report, nil
}

// Uninstall drops the generated triggers from every included table. The
// ledger table and its contents are kept.
func (r *Runner) Uninstall(ctx context.Context) (*Report, error) {
	report, log := r.begin(OpUninstall)
	log.Info("starting uninstall", "dialect", r.dialect.Name())

	names, err := r.tableNames(ctx)
	if err != nil {
		return nil, r.abort(report, log, err)
	}

	report.Tables, report.Canceled = r.forEach(ctx, OpUninstall, names, func(ctx context.Context, table string) TableResult {
		return r.uninstallTable(ctx, log, table)
	})
	r.finish(report, log)
	return report, nil
}

func (r *Runner) begin(op string) (*Report, *slog.Logger) {
	report := &Report{
		RunID:     r.runIDs.Generate(),
		Operation: op,
		Dialect:   r.dialect.Name(),
		Ledger:    r.opts.LedgerTable,
		StartedAt: r.now().UTC(),
		Tables:    []TableResult{},
	}
	return report, r.logger.With("run_id", report.RunID, "operation", op)
}

func (r *Runner) abort(report *Report, log *slog.Logger, err error) error {
	report.FinishedAt = r.now().UTC()
	if fault.IsConnectivity(err) {
		r.metrics.ObserveConnectivityFailure()
	}
	r.metrics.ObserveRun(report.Operation, "aborted", report.FinishedAt.Sub(report.StartedAt), report.FinishedAt)
	log.Error("run aborted", "error", err)
	return err
}

func (r *Runner) finish(report *Report, log *slog.Logger) {
	report.FinishedAt = r.now().UTC()
	report.summarize()
	r.metrics.ObserveRun(report.Operation, report.Outcome(), report.FinishedAt.Sub(report.StartedAt), report.FinishedAt)

	attrs := []any{"tables", report.Summary.Tables}
	for _, s := range summaryOrder {
		if n := report.Summary.Counts[s]; n > 0 {
			attrs = append(attrs, string(s), n)
		}
	}
	if report.Canceled {
		attrs = append(attrs, "canceled", true)
	}
	log.Info("run finished", attrs...)
}

// tableNames lists the tables a run covers, in catalog order.
func (r *Runner) tableNames(ctx context.Context) ([]string, error) {
	names, err := r.catalog.TableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return r.filter(names), nil
}

// filter drops the ledger and excluded tables.
func (r *Runner) filter(names []string) []string {
	skip := map[string]bool{norm.NFC.String(r.opts.LedgerTable): true}
	for _, name := range r.opts.Exclude {
		skip[norm.NFC.String(name)] = true
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		if skip[norm.NFC.String(name)] {
			r.logger.Debug("excluding table", "table", name)
			continue
		}
		out = append(out, name)
	}
	return out
}

// forEach runs fn for every table on the worker pool. Results keep the
// order of names. When ctx is canceled no further tables are dispatched
// and the rest are reported as skipped.
func (r *Runner) forEach(ctx context.Context, op string, names []string, fn func(context.Context, string) TableResult) ([]TableResult, bool) {
	results := make([]TableResult, len(names))
	dispatched := make([]bool, len(names))
	canceled := false

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i, name := range names {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		dispatched[i] = true
		g.Go(func() error {
			start := time.Now()
			res := fn(ctx, name)
			if fault.IsConnectivity(res.err) {
				r.metrics.ObserveConnectivityFailure()
			}
			r.metrics.ObserveTable(op, string(res.Status), time.Since(start))
			for _, tr := range res.Triggers {
				r.metrics.ObserveTrigger(op, string(tr.Event), string(tr.Status))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for i, name := range names {
		if !dispatched[i] {
			results[i] = r.skipped(name)
		}
	}
	return results, canceled || ctx.Err() != nil
}

func (r *Runner) skipped(table string) TableResult {
	res := TableResult{Table: table, Status: StatusSkipped}
	for i, name := range synth.Names(r.dialect, table) {
		res.Triggers = append(res.Triggers, TriggerResult{
			Event:   dialect.Events[i],
			Trigger: name,
			Status:  StatusSkipped,
		})
	}
	return res
}

// failed marks res failed with err; triggers without a result are skipped.
func (r *Runner) failed(res TableResult, err error) TableResult {
	res.Status = StatusFailed
	res.Code = fault.CodeOf(err)
	res.Error = err.Error()
	res.err = err

	names := synth.Names(r.dialect, res.Table)
	for i := len(res.Triggers); i < len(dialect.Events); i++ {
		res.Triggers = append(res.Triggers, TriggerResult{
			Event:   dialect.Events[i],
			Trigger: names[i],
			Status:  StatusSkipped,
		})
	}
	return res
}

// interrupted completes res for a table whose install was cut short by
// cancellation: the remaining triggers are skipped and the table is
// partial if any trigger was already installed.
func (r *Runner) interrupted(res TableResult) TableResult {
	res.Status = StatusSkipped
	if len(res.Triggers) > 0 {
		res.Status = StatusPartial
	}
	names := synth.Names(r.dialect, res.Table)
	for i := len(res.Triggers); i < len(dialect.Events); i++ {
		res.Triggers = append(res.Triggers, TriggerResult{
			Event:   dialect.Events[i],
			Trigger: names[i],
			Status:  StatusSkipped,
		})
	}
	return res
}

func (r *Runner) installTable(ctx context.Context, log *slog.Logger, table string) TableResult {
	log = log.With("table", table)
	res := TableResult{Table: table}
	if ctx.Err() != nil {
		return r.skipped(table)
	}

	tbl, err := r.catalog.Describe(ctx, table)
	if err != nil {
		log.Warn("cannot describe table", "error", err)
		return r.failed(res, err)
	}

	specs, err := synth.Synthesize(r.dialect, synth.Options{LedgerTable: r.opts.LedgerTable}, tbl)
	if err != nil {
		log.Warn("cannot synthesize triggers", "error", err)
		return r.failed(res, fault.Introspection(table, "cannot synthesize triggers", err))
	}

	for _, spec := range specs {
		if ctx.Err() != nil {
			log.Info("run canceled before table completed")
			return r.interrupted(res)
		}

		if err := r.installer.Install(ctx, spec); err != nil {
			tr := TriggerResult{Event: spec.Event, Trigger: spec.Name, Status: StatusFailed, Error: err.Error()}
			var fe *fault.Error
			if errors.As(err, &fe) {
				tr.Dropped = fe.Dropped
			}
			res.Triggers = append(res.Triggers, tr)
			log.Warn("trigger install failed", "trigger", spec.Name, "dropped", tr.Dropped, "error", err)
			return r.failed(res, err)
		}
		res.Triggers = append(res.Triggers, TriggerResult{Event: spec.Event, Trigger: spec.Name, Status: StatusInstalled})
	}

	res.Status = StatusInstalled
	log.Info("installed triggers")
	return res
}

func (r *Runner) tableStatus(ctx context.Context, table string) TableResult {
	res := TableResult{Table: table}
	if ctx.Err() != nil {
		return r.skipped(table)
	}

	existing, err := r.catalog.Triggers(ctx, table)
	if err != nil {
		return r.failed(res, err)
	}
	have := map[string]bool{}
	for _, name := range existing {
		have[name] = true
	}

	present := 0
	for i, name := range synth.Names(r.dialect, table) {
		st := StatusMissing
		if have[name] {
			st = StatusPresent
			present++
		}
		res.Triggers = append(res.Triggers, TriggerResult{Event: dialect.Events[i], Trigger: name, Status: st})
	}

	switch present {
	case len(dialect.Events):
		res.Status = StatusPresent
	case 0:
		res.Status = StatusMissing
	default:
		res.Status = StatusPartial
	}
	return res
}

func (r *Runner) uninstallTable(ctx context.Context, log *slog.Logger, table string) TableResult {
	res := TableResult{Table: table}
	if ctx.Err() != nil {
		return r.skipped(table)
	}

	for _, spec := range synth.DropSpecs(r.dialect, table) {
		if err := r.installer.Uninstall(ctx, spec); err != nil {
			res.Triggers = append(res.Triggers, TriggerResult{Event: spec.Event, Trigger: spec.Name, Status: StatusFailed, Error: err.Error()})
			log.Warn("trigger drop failed", "table", table, "trigger", spec.Name, "error", err)
			return r.failed(res, err)
		}
		res.Triggers = append(res.Triggers, TriggerResult{Event: spec.Event, Trigger: spec.Name, Status: StatusRemoved})
	}

	res.Status = StatusRemoved
	log.Debug("removed triggers", "table", table)
	return res
}
