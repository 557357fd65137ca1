package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/undolog/internal/config"
	"github.com/roach88/undolog/internal/fault"
	"github.com/roach88/undolog/internal/metrics"
	"github.com/roach88/undolog/internal/runner"
	"github.com/roach88/undolog/internal/store"
)

// session bundles what every database command needs.
type session struct {
	opts      *RootOptions
	cfg       config.Config
	store     *store.Session
	logger    *slog.Logger
	metrics   *metrics.Metrics
	formatter *OutputFormatter
}

// newLogger configures logging based on the verbose flag.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler)
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Logs go to stderr to avoid corrupting structured output
		Verbose:   opts.Verbose,
	}
}

// loadConfig layers command-line overrides on top of the config sources.
func loadConfig(opts *RootOptions, cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(config.Sources{
		File:    opts.ConfigFile,
		DotEnv:  opts.EnvFiles,
		Environ: opts.Environ,
	})
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Driver = opts.Driver
	}
	if flags.Changed("dsn") {
		cfg.DSN = opts.DSN
	}
	if flags.Changed("database") {
		cfg.Database = opts.Database
	}
	if flags.Changed("ledger-table") {
		cfg.LedgerTable = opts.LedgerTable
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.Workers
	}
	if flags.Changed("exclude") {
		cfg.Exclude = opts.Exclude
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openSession loads configuration and connects to the database. Errors are
// reported through the formatter and returned as command errors.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*session, error) {
	formatter := newFormatter(opts, cmd)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return nil, commandError(formatter, "CONFIG", "invalid configuration", err)
	}
	d, err := cfg.Dialect()
	if err != nil {
		return nil, commandError(formatter, "CONFIG", "invalid configuration", err)
	}

	logger.Debug("opening database", "dialect", d.Name(), "database", cfg.Database)
	st, err := store.Open(ctx, cfg.Store(d, logger))
	if err != nil {
		return nil, commandError(formatter, string(fault.CodeConnectivity), "failed to open database", err)
	}

	return &session{
		opts:      opts,
		cfg:       cfg,
		store:     st,
		logger:    logger,
		metrics:   metrics.New(),
		formatter: formatter,
	}, nil
}

func (s *session) runner() *runner.Runner {
	options := []runner.Option{
		runner.WithLogger(s.logger),
		runner.WithMetrics(s.metrics),
	}
	if s.opts.RunIDs != nil {
		options = append(options, runner.WithRunIDGenerator(s.opts.RunIDs))
	}
	return runner.New(s.store, s.cfg.Runner(), options...)
}

// close writes the metrics file, if requested, and closes the database.
func (s *session) close() {
	if s.opts.MetricsFile != "" {
		if err := s.metrics.WriteTextfile(s.opts.MetricsFile); err != nil {
			s.logger.Warn("failed to write metrics", "path", s.opts.MetricsFile, "error", err)
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

// report writes a run report and maps its outcome to an exit status.
func (s *session) report(report *runner.Report) error {
	var failure *CLIError
	failed := report.Failed()
	if len(failed) > 0 {
		failure = &CLIError{
			Code:    string(failed[0].Code),
			Message: fmt.Sprintf("%d of %d tables failed", len(failed), len(report.Tables)),
		}
	}
	if err := s.formatter.Result(report, report.RunID, failure); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	switch {
	case failure != nil:
		return &ExitError{Code: ExitFailure, Message: failure.Message, Err: report.Err(), Reported: true}
	case report.Canceled:
		return &ExitError{Code: ExitFailure, Message: "run canceled", Reported: true}
	}
	return nil
}

// aborted reports an error that stopped a run before any table was processed.
func (s *session) aborted(op string, err error) error {
	code := fault.CodeOf(err)
	if code == "" {
		code = "ABORTED"
	}
	return commandError(s.formatter, string(code), op+" aborted", err)
}

// commandError writes err through the formatter and returns it with the
// command error exit code.
func commandError(f *OutputFormatter, code, message string, err error) error {
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	exitErr := WrapExitError(ExitCommandError, message, err)
	exitErr.Reported = true
	return exitErr
}

// signalContext cancels the command context on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, finishing tables in progress", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}
