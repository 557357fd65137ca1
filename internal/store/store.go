package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/fault"
)

// Defaults applied by Open when Config leaves a field zero.
const (
	DefaultStepTimeout = 30 * time.Second
	DefaultMaxAttempts = 3
)

// Config describes how to open a Session.
type Config struct {
	Dialect dialect.Dialect
	DSN     string

	// MaxConns caps the connection pool. SQLite is always capped at one.
	MaxConns int

	// StepTimeout bounds every database round trip.
	StepTimeout time.Duration

	// MaxAttempts bounds retries of a step that failed on connectivity.
	MaxAttempts int

	// Backoff overrides the retry schedule. Nil means exponential backoff.
	Backoff func() backoff.BackOff

	Logger *slog.Logger
}

// Session is an open connection pool to the engine being instrumented.
// Every call is bounded by the step timeout, and calls that fail on
// connectivity are retried with backoff.
type Session struct {
	db          *sql.DB
	dialect     dialect.Dialect
	stepTimeout time.Duration
	maxAttempts int
	newBackoff  func() backoff.BackOff
	logger      *slog.Logger
}

// Open connects to the engine and verifies the connection.
//
// For SQLite the pool is limited to a single connection and the
// busy_timeout and foreign_keys pragmas are applied.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Dialect == nil {
		return nil, errors.New("store: no dialect configured")
	}
	s := &Session{
		dialect:     cfg.Dialect,
		stepTimeout: cfg.StepTimeout,
		maxAttempts: cfg.MaxAttempts,
		newBackoff:  cfg.Backoff,
		logger:      cfg.Logger,
	}
	if s.stepTimeout <= 0 {
		s.stepTimeout = DefaultStepTimeout
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.newBackoff == nil {
		s.newBackoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	db, err := sql.Open(cfg.Dialect.Driver(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	conns := cfg.MaxConns
	if conns <= 0 || cfg.Dialect.Name() == "sqlite" {
		// SQLite only supports one writer at a time.
		conns = 1
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)

	if err := s.retry(ctx, "ping", func(ctx context.Context) error {
		return db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Dialect.Name() == "sqlite" {
		if err := s.applyPragmas(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	return s, nil
}

// Close closes the connection pool.
func (s *Session) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Session) DB() *sql.DB {
	return s.db
}

// Dialect returns the dialect the session was opened with.
func (s *Session) Dialect() dialect.Dialect {
	return s.dialect
}

// Exec runs a statement.
func (s *Session) Exec(ctx context.Context, query string, args ...any) error {
	return s.retry(ctx, "exec", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// Query runs a query and calls scan for every row. A retried query starts
// over, so scan must tolerate seeing rows again after reset is called.
func (s *Session) Query(ctx context.Context, reset func(), scan func(*sql.Rows) error, query string, args ...any) error {
	return s.retry(ctx, "query", func(ctx context.Context) error {
		if reset != nil {
			reset()
		}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

// Tx runs fn inside a transaction bounded by a single step timeout.
// The transaction is rolled back if fn returns an error. Connectivity
// failures retry the whole transaction.
func (s *Session) Tx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return s.retry(ctx, "transaction", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback failed", "error", rbErr)
			}
			return err
		}
		return tx.Commit()
	})
}

// retry runs op under the step timeout, retrying connectivity failures.
// Connectivity failures that exhaust the attempts are returned as
// CONNECTIVITY errors; everything else is returned unchanged.
func (s *Session) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
		defer cancel()

		err := fn(stepCtx)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if !s.isConnectivity(stepCtx, err) {
			return struct{}{}, backoff.Permanent(err)
		}
		s.logger.Debug("retrying step after connectivity failure",
			"op", op,
			"attempt", attempt,
			"error", err,
		)
		return struct{}{}, fault.Connectivity(op, err)
	},
		backoff.WithBackOff(s.newBackoff()),
		backoff.WithMaxTries(uint(s.maxAttempts)),
	)
	return err
}

// isConnectivity classifies err as an engine reachability failure.
func (s *Session) isConnectivity(stepCtx context.Context, err error) bool {
	if fault.IsConnectivity(err) || s.dialect.IsConnectivity(err) {
		return true
	}
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// applyPragmas sets required SQLite configuration.
func (s *Session) applyPragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if err := s.Exec(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}
