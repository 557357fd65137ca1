// Package store owns the database session used by every undolog step.
//
// A Session wraps a *sql.DB opened with the dialect's driver:
//   - mysql: github.com/go-sql-driver/mysql
//   - postgres: github.com/jackc/pgx/v5/stdlib
//   - sqlite: github.com/mattn/go-sqlite3
//
// # Step Semantics
//
// Every round trip runs under a per-step timeout. A step that fails because
// the engine could not be reached (driver connection errors, network
// errors, the step timeout itself) is retried with exponential backoff up
// to a fixed number of attempts and then surfaces as a fault.Connectivity
// error. Any other failure is returned on the first attempt.
//
// Core packages receive a Session from the caller and never read
// configuration themselves.
package store
