// Package config loads undolog settings.
//
// Settings are layered, lowest precedence first: built-in defaults, an
// optional YAML file validated against an embedded CUE schema, .env files,
// and finally the process environment. Command flags are applied on top by
// the CLI. Core packages never read configuration; they receive a
// store.Config and runner.Options built from a Config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/runner"
	"github.com/roach88/undolog/internal/store"
)

//go:embed schema.cue
var schemaSource string

// Config holds every setting of an undolog run.
type Config struct {
	Driver   string `yaml:"driver" env:"DB_DRIVER"`
	DSN      string `yaml:"dsn" env:"DB_DSN"`
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASS"`
	Database string `yaml:"database" env:"DB_NAME"`
	Schema   string `yaml:"schema" env:"DB_SCHEMA"`

	LedgerTable string        `yaml:"ledger_table" env:"UNDOLOG_LEDGER_TABLE"`
	Workers     int           `yaml:"workers" env:"UNDOLOG_WORKERS"`
	StepTimeout time.Duration `yaml:"step_timeout" env:"UNDOLOG_STEP_TIMEOUT"`
	MaxAttempts int           `yaml:"max_attempts" env:"UNDOLOG_MAX_ATTEMPTS"`
	MaxConns    int           `yaml:"max_conns" env:"UNDOLOG_MAX_CONNS"`
	Exclude     []string      `yaml:"exclude" env:"UNDOLOG_EXCLUDE" envSeparator:","`
	SQLiteUser  string        `yaml:"sqlite_user" env:"UNDOLOG_SQLITE_USER"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Driver:      "mysql",
		Schema:      "public",
		LedgerTable: dialect.DefaultLedgerTable,
		Workers:     1,
		StepTimeout: store.DefaultStepTimeout,
		MaxAttempts: store.DefaultMaxAttempts,
		SQLiteUser:  "sqlite",
	}
}

// Sources names where Load reads settings from.
type Sources struct {
	// File is a YAML configuration file. Empty means none.
	File string

	// DotEnv lists .env files. Missing files are ignored.
	DotEnv []string

	// Environ is the environment in os.Environ form. Nil means the
	// process environment.
	Environ []string
}

// Load builds a Config from defaults and the given sources.
func Load(src Sources) (Config, error) {
	cfg := Default()

	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeFile(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", src.File, err)
		}
	}

	vars, err := environment(src)
	if err != nil {
		return Config{}, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

// decodeFile validates a YAML document against the schema and decodes it
// over cfg.
func decodeFile(data []byte, cfg *Config) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	v := schema.Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// environment merges .env files under the process environment; variables
// already set in the environment win.
func environment(src Sources) (map[string]string, error) {
	vars := map[string]string{}
	for _, path := range src.DotEnv {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for k, v := range values {
			vars[k] = v
		}
	}

	environ := src.Environ
	if environ == nil {
		environ = os.Environ()
	}
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars, nil
}

// Validate reports settings that cannot produce a working run.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Dialect(); err != nil {
		errs = append(errs, err)
	}
	if c.DSN == "" && c.Database == "" {
		errs = append(errs, errors.New("no database configured: set a DSN or a database name"))
	}
	if c.LedgerTable == "" {
		errs = append(errs, errors.New("ledger table must not be empty"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.StepTimeout <= 0 {
		errs = append(errs, fmt.Errorf("step timeout must be positive, got %s", c.StepTimeout))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	return errors.Join(errs...)
}

// Dialect returns the dialect selected by Driver.
func (c Config) Dialect() (dialect.Dialect, error) {
	return dialect.Lookup(c.Driver, dialect.Options{
		Schema:      c.Schema,
		SessionUser: c.SQLiteUser,
	})
}

// ConnString returns the DSN, building one from the connection fields when
// none is set.
func (c Config) ConnString(d dialect.Dialect) string {
	if c.DSN != "" {
		return c.DSN
	}
	return d.DSN(dialect.ConnParams{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Database: c.Database,
	})
}

// Store returns the session configuration. Unless MaxConns is set the pool
// is sized to the worker count.
func (c Config) Store(d dialect.Dialect, logger *slog.Logger) store.Config {
	conns := c.MaxConns
	if conns <= 0 {
		conns = c.Workers
	}
	return store.Config{
		Dialect:     d,
		DSN:         c.ConnString(d),
		MaxConns:    conns,
		StepTimeout: c.StepTimeout,
		MaxAttempts: c.MaxAttempts,
		Logger:      logger,
	}
}

// Runner returns the run options.
func (c Config) Runner() runner.Options {
	// Database only scopes MySQL catalog queries; SQLite and PostgreSQL
	// use the connection's own database.
	database := ""
	if d, err := c.Dialect(); err == nil && d.Name() == "mysql" {
		database = c.Database
	}
	return runner.Options{
		Database:    database,
		LedgerTable: c.LedgerTable,
		Exclude:     c.Exclude,
		Workers:     c.Workers,
	}
}
