package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/undolog/internal/runner"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json" | "yaml"

	ConfigFile string
	EnvFiles   []string

	// Connection and run overrides; applied only when set on the command line.
	Driver      string
	DSN         string
	Database    string
	LedgerTable string
	Workers     int
	Exclude     []string
	MetricsFile string

	// Environ replaces the process environment (for testing).
	// If nil, os.Environ() is used.
	Environ []string

	// RunIDs allows overriding run ID generation (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs runner.RunIDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the undolog CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undolog",
		Short: "undolog - change-capture triggers with undo SQL",
		Long: `Install database triggers that record every row change as a pair of
SQL statements: one that replays the change and one that undoes it.

Entries are written to a ledger table (db_log by default) together with the
modified table and the database user.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	flags.StringVar(&opts.ConfigFile, "config", "", "path to YAML config file")
	flags.StringSliceVar(&opts.EnvFiles, "env-file", []string{".env"}, "dotenv files to read (missing files are ignored)")
	flags.StringVar(&opts.Driver, "driver", "", "database engine (mysql|postgres|sqlite)")
	flags.StringVar(&opts.DSN, "dsn", "", "connection string")
	flags.StringVar(&opts.Database, "database", "", "database name (file path for sqlite)")
	flags.StringVar(&opts.LedgerTable, "ledger-table", "", "ledger table name")
	flags.IntVar(&opts.Workers, "workers", 0, "tables processed concurrently")
	flags.StringSliceVar(&opts.Exclude, "exclude", nil, "tables to leave uninstrumented")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")

	// Add subcommands
	cmd.AddCommand(NewInstallCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewUninstallCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
