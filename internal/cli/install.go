package cli

import (
	"github.com/spf13/cobra"
)

// NewInstallCommand creates the install command.
func NewInstallCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install change-capture triggers on every table",
		Long: `Create the ledger table if needed, then install the insert, update and
delete triggers on every table of the database.

Existing triggers with the same names are replaced, so running install again
after a schema change refreshes the captured columns. Tables that fail are
reported and do not stop the run.

Exit status is 1 when any table failed and 2 when the run could not start.

Example:
  undolog install --driver sqlite --database ./app.db
  undolog install --config undolog.yaml --exclude sessions --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(rootOpts, cmd)
		},
	}

	return cmd
}

func runInstall(opts *RootOptions, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	report, err := s.runner().Run(ctx)
	if err != nil {
		return s.aborted("install", err)
	}
	return s.report(report)
}
