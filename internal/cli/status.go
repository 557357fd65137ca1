package cli

import (
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which tables have their triggers installed",
		Long: `Report, for every table, whether the insert, update and delete triggers
exist. Nothing is changed.

Example:
  undolog status --driver postgres --dsn postgres://app@localhost/shop`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}

	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	report, err := s.runner().Status(ctx)
	if err != nil {
		return s.aborted("status", err)
	}
	return s.report(report)
}
