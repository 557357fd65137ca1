package cli

import (
	"github.com/spf13/cobra"
)

// NewUninstallCommand creates the uninstall command.
func NewUninstallCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Drop the change-capture triggers",
		Long: `Drop the insert, update and delete triggers from every table.

The ledger table and the entries already recorded are kept.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUninstall(rootOpts, cmd)
		},
	}

	return cmd
}

func runUninstall(opts *RootOptions, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	report, err := s.runner().Uninstall(ctx)
	if err != nil {
		return s.aborted("uninstall", err)
	}
	return s.report(report)
}
