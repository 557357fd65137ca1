package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [table...]",
		Short: "Print the trigger DDL without executing it",
		Long: `Describe the given tables (all tables when none are named) and print the
statements install would run. Nothing is executed and the ledger table is
not created.

Example:
  undolog plan --driver mysql --database shop orders customers
  undolog plan --config undolog.yaml > triggers.sql`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runPlan(opts *RootOptions, tables []string, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, err := openSession(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	plan, err := s.runner().Plan(ctx, tables...)
	if err != nil {
		return s.aborted("plan", err)
	}

	var failure *CLIError
	var failed int
	for _, t := range plan.Tables {
		if t.Error == "" {
			continue
		}
		if failure == nil {
			failure = &CLIError{Code: string(t.Code)}
		}
		failed++
	}
	if failure != nil {
		failure.Message = fmt.Sprintf("%d of %d tables could not be planned", failed, len(plan.Tables))
	}

	if err := s.formatter.Result(plan, plan.RunID, failure); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	if failure != nil {
		return &ExitError{Code: ExitFailure, Message: failure.Message, Err: plan.Err(), Reported: true}
	}
	return nil
}
