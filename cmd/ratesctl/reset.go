package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/warp/rates-engine/rates"
	"golang.org/x/term"
)

func newResetCmd(a *app) *cobra.Command {
	var council, period string
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every bill, payer and property for one council and period",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := findCouncil(ctx, a.store, council)
			if err != nil {
				return err
			}
			scope := rates.Scope{Council: *c, Period: rates.RatingPeriod(strings.TrimSpace(period))}
			if err := scope.Validate(); err != nil {
				return err
			}

			if !yes {
				if err := confirm(cmd, a, scope); err != nil {
					return err
				}
			}

			importer := rates.NewImporter(a.store, rates.Options{Atomic: a.cfg.AtomicImport, Logger: a.logger()})
			result, err := importer.Reset(ctx, scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s: bills=%d payers=%d properties=%d\n",
				scope, result.Bills, result.Payers, result.Properties)
			return nil
		},
	}

	cmd.Flags().StringVar(&council, "council", "", "Council id or short name (required)")
	cmd.Flags().StringVar(&period, "period", "", "Rating period (required)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("council")
	_ = cmd.MarkFlagRequired("period")

	return cmd
}

// confirm asks the operator to type the period back. Non-interactive stdin
// without --yes is refused.
func confirm(cmd *cobra.Command, a *app, scope rates.Scope) error {
	if !a.isTTY() {
		return fmt.Errorf("refusing to reset %s without --yes on a non-interactive terminal", scope)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "This deletes all %s data for %s. Type the period (%s) to confirm: ",
		scope.Period, scope.Council.Name, scope.Period)
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != string(scope.Period) {
		return fmt.Errorf("confirmation did not match, nothing deleted")
	}
	return nil
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
