package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/rates-engine/rates"
)

func newRunsCmd(a *app) *cobra.Command {
	var council string
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent import runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var councilID rates.CouncilID
			if council != "" {
				c, err := findCouncil(ctx, a.store, council)
				if err != nil {
					return err
				}
				councilID = c.ID
			}

			runs, err := a.store.ListImportRuns(ctx, councilID, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tCOUNCIL\tPERIOD\tSTATUS\tROWS\tBILLS\tSKIPPED\tMISMATCHES\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					r.StartedAt.Local().Format(time.DateTime), r.CouncilID, r.Period, r.Status,
					r.Summary.Rows, r.Summary.BillsCreated, r.Summary.Skipped,
					len(r.Summary.Mismatches), r.Error)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&council, "council", "", "Only this council (id or short name)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	return cmd
}
