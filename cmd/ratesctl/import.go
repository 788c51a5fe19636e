package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"github.com/warp/rates-engine/extract"
	"github.com/warp/rates-engine/jobs"
	"github.com/warp/rates-engine/rates"
)

type importOptions struct {
	council          string
	period           string
	file             string
	reset            bool
	header           bool
	detectMismatches bool
	queue            bool
	asJSON           bool
}

func newImportCmd(a *app) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a rate-roll extract (CSV or XLSX) for one council and period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.council, "council", "", "Council id or short name (required)")
	cmd.Flags().StringVar(&opts.period, "period", "", "Rating period, e.g. 2019 (required)")
	cmd.Flags().StringVar(&opts.file, "file", "", "Extract file, .csv or .xlsx (required)")
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "Reset the scope first (refresh)")
	cmd.Flags().BoolVar(&opts.header, "header", false, "First row is a header")
	cmd.Flags().BoolVar(&opts.detectMismatches, "detect-mismatches", a.cfg.DetectMismatches, "Report stored/incoming total drift")
	cmd.Flags().BoolVar(&opts.queue, "queue", false, "Queue a refresh for the worker instead of importing inline")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the summary as JSON")

	_ = cmd.MarkFlagRequired("council")
	_ = cmd.MarkFlagRequired("period")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runImport(cmd *cobra.Command, a *app, opts importOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	council, err := findCouncil(ctx, a.store, opts.council)
	if err != nil {
		return err
	}
	if !council.Active {
		return fmt.Errorf("%w: %s", rates.ErrCouncilInactive, council.Name)
	}
	scope := rates.Scope{Council: *council, Period: rates.RatingPeriod(strings.TrimSpace(opts.period))}
	if err := scope.Validate(); err != nil {
		return err
	}

	if opts.queue {
		return queueRefresh(cmd, a, scope, opts)
	}

	rows, err := extract.Open(opts.file, extract.Options{Header: opts.header})
	if err != nil {
		return err
	}
	defer rows.Close()

	importer := rates.NewImporter(a.store, rates.Options{
		DetectMismatches: opts.detectMismatches,
		Atomic:           a.cfg.AtomicImport,
		Logger:           a.logger(),
	})

	var summary rates.Summary
	if opts.reset {
		summary, err = importer.Refresh(ctx, scope, rows)
	} else {
		summary, err = importer.Import(ctx, scope, rows)
	}
	if err != nil {
		if !opts.reset && !a.cfg.AtomicImport {
			fmt.Fprintln(cmd.ErrOrStderr(), "import stopped part-way; re-run with --reset to recover")
		}
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	printSummary(out, summary)
	return nil
}

func queueRefresh(cmd *cobra.Command, a *app, scope rates.Scope, opts importOptions) error {
	if a.cfg.RedisURL == "" {
		return fmt.Errorf("--queue needs RATES_REDIS_URL")
	}
	if !opts.reset {
		return fmt.Errorf("--queue always refreshes; pass --reset to confirm")
	}
	path, err := filepath.Abs(opts.file)
	if err != nil {
		return err
	}
	if _, err := extract.FormatOf(path); err != nil {
		return err
	}

	redisOpt, err := asynq.ParseRedisURI(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := asynq.NewClient(redisOpt)
	defer client.Close()

	id, err := jobs.EnqueueRefresh(cmd.Context(), client, jobs.RefreshPayload{
		CouncilID: string(scope.Council.ID),
		Period:    string(scope.Period),
		Path:      path,
		Header:    opts.header,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %s (task %s)\n", scope, id)
	return nil
}
