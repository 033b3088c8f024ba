package cli

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/salesledger/backend/internal/application/quality"
	"github.com/salesledger/backend/internal/application/trigger"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/spf13/cobra"
)

// SweepOptions holds flags shared by the sweep subcommands.
type SweepOptions struct {
	*RootOptions
	From         string
	To           string
	FailOnIssues bool

	now func() time.Time
}

// SweepResult is one sweep summary in output form
type SweepResult struct {
	Sweep     string `json:"sweep"`
	From      string `json:"from"`
	To        string `json:"to"`
	Processed int    `json:"processed"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// QualityResult is the output of the quality sweep
type QualityResult struct {
	SweepResult
	Today  string               `json:"today"`
	Counts ledger.QualityCounts `json:"counts"`
}

// NewSweepCommand creates the sweep command and its subcommands.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts, now: time.Now}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run ledger sweeps over a sale date range",
		Long: `Run ledger sweeps on demand. Without --from/--to a sweep covers the
scheduler's trailing window ending today. A sweep already running in another
process is reported as a command error.

Exit codes:
  0 - The sweep finished without errors
  1 - Lines failed, or the quality report found issues with --fail-on-issues
  2 - Command error (bad range, sweep locked, configuration, connection)`,
	}
	cmd.PersistentFlags().StringVar(&opts.From, "from", "", "first sale date (YYYY-MM-DD)")
	cmd.PersistentFlags().StringVar(&opts.To, "to", "", "last sale date (YYYY-MM-DD)")

	cmd.AddCommand(newSweepSubcommand(opts, "match", "Link unmatched ledger lines to catalog items",
		func(ctx context.Context, svc *trigger.Service, r shared.DateRange) ([]trigger.Summary, error) {
			s, err := svc.RunMatching(ctx, r)
			return []trigger.Summary{s}, err
		}))
	cmd.AddCommand(newSweepSubcommand(opts, "reconcile", "Recompute plan and fact values of sale lines",
		func(ctx context.Context, svc *trigger.Service, r shared.DateRange) ([]trigger.Summary, error) {
			s, err := svc.RunReconciliation(ctx, r)
			return []trigger.Summary{s}, err
		}))
	cmd.AddCommand(newSweepSubcommand(opts, "all", "Match, reconcile and report quality",
		func(ctx context.Context, svc *trigger.Service, r shared.DateRange) ([]trigger.Summary, error) {
			return svc.RunAll(ctx, r)
		}))
	cmd.AddCommand(newQualityCommand(opts))

	return cmd
}

type sweepFunc func(ctx context.Context, svc *trigger.Service, r shared.DateRange) ([]trigger.Summary, error)

func newSweepSubcommand(opts *SweepOptions, use, short string, run sweepFunc) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd, run)
		},
	}
}

func runSweep(opts *SweepOptions, cmd *cobra.Command, run sweepFunc) error {
	ctx := cmd.Context()
	app, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	r, err := parseRange(opts.From, opts.To, app.Config.Scheduler.WindowDays, opts.now(), app.Config.LedgerLocation())
	if err != nil {
		return err
	}
	summaries, err := run(ctx, app.Trigger, r)
	if err != nil {
		return sweepError(err)
	}

	results := sweepResults(summaries)
	p := newPrinter(opts.RootOptions, cmd)
	if err := p.print(results, func(w io.Writer) error { return printSweeps(w, results) }); err != nil {
		return err
	}
	for _, s := range summaries {
		if s.Errors > 0 && s.Sweep != quality.SweepName {
			return NewExitError(ExitFailure, "some lines failed")
		}
	}
	return nil
}

func newQualityCommand(opts *SweepOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Count data quality problems of the ledger",
		Long: `Count ledger lines missing references or catalog links, with negative
amounts, zero quantities or future sale dates, and natural keys stored more
than once. Duplicate natural keys always exit with 1.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuality(opts, cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.FailOnIssues, "fail-on-issues", false, "exit with 1 when any issue is found")
	return cmd
}

func runQuality(opts *SweepOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	app, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	r, err := parseRange(opts.From, opts.To, app.Config.Scheduler.WindowDays, opts.now(), app.Config.LedgerLocation())
	if err != nil {
		return err
	}
	report, summary, err := app.Trigger.RunQualityReport(ctx, r)
	if err != nil {
		return sweepError(err)
	}

	result := QualityResult{
		SweepResult: sweepResult(summary),
		Today:       report.Today.Format(time.DateOnly),
		Counts:      report.Counts,
	}
	p := newPrinter(opts.RootOptions, cmd)
	err = p.print(result, func(w io.Writer) error {
		c := report.Counts
		return table(w, []string{"CHECK", "LINES"}, [][]string{
			{"total", strconv.FormatInt(c.Total, 10)},
			{"missing_organization", strconv.FormatInt(c.MissingOrganization, 10)},
			{"missing_connection", strconv.FormatInt(c.MissingConnection, 10)},
			{"missing_catalog", strconv.FormatInt(c.MissingCatalog, 10)},
			{"negative_amounts", strconv.FormatInt(c.NegativeAmounts, 10)},
			{"zero_quantities", strconv.FormatInt(c.ZeroQuantities, 10)},
			{"future_sale_dates", strconv.FormatInt(c.FutureSaleDates, 10)},
			{"duplicate_natural_keys", strconv.FormatInt(c.DuplicateNaturalKeys, 10)},
		})
	})
	if err != nil {
		return err
	}
	if report.HasDuplicates() {
		return NewExitError(ExitFailure, "duplicate natural keys in the ledger")
	}
	if opts.FailOnIssues && report.Issues() > 0 {
		return NewExitError(ExitFailure, "quality issues found")
	}
	return nil
}

func sweepError(err error) error {
	switch {
	case errors.Is(err, shared.ErrAlreadyLocked):
		return WrapExitError(ExitCommandError, "sweep is running in another process", err)
	case errors.Is(err, shared.ErrInvalidRange):
		return WrapExitError(ExitCommandError, "invalid date range", err)
	}
	return WrapExitError(ExitFailure, "sweep failed", err)
}

func sweepResult(s trigger.Summary) SweepResult {
	return SweepResult{
		Sweep:     s.Sweep,
		From:      s.Range.From.Format(time.DateOnly),
		To:        s.Range.To.Format(time.DateOnly),
		Processed: s.Processed,
		Updated:   s.Updated,
		Skipped:   s.Skipped,
		Errors:    s.Errors,
		ElapsedMS: s.Elapsed.Milliseconds(),
	}
}

func sweepResults(summaries []trigger.Summary) []SweepResult {
	results := make([]SweepResult, len(summaries))
	for i, s := range summaries {
		results[i] = sweepResult(s)
	}
	return results
}

func printSweeps(w io.Writer, results []SweepResult) error {
	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = []string{
			r.Sweep,
			r.From + ".." + r.To,
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Updated),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Errors),
			(time.Duration(r.ElapsedMS) * time.Millisecond).String(),
		}
	}
	return table(w, []string{"SWEEP", "RANGE", "PROCESSED", "UPDATED", "SKIPPED", "ERRORS", "ELAPSED"}, rows)
}
