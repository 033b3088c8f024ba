package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/spf13/cobra"
)

// ReprocessResult is the outcome of one re-projected document
type ReprocessResult struct {
	DocumentNumber string   `json:"document_number"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	Outcome        string   `json:"outcome"`
	Entries        int      `json:"entries"`
	Warnings       []string `json:"warnings,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// NewReprocessCommand creates the reprocess command.
func NewReprocessCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess SOURCE TYPE NUMBER...",
		Short: "Re-project documents from their stored raw payload",
		Long: `Decode the stored raw payload of each document again and run it through
canonical upsert and projection, as if it had just been pushed. Use it after
a projection fix to rebuild the ledger lines of affected documents.

Examples:
  ledgerctl reprocess OZON FBS_POSTING 0123-4567-1
  ledgerctl reprocess WB SALE_EVENT S-1001 S-1002`,
		Args:          cobra.MinimumNArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReprocess(rootOpts, cmd, args)
		},
	}
}

func runReprocess(opts *RootOptions, cmd *cobra.Command, args []string) error {
	source, err := ledger.ParseSourceSystem(args[0])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid source", err)
	}
	docType := ledger.DocumentType(strings.ToUpper(args[1]))
	if _, err := ledger.FamilyOf(source, docType); err != nil {
		return WrapExitError(ExitCommandError, "invalid document type", err)
	}

	ctx := cmd.Context()
	app, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	results := make([]ReprocessResult, 0, len(args)-2)
	failed := 0
	for _, number := range args[2:] {
		r, err := app.Ingestion.Reprocess(ctx, source, docType, number)
		res := ReprocessResult{
			DocumentNumber: number,
			IdempotencyKey: r.IdempotencyKey,
			Outcome:        string(r.Outcome),
			Entries:        r.Entries,
			Warnings:       r.Warnings,
		}
		if err != nil {
			res.Error = err.Error()
			if res.Outcome == "" {
				res.Outcome = "failed"
			}
			failed++
		}
		results = append(results, res)
	}

	p := newPrinter(opts, cmd)
	err = p.print(results, func(w io.Writer) error {
		rows := make([][]string, len(results))
		for i, r := range results {
			rows[i] = []string{r.DocumentNumber, r.Outcome, strconv.Itoa(r.Entries), r.Error}
		}
		return table(w, []string{"DOCUMENT", "OUTCOME", "ENTRIES", "ERROR"}, rows)
	})
	if err != nil {
		return err
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d documents failed", failed, len(results)))
	}
	return nil
}

// PruneOptions holds flags for the prune command.
type PruneOptions struct {
	*RootOptions
	Before string

	now func() time.Time
}

// PruneResult is the output of the prune command
type PruneResult struct {
	FetchedBefore string `json:"fetched_before"`
	Deleted       int64  `json:"deleted"`
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts, now: time.Now}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete raw documents past retention",
		Long: `Delete raw documents last fetched before the cutoff, with their archived
payloads. The default cutoff is raw_store.retention_days before today.
Canonical documents and ledger lines are kept; such documents can no
longer be reprocessed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Before, "before", "", "cutoff fetch date (YYYY-MM-DD)")

	return cmd
}

func runPrune(opts *PruneOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	app, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	cutoff := opts.now().UTC().AddDate(0, 0, -app.Config.RawStore.RetentionDays).Truncate(24 * time.Hour)
	if opts.Before != "" {
		if cutoff, err = time.Parse(time.DateOnly, opts.Before); err != nil {
			return WrapExitError(ExitCommandError, "invalid --before", err)
		}
	}

	deleted, err := app.Raw.Prune(ctx, cutoff)
	if err != nil {
		return WrapExitError(ExitFailure, "prune failed", err)
	}

	result := PruneResult{FetchedBefore: cutoff.Format(time.DateOnly), Deleted: deleted}
	p := newPrinter(opts.RootOptions, cmd)
	return p.print(result, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "deleted %d raw documents fetched before %s\n", result.Deleted, result.FetchedBefore)
		return err
	})
}
