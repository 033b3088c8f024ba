package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/salesledger/backend/internal/application/ingestion"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Parallel int
	Sweep    bool
}

// envelopeRecord is the file form of one pushed document
type envelopeRecord struct {
	SourceSystem   string          `json:"source_system"`
	DocumentType   string          `json:"document_type"`
	DocumentNumber string          `json:"document_number"`
	FetchedAt      time.Time       `json:"fetched_at"`
	Payload        json.RawMessage `json:"payload"`
}

// FileResult is the tally of one ingested file
type FileResult struct {
	File       string          `json:"file"`
	Total      int             `json:"total"`
	Ingested   int             `json:"ingested"`
	Invalid    int             `json:"invalid"`
	Collisions int             `json:"collisions"`
	Failed     int             `json:"failed"`
	Entries    int             `json:"entries"`
	Warnings   int             `json:"warnings"`
	Rejected   []RejectedEntry `json:"rejected,omitempty"`

	saleDates *shared.DateRange
}

// RejectedEntry is a document the pipeline skipped
type RejectedEntry struct {
	DocumentNumber string `json:"document_number"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Outcome        string `json:"outcome"`
	Error          string `json:"error"`
}

// IngestResult is the output of the ingest command
type IngestResult struct {
	Files  []FileResult  `json:"files"`
	Sweeps []SweepResult `json:"sweeps,omitempty"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest envelope files into the ledger",
		Long: `Ingest one or more files of marketplace documents. Each file is one batch:
a JSON array of envelopes or a stream of envelope objects (JSON lines).

An envelope carries source_system, document_type, document_number,
fetched_at and the document payload. Documents are ingested in file order;
a rejected document is reported and the rest of the file continues.

Exit codes:
  0 - Every document was ingested
  1 - Some documents were rejected or failed
  2 - Command error (unreadable file, configuration, connection)

Examples:
  ledgerctl ingest ozon-2024-04-02.json
  ledgerctl ingest --parallel 4 --sweep exports/*.jsonl`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd, args)
		},
	}

	cmd.Flags().IntVar(&opts.Parallel, "parallel", 1, "files ingested concurrently")
	cmd.Flags().BoolVar(&opts.Sweep, "sweep", false, "run matching, reconciliation and quality over the touched sale dates")

	return cmd
}

func runIngest(opts *IngestOptions, cmd *cobra.Command, files []string) error {
	ctx := cmd.Context()
	if opts.Parallel < 1 {
		return NewExitError(ExitCommandError, "--parallel must be at least 1")
	}

	app, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	result := IngestResult{Files: make([]FileResult, len(files))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallel)
	for i, path := range files {
		g.Go(func() error {
			r, err := ingestFile(gctx, app.Ingestion, path)
			if err != nil {
				return err
			}
			result.Files[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "ingestion aborted", err)
	}

	var touched *shared.DateRange
	for _, f := range result.Files {
		touched = widen(touched, f.saleDates)
	}
	var sweepErr error
	if opts.Sweep && touched != nil {
		summaries, err := app.Trigger.RunAll(ctx, *touched)
		result.Sweeps = sweepResults(summaries)
		sweepErr = err
	}

	p := newPrinter(opts.RootOptions, cmd)
	if err := p.print(result, func(w io.Writer) error { return printIngest(w, result, opts.Verbose) }); err != nil {
		return err
	}
	if sweepErr != nil {
		return WrapExitError(ExitFailure, "sweeps failed", sweepErr)
	}
	for _, f := range result.Files {
		if f.Ingested < f.Total {
			return NewExitError(ExitFailure, "some documents were not ingested")
		}
	}
	return nil
}

// ingestFile reads one envelope file and ingests it as a batch
func ingestFile(ctx context.Context, svc *ingestion.Service, path string) (FileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileResult{}, err
	}
	defer f.Close()

	envs, err := readEnvelopes(f)
	if err != nil {
		return FileResult{}, fmt.Errorf("%s: %w", path, err)
	}

	batch := svc.IngestBatch(ctx, envs)
	r := FileResult{
		File:       path,
		Total:      batch.Total,
		Ingested:   batch.Ingested,
		Invalid:    batch.Invalid,
		Collisions: batch.Collisions,
		Failed:     batch.Failed,
		Entries:    batch.Entries,
		Warnings:   batch.Warnings,
		saleDates:  batch.SaleDates,
	}
	for _, d := range batch.Results {
		if d.Err == nil {
			continue
		}
		r.Rejected = append(r.Rejected, RejectedEntry{
			DocumentNumber: d.DocumentNumber,
			IdempotencyKey: d.IdempotencyKey,
			Outcome:        string(d.Outcome),
			Error:          d.Err.Error(),
		})
	}
	return r, nil
}

// readEnvelopes decodes a JSON array of envelopes or a stream of envelope objects
func readEnvelopes(r io.Reader) ([]ingestion.Envelope, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var records []envelopeRecord
	if data[0] == '[' {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decode envelopes: %w", err)
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		for {
			var rec envelopeRecord
			err := dec.Decode(&rec)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("decode envelope %d: %w", len(records)+1, err)
			}
			records = append(records, rec)
		}
	}

	envs := make([]ingestion.Envelope, len(records))
	for i, rec := range records {
		envs[i] = ingestion.Envelope{
			SourceSystem:   ledger.SourceSystem(strings.ToUpper(strings.TrimSpace(rec.SourceSystem))),
			DocumentType:   ledger.DocumentType(strings.ToUpper(strings.TrimSpace(rec.DocumentType))),
			DocumentNumber: rec.DocumentNumber,
			FetchedAt:      rec.FetchedAt,
			Payload:        rec.Payload,
		}
	}
	return envs, nil
}

// widen returns the smallest range covering a and b
func widen(a, b *shared.DateRange) *shared.DateRange {
	switch {
	case b == nil:
		return a
	case a == nil:
		r := *b
		return &r
	}
	r := *a
	if b.From.Before(r.From) {
		r.From = b.From
	}
	if b.To.After(r.To) {
		r.To = b.To
	}
	return &r
}

func printIngest(w io.Writer, result IngestResult, verbose bool) error {
	rows := make([][]string, 0, len(result.Files))
	for _, f := range result.Files {
		rows = append(rows, []string{
			f.File,
			strconv.Itoa(f.Total),
			strconv.Itoa(f.Ingested),
			strconv.Itoa(f.Invalid),
			strconv.Itoa(f.Collisions),
			strconv.Itoa(f.Failed),
			strconv.Itoa(f.Entries),
		})
	}
	if err := table(w, []string{"FILE", "TOTAL", "INGESTED", "INVALID", "COLLISIONS", "FAILED", "ENTRIES"}, rows); err != nil {
		return err
	}

	for _, f := range result.Files {
		for i, rej := range f.Rejected {
			if !verbose && i == 5 {
				fmt.Fprintf(w, "  %s: %d more rejected (use -v)\n", f.File, len(f.Rejected)-i)
				break
			}
			fmt.Fprintf(w, "  %s: %s %s: %s\n", f.File, rej.Outcome, rej.DocumentNumber, rej.Error)
		}
	}
	if len(result.Sweeps) > 0 {
		fmt.Fprintln(w)
		return printSweeps(w, result.Sweeps)
	}
	return nil
}
