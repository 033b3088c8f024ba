package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Work ran but some of it failed (documents skipped, sweep errors)
	ExitCommandError = 2 // Command error (bad flags, configuration, connection)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// printer writes command results as an aligned table or as JSON
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(opts *RootOptions, cmd *cobra.Command) *printer {
	return &printer{format: opts.Format, w: cmd.OutOrStdout()}
}

// print writes v as indented JSON, or calls text in text mode
func (p *printer) print(v any, text func(w io.Writer) error) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(p.w)
}

// table writes tab-separated rows aligned in columns
func table(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// parseRange parses YYYY-MM-DD bounds. An empty bound defaults to the
// trailing window of days ending today in loc, the zone sale dates are in.
func parseRange(from, to string, days int, now time.Time, loc *time.Location) (shared.DateRange, error) {
	window := shared.TrailingDays(now.In(loc), days)
	var err error
	if from != "" {
		if window.From, err = time.Parse(time.DateOnly, from); err != nil {
			return shared.DateRange{}, WrapExitError(ExitCommandError, "invalid --from", err)
		}
	}
	if to != "" {
		if window.To, err = time.Parse(time.DateOnly, to); err != nil {
			return shared.DateRange{}, WrapExitError(ExitCommandError, "invalid --to", err)
		}
	}
	r, err := shared.NewDateRange(window.From, window.To)
	if err != nil {
		return shared.DateRange{}, WrapExitError(ExitCommandError, "invalid date range", err)
	}
	return r, nil
}
