package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	From         string
	To           string
	Source       string
	Organization string
	Connection   string
	Status       string
	SKU          string
	Document     string
	Sort         string
	Order        string
	Page         int
	PageSize     int

	now func() time.Time
}

// EntryView is the output form of a ledger entry
type EntryView struct {
	NaturalKey       string           `json:"natural_key"`
	SourceSystem     string           `json:"source_system"`
	DocumentNumber   string           `json:"document_number"`
	LineID           string           `json:"line_id"`
	Scheme           string           `json:"scheme"`
	SaleDate         string           `json:"sale_date"`
	EventTime        time.Time        `json:"event_time"`
	SellerSKU        string           `json:"seller_sku,omitempty"`
	Title            string           `json:"title,omitempty"`
	Quantity         decimal.Decimal  `json:"quantity"`
	EffectivePrice   decimal.Decimal  `json:"effective_price"`
	LineAmount       decimal.Decimal  `json:"line_amount"`
	CurrencyCode     string           `json:"currency_code"`
	NormalizedStatus string           `json:"normalized_status"`
	OrganizationRef  *uuid.UUID       `json:"organization_ref,omitempty"`
	ConnectionRef    *uuid.UUID       `json:"connection_ref,omitempty"`
	CatalogRef       *uuid.UUID       `json:"catalog_ref,omitempty"`
	State            string           `json:"state"`
	PlanPayout       *decimal.Decimal `json:"plan_payout,omitempty"`
	PlanProfit       *decimal.Decimal `json:"plan_profit,omitempty"`
	FactPayout       *decimal.Decimal `json:"fact_payout,omitempty"`
	FactProfit       *decimal.Decimal `json:"fact_profit,omitempty"`
}

// QueryResult is one page of the query command
type QueryResult struct {
	Entries    []EntryView `json:"entries"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts, now: time.Now}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "List ledger entries",
		Long: `List ledger entries ordered by sale date and natural key, one page at a time.
Without --from/--to the scheduler's trailing window ending today is used.

Examples:
  ledgerctl query --from 2024-04-01 --to 2024-04-30 --source OZON
  ledgerctl query --sku SKU-A --status DELIVERED --format json
  ledgerctl query --sort line_amount --order desc --page-size 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "first sale date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.To, "to", "", "last sale date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "source system (OZON|WB|YM)")
	cmd.Flags().StringVar(&opts.Organization, "organization", "", "organization id")
	cmd.Flags().StringVar(&opts.Connection, "connection", "", "connection id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "normalized status")
	cmd.Flags().StringVar(&opts.SKU, "sku", "", "seller SKU")
	cmd.Flags().StringVar(&opts.Document, "document", "", "document number")
	cmd.Flags().StringVar(&opts.Sort, "sort", "sale_date", "order by sale_date|event_time|natural_key|seller_sku|quantity|line_amount|normalized_status|updated_at")
	cmd.Flags().StringVar(&opts.Order, "order", "asc", "sort direction (asc|desc)")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "entries per page (default from configuration)")

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	app, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	filter, err := opts.filter(app.Config.Scheduler.WindowDays, app.Config.LedgerLocation())
	if err != nil {
		return err
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = app.Config.Ledger.DefaultPageSize
	}

	page, err := app.Ledger.Query(ctx, filter, opts.Page, pageSize)
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}

	result := QueryResult{
		Entries:    make([]EntryView, len(page.Items)),
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
	}
	for i := range page.Items {
		result.Entries[i] = entryView(&page.Items[i])
	}

	p := newPrinter(opts.RootOptions, cmd)
	return p.print(result, func(w io.Writer) error {
		rows := make([][]string, len(result.Entries))
		for i, e := range result.Entries {
			rows[i] = []string{e.SaleDate, e.NaturalKey, e.SellerSKU, e.Quantity.String(), e.LineAmount.StringFixed(2), e.NormalizedStatus, e.State}
		}
		if err := table(w, []string{"SALE_DATE", "NATURAL_KEY", "SKU", "QTY", "AMOUNT", "STATUS", "STATE"}, rows); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "page %d/%d, %d entries\n", result.Page, result.TotalPages, result.Total)
		return err
	})
}

func (o *QueryOptions) filter(windowDays int, loc *time.Location) (ledger.LedgerFilter, error) {
	r, err := parseRange(o.From, o.To, windowDays, o.now(), loc)
	if err != nil {
		return ledger.LedgerFilter{}, err
	}
	filter := ledger.LedgerFilter{
		From:             r.From,
		To:               r.To,
		NormalizedStatus: ledger.NormalizedStatus(o.Status),
		SellerSKU:        o.SKU,
		DocumentNumber:   o.Document,
		SortBy:           o.Sort,
		SortOrder:        o.Order,
	}
	if o.Source != "" {
		if filter.SourceSystem, err = ledger.ParseSourceSystem(o.Source); err != nil {
			return ledger.LedgerFilter{}, WrapExitError(ExitCommandError, "invalid --source", err)
		}
	}
	if filter.OrganizationRef, err = optionalUUID("--organization", o.Organization); err != nil {
		return ledger.LedgerFilter{}, err
	}
	if filter.ConnectionRef, err = optionalUUID("--connection", o.Connection); err != nil {
		return ledger.LedgerFilter{}, err
	}
	return filter, nil
}

func optionalUUID(flag, value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid "+flag, err)
	}
	return &id, nil
}

// AggregateOptions holds flags for the aggregate command.
type AggregateOptions struct {
	*RootOptions
	From    string
	To      string
	GroupBy string

	now func() time.Time
}

// AggregateView is one group in output form
type AggregateView struct {
	Key            string          `json:"key"`
	Entries        int64           `json:"entries"`
	Quantity       decimal.Decimal `json:"quantity"`
	LineAmount     decimal.Decimal `json:"line_amount"`
	PlanCommission decimal.Decimal `json:"plan_commission"`
	PlanPayout     decimal.Decimal `json:"plan_payout"`
	FactPayout     decimal.Decimal `json:"fact_payout"`
	FactEntries    int64           `json:"fact_entries"`
}

// NewAggregateCommand creates the aggregate command.
func NewAggregateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AggregateOptions{RootOptions: rootOpts, now: time.Now}

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Sum ledger entries by sale date, source system or organization",
		Example: `  ledgerctl aggregate --from 2024-04-01 --to 2024-04-30
  ledgerctl aggregate --group-by source_system --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAggregate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "first sale date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.To, "to", "", "last sale date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.GroupBy, "group-by", string(ledger.GroupBySaleDate), "sale_date|source_system|organization_ref")

	return cmd
}

func runAggregate(opts *AggregateOptions, cmd *cobra.Command) error {
	groupBy := ledger.GroupBy(opts.GroupBy)
	if !groupBy.IsValid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --group-by %q", opts.GroupBy))
	}

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
	groups, err := app.Ledger.Aggregate(ctx, r, groupBy)
	if err != nil {
		return WrapExitError(ExitFailure, "aggregate failed", err)
	}

	views := make([]AggregateView, len(groups))
	for i, g := range groups {
		views[i] = AggregateView(g)
	}
	p := newPrinter(opts.RootOptions, cmd)
	return p.print(views, func(w io.Writer) error {
		rows := make([][]string, len(views))
		for i, v := range views {
			key := v.Key
			if key == "" {
				key = "-"
			}
			rows[i] = []string{
				key,
				strconv.FormatInt(v.Entries, 10),
				v.Quantity.String(),
				v.LineAmount.StringFixed(2),
				v.PlanPayout.StringFixed(2),
				v.FactPayout.StringFixed(2),
				strconv.FormatInt(v.FactEntries, 10),
			}
		}
		return table(w, []string{"KEY", "ENTRIES", "QTY", "AMOUNT", "PLAN_PAYOUT", "FACT_PAYOUT", "FACT_ENTRIES"}, rows)
	})
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get SOURCE DOCUMENT LINE",
		Short:         "Show one ledger entry by natural key",
		Example:       "  ledgerctl get OZON 0123-4567-1 1",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, cmd, args)
		},
	}
}

func runGet(opts *RootOptions, cmd *cobra.Command, args []string) error {
	source, err := ledger.ParseSourceSystem(args[0])
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid source", err)
	}

	ctx := cmd.Context()
	app, err := opts.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	entry, err := app.Ledger.GetByNaturalKey(ctx, ledger.NaturalKey{SourceSystem: source, DocumentNumber: args[1], LineID: args[2]})
	if errors.Is(err, ledger.ErrNotFound) {
		return WrapExitError(ExitFailure, "entry not found", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "lookup failed", err)
	}

	view := entryView(entry)
	p := newPrinter(opts, cmd)
	return p.print(view, func(w io.Writer) error {
		rows := [][]string{
			{"natural_key", view.NaturalKey},
			{"scheme", view.Scheme},
			{"sale_date", view.SaleDate},
			{"sku", view.SellerSKU},
			{"quantity", view.Quantity.String()},
			{"line_amount", view.LineAmount.StringFixed(2)},
			{"status", view.NormalizedStatus},
			{"state", view.State},
		}
		if view.CatalogRef != nil {
			rows = append(rows, []string{"catalog_ref", view.CatalogRef.String()})
		}
		if view.PlanPayout != nil {
			rows = append(rows, []string{"plan_payout", view.PlanPayout.StringFixed(2)}, []string{"plan_profit", view.PlanProfit.StringFixed(2)})
		}
		if view.FactPayout != nil {
			rows = append(rows, []string{"fact_payout", view.FactPayout.StringFixed(2)}, []string{"fact_profit", view.FactProfit.StringFixed(2)})
		}
		return table(w, []string{"FIELD", "VALUE"}, rows)
	})
}

func entryView(e *ledger.LedgerEntry) EntryView {
	v := EntryView{
		NaturalKey:       e.Key.String(),
		SourceSystem:     string(e.Key.SourceSystem),
		DocumentNumber:   e.Key.DocumentNumber,
		LineID:           e.Key.LineID,
		Scheme:           string(e.Scheme),
		SaleDate:         e.SaleDate.Format(time.DateOnly),
		EventTime:        e.EventTime,
		SellerSKU:        e.SellerSKU,
		Title:            e.Title,
		Quantity:         e.Quantity,
		EffectivePrice:   e.EffectivePrice,
		LineAmount:       e.LineAmount,
		CurrencyCode:     e.CurrencyCode,
		NormalizedStatus: string(e.NormalizedStatus),
		OrganizationRef:  e.OrganizationRef,
		ConnectionRef:    e.ConnectionRef,
		CatalogRef:       e.CatalogRef,
		State:            string(e.State()),
	}
	if e.Plan != nil {
		v.PlanPayout, v.PlanProfit = &e.Plan.Payout, &e.Plan.Profit
	}
	if e.Fact != nil {
		v.FactPayout, v.FactProfit = &e.Fact.Payout, &e.Fact.Profit
	}
	return v
}
