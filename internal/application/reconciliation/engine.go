// Package reconciliation computes the plan and fact financials of ledger
// lines. Plan values come from the line and the configured commission rates;
// fact values come from the settlement records that confirm the sale.
package reconciliation

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/ledger/projection"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/logger"
	"github.com/salesledger/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SweepName labels reconciliation logs, locks and metrics
const SweepName = "reconcile"

const defaultBatchSize = 500

// SettlementFinder looks up settlement rows by the document they settle
type SettlementFinder interface {
	FindByReferences(ctx context.Context, source ledger.SourceSystem, refs []string) ([]*ledger.SettlementRecord, error)
}

// CostPriceReader returns the unit cost of catalog items
type CostPriceReader interface {
	CostPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}

// Rates holds the commission rate of each source system
type Rates struct {
	Default  decimal.Decimal
	BySource map[ledger.SourceSystem]decimal.Decimal
}

// For returns the rate of a source, or the default
func (r Rates) For(source ledger.SourceSystem) decimal.Decimal {
	if rate, ok := r.BySource[source]; ok {
		return rate
	}
	return r.Default
}

// SweepSummary counts what one reconciliation pass did
type SweepSummary struct {
	Processed int
	Updated   int
	Skipped   int
	Errors    int
	Facts     int // lines carrying fact values after the pass
}

// Engine runs reconciliation sweeps
type Engine struct {
	store       ledger.ReconciliationStore
	settlements SettlementFinder
	costs       CostPriceReader
	rates       Rates
	batchSize   int
	metrics     *telemetry.LedgerMetrics
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithBatchSize sets the page size of the sweep
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMetrics records sweep counters
func WithMetrics(m *telemetry.LedgerMetrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a reconciliation engine
func NewEngine(store ledger.ReconciliationStore, settlements SettlementFinder, costs CostPriceReader, rates Rates, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		settlements: settlements,
		costs:       costs,
		rates:       rates,
		batchSize:   defaultBatchSize,
		metrics:     telemetry.NoopLedgerMetrics(),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run reconciles every ledger line whose sale date lies in r. A failing line
// is counted and skipped; a failing page read stops the sweep.
func (e *Engine) Run(ctx context.Context, r shared.DateRange) (SweepSummary, error) {
	var summary SweepSummary
	if err := r.Validate(); err != nil {
		return summary, err
	}

	ctx = logger.WithSweep(ctx, SweepName)
	ctx, span := telemetry.StartSweepSpan(ctx, SweepName, r)
	defer span.End()
	log := logger.Enrich(ctx, e.logger)
	started := e.now()

	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			telemetry.RecordError(span, err)
			return summary, err
		}
		page, err := e.store.ListForReconciliation(ctx, r, after, e.batchSize)
		if err != nil {
			telemetry.RecordError(span, err)
			return summary, fmt.Errorf("list ledger entries: %w", err)
		}
		if len(page) == 0 {
			break
		}
		if err := e.reconcilePage(ctx, page, &summary); err != nil {
			telemetry.RecordError(span, err)
			return summary, err
		}
		after = page[len(page)-1].ID
		if len(page) < e.batchSize {
			break
		}
	}

	elapsed := e.now().Sub(started)
	telemetry.SetAttributes(span,
		"processed", summary.Processed,
		"updated", summary.Updated,
		"errors", summary.Errors,
	)
	e.metrics.RecordSweep(ctx, SweepName, summary.Processed, summary.Updated, summary.Errors, elapsed.Seconds())
	log.Info("Reconciliation sweep finished",
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("facts", summary.Facts),
		zap.Int("errors", summary.Errors),
		zap.Duration("elapsed", elapsed),
	)
	return summary, nil
}

// docKey groups lines and settlements by the document they belong to
type docKey struct {
	source ledger.SourceSystem
	number string
}

func (e *Engine) reconcilePage(ctx context.Context, page []ledger.LedgerEntry, summary *SweepSummary) error {
	numbers := make(map[ledger.SourceSystem][]string)
	seen := make(map[docKey]bool)
	var catalogIDs []uuid.UUID
	for i := range page {
		k := docKey{page[i].Key.SourceSystem, page[i].Key.DocumentNumber}
		if !seen[k] {
			seen[k] = true
			numbers[k.source] = append(numbers[k.source], k.number)
		}
		if page[i].CatalogRef != nil {
			catalogIDs = append(catalogIDs, *page[i].CatalogRef)
		}
	}

	settled := make(map[docKey][]*ledger.SettlementRecord)
	siblings := make(map[docKey][]ledger.LedgerEntry)
	for source, refs := range numbers {
		records, err := e.settlements.FindByReferences(ctx, source, refs)
		if err != nil {
			return fmt.Errorf("find %s settlements: %w", source, err)
		}
		var withSettlements []string
		for _, s := range records {
			if !s.IsSale() {
				continue
			}
			k := docKey{source, s.DocumentRef}
			if _, ok := settled[k]; !ok {
				withSettlements = append(withSettlements, s.DocumentRef)
			}
			settled[k] = append(settled[k], s)
		}
		if len(withSettlements) == 0 {
			continue
		}
		lines, err := e.store.ListByDocuments(ctx, source, withSettlements)
		if err != nil {
			return fmt.Errorf("list %s document lines: %w", source, err)
		}
		for _, l := range lines {
			k := docKey{source, l.Key.DocumentNumber}
			siblings[k] = append(siblings[k], l)
		}
	}

	costs := map[uuid.UUID]decimal.Decimal{}
	if len(catalogIDs) > 0 {
		var err error
		if costs, err = e.costs.CostPrices(ctx, catalogIDs); err != nil {
			return fmt.Errorf("load cost prices: %w", err)
		}
	}

	log := logger.Enrich(ctx, e.logger)
	for i := range page {
		entry := &page[i]
		summary.Processed++
		k := docKey{entry.Key.SourceSystem, entry.Key.DocumentNumber}

		cost := decimal.Zero
		if entry.CatalogRef != nil {
			cost = costs[*entry.CatalogRef].Mul(entry.Quantity)
		}
		plan := ComputePlan(*entry, e.rates.For(entry.Key.SourceSystem), cost)
		fact := ComputeFact(*entry, siblings[k], settled[k], cost)

		if fact != nil || entry.IsFact {
			summary.Facts++
		}
		if unchanged(entry, plan, fact) {
			summary.Skipped++
			continue
		}
		if err := e.store.UpdateReconciliation(ctx, entry.ID, plan, fact); err != nil {
			summary.Errors++
			log.Error("Failed to update reconciliation",
				zap.String("natural_key", entry.Key.String()),
				zap.Error(err),
			)
			continue
		}
		summary.Updated++
	}
	return nil
}

func unchanged(entry *ledger.LedgerEntry, plan ledger.PlanFields, fact *ledger.FactFields) bool {
	if entry.Plan == nil || !entry.Plan.Equal(plan) {
		return false
	}
	if fact == nil {
		return true
	}
	return entry.IsFact && entry.Fact != nil && entry.Fact.Equal(*fact)
}

// ComputePlan derives the estimated financials of a line: commission is the
// rate applied to the line amount, payout is what remains, and profit is
// payout less the cost of the goods sold.
func ComputePlan(entry ledger.LedgerEntry, rate, cost decimal.Decimal) ledger.PlanFields {
	commission := entry.LineAmount.Mul(rate).Round(projection.MoneyPlaces)
	payout := entry.LineAmount.Sub(commission)
	return ledger.PlanFields{
		Commission: commission,
		Logistics:  decimal.Zero,
		OtherFees:  decimal.Zero,
		Payout:     payout,
		Profit:     payout.Sub(cost).Round(projection.MoneyPlaces),
	}
}

// ComputeFact sums the sale settlements that match entry. lines are all
// ledger lines of the entry's document; a settlement without SKU, or with
// a SKU several lines share, is split across its candidate lines in
// proportion to their line amounts. It returns nil when nothing matches.
//
// Reported settlement profit already accounts for cost. Once any matched
// record reports one, records that don't (fee rows) add their payout to it;
// when none reports, profit is payout less cost.
func ComputeFact(entry ledger.LedgerEntry, lines []ledger.LedgerEntry, settlements []*ledger.SettlementRecord, cost decimal.Decimal) *ledger.FactFields {
	if len(settlements) == 0 {
		return nil
	}
	if len(lines) == 0 {
		lines = []ledger.LedgerEntry{entry}
	}
	lines = slices.Clone(lines)
	slices.SortFunc(lines, func(a, b ledger.LedgerEntry) int { return strings.Compare(a.Key.LineID, b.Key.LineID) })

	fact := ledger.FactFields{
		Commission: decimal.Zero,
		Logistics:  decimal.Zero,
		OtherFees:  decimal.Zero,
		Payout:     decimal.Zero,
		Profit:     decimal.Zero,
	}
	reportedProfit := false
	unreportedPayout := decimal.Zero
	for _, s := range settlements {
		if !s.IsSale() {
			continue
		}
		candidates := candidateLines(lines, s.SellerSKU)
		at := indexOf(candidates, entry.Key)
		if at < 0 {
			continue
		}
		weights := make([]decimal.Decimal, len(candidates))
		for i, l := range candidates {
			weights[i] = l.LineAmount
		}
		share := func(total decimal.Decimal) decimal.Decimal {
			if len(candidates) == 1 {
				return total
			}
			return projection.Allocate(total, weights)[at]
		}
		fact.Commission = fact.Commission.Add(share(s.Commission))
		fact.Logistics = fact.Logistics.Add(share(s.Logistics))
		fact.OtherFees = fact.OtherFees.Add(share(s.OtherFees))
		payout := share(s.Payout)
		fact.Payout = fact.Payout.Add(payout)
		if s.Profit.IsZero() {
			unreportedPayout = unreportedPayout.Add(payout)
		} else {
			reportedProfit = true
			fact.Profit = fact.Profit.Add(share(s.Profit))
		}
		fact.SettlementCount++
	}
	if fact.SettlementCount == 0 {
		return nil
	}
	if reportedProfit {
		fact.Profit = fact.Profit.Add(unreportedPayout).Round(projection.MoneyPlaces)
	} else {
		fact.Profit = fact.Payout.Sub(cost).Round(projection.MoneyPlaces)
	}
	return &fact
}

func candidateLines(lines []ledger.LedgerEntry, sku string) []ledger.LedgerEntry {
	if sku == "" {
		return lines
	}
	var out []ledger.LedgerEntry
	for _, l := range lines {
		if l.SellerSKU == sku {
			out = append(out, l)
		}
	}
	return out
}

func indexOf(lines []ledger.LedgerEntry, key ledger.NaturalKey) int {
	for i := range lines {
		if lines[i].Key == key {
			return i
		}
	}
	return -1
}
