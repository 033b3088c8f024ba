// Package matching links ledger lines to catalog items by seller SKU,
// creating stub items for SKUs the catalog does not know yet.
package matching

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/logger"
	"github.com/salesledger/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// SweepName labels matching logs, locks and metrics
const SweepName = "match"

const defaultBatchSize = 500

// CatalogCache remembers lookup key to catalog id resolutions across sweeps.
// A cache error is never fatal; the matcher falls through to the catalog.
type CatalogCache interface {
	Get(ctx context.Context, lookupKey string) (uuid.UUID, bool, error)
	Set(ctx context.Context, lookupKey string, id uuid.UUID) error
}

// SweepSummary counts what one matching pass did
type SweepSummary struct {
	Processed int
	Matched   int
	Raced     int // matched by another sweep first
	NoSKU     int
	Errors    int
	Catalog   int // distinct lookup keys resolved
}

// Matcher runs product matching sweeps
type Matcher struct {
	store     ledger.MatchingStore
	catalog   ledger.CatalogRepository
	cache     CatalogCache
	batchSize int
	metrics   *telemetry.LedgerMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Matcher
type Option func(*Matcher)

// WithCache adds a shared lookup cache in front of the catalog
func WithCache(c CatalogCache) Option {
	return func(m *Matcher) {
		m.cache = c
	}
}

// WithBatchSize sets the page size of the sweep
func WithBatchSize(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithMetrics records sweep counters
func WithMetrics(metrics *telemetry.LedgerMetrics) Option {
	return func(m *Matcher) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithLogger sets the matcher logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMatcher creates a product matcher
func NewMatcher(store ledger.MatchingStore, catalog ledger.CatalogRepository, opts ...Option) *Matcher {
	m := &Matcher{
		store:     store,
		catalog:   catalog,
		batchSize: defaultBatchSize,
		metrics:   telemetry.NoopLedgerMetrics(),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run links every unmatched line in r. Re-running is a no-op on lines that
// are already matched, and lines matched concurrently keep the first link.
func (m *Matcher) Run(ctx context.Context, r shared.DateRange) (SweepSummary, error) {
	var summary SweepSummary
	if err := r.Validate(); err != nil {
		return summary, err
	}

	ctx = logger.WithSweep(ctx, SweepName)
	ctx, span := telemetry.StartSweepSpan(ctx, SweepName, r)
	defer span.End()
	log := logger.Enrich(ctx, m.logger)
	started := m.now()

	memo := make(map[string]uuid.UUID)
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			telemetry.RecordError(span, err)
			return summary, err
		}
		page, err := m.store.ListUnmatched(ctx, r, after, m.batchSize)
		if err != nil {
			telemetry.RecordError(span, err)
			return summary, fmt.Errorf("list unmatched entries: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for i := range page {
			m.matchOne(ctx, &page[i], memo, &summary)
		}
		after = page[len(page)-1].ID
		if len(page) < m.batchSize {
			break
		}
	}
	summary.Catalog = len(memo)

	elapsed := m.now().Sub(started)
	telemetry.SetAttributes(span, "processed", summary.Processed, "matched", summary.Matched)
	m.metrics.RecordSweep(ctx, SweepName, summary.Processed, summary.Matched, summary.Errors, elapsed.Seconds())
	log.Info("Matching sweep finished",
		zap.Int("processed", summary.Processed),
		zap.Int("matched", summary.Matched),
		zap.Int("raced", summary.Raced),
		zap.Int("no_sku", summary.NoSKU),
		zap.Int("catalog_items", summary.Catalog),
		zap.Int("errors", summary.Errors),
		zap.Duration("elapsed", elapsed),
	)
	return summary, nil
}

func (m *Matcher) matchOne(ctx context.Context, entry *ledger.LedgerEntry, memo map[string]uuid.UUID, summary *SweepSummary) {
	summary.Processed++
	if strings.TrimSpace(entry.SellerSKU) == "" {
		summary.NoSKU++
		return
	}
	log := logger.Enrich(ctx, m.logger)

	stub := ledger.CatalogStub{
		SourceSystem: entry.Key.SourceSystem,
		SellerSKU:    entry.SellerSKU,
		Title:        entry.Title,
		Barcode:      entry.Barcode,
	}
	id, err := m.resolve(ctx, stub, memo)
	if err != nil {
		summary.Errors++
		log.Error("Failed to resolve catalog item",
			zap.String("lookup_key", stub.LookupKey()),
			zap.Error(err),
		)
		return
	}

	linked, err := m.store.SetCatalogRef(ctx, entry.ID, id)
	if err != nil {
		summary.Errors++
		log.Error("Failed to link ledger entry",
			zap.String("natural_key", entry.Key.String()),
			zap.Error(err),
		)
		return
	}
	if linked {
		summary.Matched++
	} else {
		summary.Raced++
	}
}

// resolve finds the catalog id of a stub: sweep memo, then shared cache,
// then find-or-create in the catalog.
func (m *Matcher) resolve(ctx context.Context, stub ledger.CatalogStub, memo map[string]uuid.UUID) (uuid.UUID, error) {
	key := stub.LookupKey()
	if id, ok := memo[key]; ok {
		return id, nil
	}

	if m.cache != nil {
		id, ok, err := m.cache.Get(ctx, key)
		if err != nil {
			logger.Enrich(ctx, m.logger).Warn("Catalog cache read failed", zap.String("lookup_key", key), zap.Error(err))
		} else if ok {
			memo[key] = id
			return id, nil
		}
	}

	id, err := m.catalog.FindOrCreate(ctx, stub)
	if err != nil {
		return uuid.Nil, err
	}
	memo[key] = id
	if m.cache != nil {
		if err := m.cache.Set(ctx, key, id); err != nil {
			logger.Enrich(ctx, m.logger).Warn("Catalog cache write failed", zap.String("lookup_key", key), zap.Error(err))
		}
	}
	return id, nil
}
