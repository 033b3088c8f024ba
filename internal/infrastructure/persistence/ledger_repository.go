package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ledgerUpsertBatch bounds the rows of one INSERT statement
const ledgerUpsertBatch = 500

// GormLedgerRepository implements the ledger writer, reader and sweep stores using GORM
type GormLedgerRepository struct {
	db          *gorm.DB
	maxPageSize int
	now         func() time.Time
}

// NewGormLedgerRepository creates a new GormLedgerRepository
func NewGormLedgerRepository(db *gorm.DB, maxPageSize int) *GormLedgerRepository {
	return &GormLedgerRepository{db: db, maxPageSize: maxPageSize, now: time.Now}
}

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

// Upsert writes entries by natural key. On conflict only projection-owned
// columns change; catalog_ref and the reconciliation columns keep their values.
func (r *GormLedgerRepository) Upsert(ctx context.Context, entries []ledger.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	loadedAt := r.now().UTC()
	// one statement cannot update the same row twice; the last entry for a key wins
	position := make(map[string]int, len(entries))
	rows := make([]models.LedgerEntryModel, 0, len(entries))
	for i := range entries {
		e := entries[i]
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.LoadedAt = loadedAt
		var m models.LedgerEntryModel
		m.FromDomain(&e)
		if at, dup := position[m.NaturalKey]; dup {
			rows[at] = m
			continue
		}
		position[m.NaturalKey] = len(rows)
		rows = append(rows, m)
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "natural_key"}},
			DoUpdates: clause.AssignmentColumns(models.LedgerProjectionColumns),
		}).
		CreateInBatches(&rows, ledgerUpsertBatch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: ledger natural key: %v", ledger.ErrIdempotencyCollision, err)
		}
		return fmt.Errorf("upsert ledger entries: %w", err)
	}
	return nil
}

// DeleteStale removes entries a registrator produced earlier but no longer
// projects, such as the even-split fallback line of a realization row whose
// posting has since arrived.
func (r *GormLedgerRepository) DeleteStale(ctx context.Context, registratorRef uuid.UUID, keep []ledger.NaturalKey) (int64, error) {
	query := r.db.WithContext(ctx).Where("registrator_ref = ?", registratorRef)
	if len(keep) > 0 {
		keys := make([]string, len(keep))
		for i, k := range keep {
			keys[i] = k.String()
		}
		query = query.Where("natural_key NOT IN ?", keys)
	}
	result := query.Delete(&models.LedgerEntryModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete stale ledger entries of %s: %w", registratorRef, result.Error)
	}
	return result.RowsAffected, nil
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// Query returns one page of entries matching the filter, ordered by sale date
// and natural key
func (r *GormLedgerRepository) Query(ctx context.Context, filter ledger.LedgerFilter, page, pageSize int) (shared.Paginated[ledger.LedgerEntry], error) {
	page, pageSize = shared.Page(page, pageSize, r.maxPageSize)

	var total int64
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.LedgerEntryModel{}), filter).
		Count(&total).Error; err != nil {
		return shared.Paginated[ledger.LedgerEntry]{}, err
	}

	var rows []models.LedgerEntryModel
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.LedgerEntryModel{}), filter).
		Order(ledgerOrder(filter.SortBy, filter.SortOrder)).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return shared.Paginated[ledger.LedgerEntry]{}, err
	}

	return shared.NewPaginated(toLedgerEntries(rows), total, page, pageSize), nil
}

func (r *GormLedgerRepository) applyFilter(query *gorm.DB, filter ledger.LedgerFilter) *gorm.DB {
	if !filter.From.IsZero() {
		query = query.Where("sale_date >= ?", dateParam(filter.From))
	}
	if !filter.To.IsZero() {
		query = query.Where("sale_date <= ?", dateParam(filter.To))
	}
	if filter.SourceSystem != "" {
		query = query.Where("source_system = ?", filter.SourceSystem)
	}
	if filter.OrganizationRef != nil {
		query = query.Where("organization_ref = ?", *filter.OrganizationRef)
	}
	if filter.ConnectionRef != nil {
		query = query.Where("connection_ref = ?", *filter.ConnectionRef)
	}
	if filter.NormalizedStatus != "" {
		query = query.Where("normalized_status = ?", filter.NormalizedStatus)
	}
	if filter.SellerSKU != "" {
		query = query.Where("seller_sku = ?", filter.SellerSKU)
	}
	if filter.DocumentNumber != "" {
		query = query.Where("document_number = ?", filter.DocumentNumber)
	}
	return query
}

// aggregateRow is the scan target of Aggregate
type aggregateRow struct {
	GroupKey       string
	Entries        int64
	Quantity       decimal.Decimal
	LineAmount     decimal.Decimal
	PlanCommission decimal.Decimal
	PlanPayout     decimal.Decimal
	FactPayout     decimal.Decimal
	FactEntries    int64
}

var groupExpressions = map[ledger.GroupBy]string{
	ledger.GroupBySaleDate:     "CAST(sale_date AS TEXT)",
	ledger.GroupBySourceSystem: "source_system",
	ledger.GroupByOrganization: "COALESCE(CAST(organization_ref AS TEXT), '')",
}

// Aggregate sums entries in the date range grouped by one dimension. Sums are
// computed in SQL; groups are ordered by key.
func (r *GormLedgerRepository) Aggregate(ctx context.Context, dr shared.DateRange, groupBy ledger.GroupBy) ([]ledger.AggregateRow, error) {
	if err := dr.Validate(); err != nil {
		return nil, err
	}
	expr, ok := groupExpressions[groupBy]
	if !ok {
		return nil, shared.NewDomainError("INVALID_GROUP_BY", fmt.Sprintf("unsupported grouping %q", groupBy))
	}

	var rows []aggregateRow
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntryModel{}).
		Select(expr+" AS group_key, "+
			"COUNT(*) AS entries, "+
			"COALESCE(SUM(quantity), 0) AS quantity, "+
			"COALESCE(SUM(line_amount), 0) AS line_amount, "+
			"COALESCE(SUM(plan_commission), 0) AS plan_commission, "+
			"COALESCE(SUM(plan_payout), 0) AS plan_payout, "+
			"COALESCE(SUM(fact_payout), 0) AS fact_payout, "+
			"COALESCE(SUM(CASE WHEN is_fact THEN 1 ELSE 0 END), 0) AS fact_entries").
		Where("sale_date BETWEEN ? AND ?", dateParam(dr.From), dateParam(dr.To)).
		Group(expr).
		Order("group_key").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]ledger.AggregateRow, len(rows))
	for i, row := range rows {
		key := row.GroupKey
		// drivers render dates with or without a time part
		if groupBy == ledger.GroupBySaleDate && len(key) > 10 {
			key = key[:10]
		}
		out[i] = ledger.AggregateRow{
			Key:            key,
			Entries:        row.Entries,
			Quantity:       row.Quantity,
			LineAmount:     row.LineAmount,
			PlanCommission: row.PlanCommission,
			PlanPayout:     row.PlanPayout,
			FactPayout:     row.FactPayout,
			FactEntries:    row.FactEntries,
		}
	}
	return out, nil
}

// GetByNaturalKey returns the entry with the given natural key
func (r *GormLedgerRepository) GetByNaturalKey(ctx context.Context, key ledger.NaturalKey) (*ledger.LedgerEntry, error) {
	var m models.LedgerEntryModel
	if err := r.db.WithContext(ctx).Where("natural_key = ?", key.String()).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// ---------------------------------------------------------------------------
// Sweep stores
// ---------------------------------------------------------------------------

// ListUnmatched pages through entries with no catalog_ref in id order
func (r *GormLedgerRepository) ListUnmatched(ctx context.Context, dr shared.DateRange, after uuid.UUID, limit int) ([]ledger.LedgerEntry, error) {
	var rows []models.LedgerEntryModel
	if err := r.db.WithContext(ctx).
		Where("catalog_ref IS NULL AND sale_date BETWEEN ? AND ? AND id > ?", dateParam(dr.From), dateParam(dr.To), after).
		Order("id").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toLedgerEntries(rows), nil
}

// SetCatalogRef links the entry only if it is still unmatched
func (r *GormLedgerRepository) SetCatalogRef(ctx context.Context, id uuid.UUID, catalogRef uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.LedgerEntryModel{}).
		Where("id = ? AND catalog_ref IS NULL", id).
		Update("catalog_ref", catalogRef)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListForReconciliation pages through entries in the range in id order
func (r *GormLedgerRepository) ListForReconciliation(ctx context.Context, dr shared.DateRange, after uuid.UUID, limit int) ([]ledger.LedgerEntry, error) {
	var rows []models.LedgerEntryModel
	if err := r.db.WithContext(ctx).
		Where("sale_date BETWEEN ? AND ? AND id > ?", dateParam(dr.From), dateParam(dr.To), after).
		Order("id").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toLedgerEntries(rows), nil
}

// ListByDocuments returns every entry of the given documents of one source,
// ordered by natural key
func (r *GormLedgerRepository) ListByDocuments(ctx context.Context, source ledger.SourceSystem, numbers []string) ([]ledger.LedgerEntry, error) {
	var out []ledger.LedgerEntry
	for start := 0; start < len(numbers); start += referenceChunk {
		end := min(start+referenceChunk, len(numbers))
		var rows []models.LedgerEntryModel
		if err := r.db.WithContext(ctx).
			Where("source_system = ? AND document_number IN ?", source, numbers[start:end]).
			Order("natural_key").
			Find(&rows).Error; err != nil {
			return nil, err
		}
		out = append(out, toLedgerEntries(rows)...)
	}
	return out, nil
}

// UpdateReconciliation writes the plan columns and, when fact is set, the
// fact columns and is_fact. Nothing else on the row changes.
func (r *GormLedgerRepository) UpdateReconciliation(ctx context.Context, id uuid.UUID, plan ledger.PlanFields, fact *ledger.FactFields) error {
	now := r.now().UTC()
	updates := map[string]any{
		"plan_commission":  plan.Commission,
		"plan_logistics":   plan.Logistics,
		"plan_other_fees":  plan.OtherFees,
		"plan_payout":      plan.Payout,
		"plan_profit":      plan.Profit,
		"plan_computed_at": now,
	}
	if fact != nil {
		updates["fact_commission"] = fact.Commission
		updates["fact_logistics"] = fact.Logistics
		updates["fact_other_fees"] = fact.OtherFees
		updates["fact_payout"] = fact.Payout
		updates["fact_profit"] = fact.Profit
		updates["fact_settlement_count"] = fact.SettlementCount
		updates["fact_computed_at"] = now
		updates["is_fact"] = true
	}

	result := r.db.WithContext(ctx).
		Model(&models.LedgerEntryModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func toLedgerEntries(rows []models.LedgerEntryModel) []ledger.LedgerEntry {
	out := make([]ledger.LedgerEntry, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

// compile-time checks
var (
	_ ledger.LedgerWriter        = (*GormLedgerRepository)(nil)
	_ ledger.LedgerReader        = (*GormLedgerRepository)(nil)
	_ ledger.MatchingStore       = (*GormLedgerRepository)(nil)
	_ ledger.ReconciliationStore = (*GormLedgerRepository)(nil)
)
