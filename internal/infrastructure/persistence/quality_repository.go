package persistence

import (
	"context"
	"time"

	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/persistence/models"
)

type qualityRow struct {
	Total               int64
	MissingOrganization int64
	MissingConnection   int64
	MissingCatalog      int64
	NegativeAmounts     int64
	ZeroQuantities      int64
	FutureSaleDates     int64
}

// CountQuality runs the read-only data quality counts over the range.
// Sale dates after today count as future dates.
func (r *GormLedgerRepository) CountQuality(ctx context.Context, dr shared.DateRange, today time.Time) (ledger.QualityCounts, error) {
	if err := dr.Validate(); err != nil {
		return ledger.QualityCounts{}, err
	}
	from, to := dateParam(dr.From), dateParam(dr.To)

	var row qualityRow
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntryModel{}).
		Select("COUNT(*) AS total, "+
			"COALESCE(SUM(CASE WHEN organization_ref IS NULL THEN 1 ELSE 0 END), 0) AS missing_organization, "+
			"COALESCE(SUM(CASE WHEN connection_ref IS NULL THEN 1 ELSE 0 END), 0) AS missing_connection, "+
			"COALESCE(SUM(CASE WHEN catalog_ref IS NULL THEN 1 ELSE 0 END), 0) AS missing_catalog, "+
			"COALESCE(SUM(CASE WHEN line_amount < 0 THEN 1 ELSE 0 END), 0) AS negative_amounts, "+
			"COALESCE(SUM(CASE WHEN quantity = 0 THEN 1 ELSE 0 END), 0) AS zero_quantities, "+
			"COALESCE(SUM(CASE WHEN sale_date > ? THEN 1 ELSE 0 END), 0) AS future_sale_dates", dateParam(today)).
		Where("sale_date BETWEEN ? AND ?", from, to).
		Scan(&row).Error; err != nil {
		return ledger.QualityCounts{}, err
	}

	// groups sharing source, document and line; the unique index should keep this at zero
	var duplicates int64
	dupGroups := r.db.WithContext(ctx).
		Model(&models.LedgerEntryModel{}).
		Select("source_system, document_number, line_id").
		Where("sale_date BETWEEN ? AND ?", from, to).
		Group("source_system, document_number, line_id").
		Having("COUNT(*) > 1")
	if err := r.db.WithContext(ctx).
		Table("(?) AS dup", dupGroups).
		Count(&duplicates).Error; err != nil {
		return ledger.QualityCounts{}, err
	}

	return ledger.QualityCounts{
		Total:                row.Total,
		MissingOrganization:  row.MissingOrganization,
		MissingConnection:    row.MissingConnection,
		MissingCatalog:       row.MissingCatalog,
		NegativeAmounts:      row.NegativeAmounts,
		ZeroQuantities:       row.ZeroQuantities,
		FutureSaleDates:      row.FutureSaleDates,
		DuplicateNaturalKeys: duplicates,
	}, nil
}

var _ ledger.QualityReader = (*GormLedgerRepository)(nil)
