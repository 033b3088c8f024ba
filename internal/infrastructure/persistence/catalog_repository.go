package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/persistence/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCatalogRepository implements ledger.CatalogRepository using GORM
type GormCatalogRepository struct {
	db *gorm.DB
}

// NewGormCatalogRepository creates a new GormCatalogRepository
func NewGormCatalogRepository(db *gorm.DB) *GormCatalogRepository {
	return &GormCatalogRepository{db: db}
}

// FindOrCreate inserts a stub item unless one with the same lookup key exists,
// then reads the winning row. Concurrent callers converge on one id.
func (r *GormCatalogRepository) FindOrCreate(ctx context.Context, stub ledger.CatalogStub) (uuid.UUID, error) {
	if !stub.SourceSystem.IsValid() || stub.SellerSKU == "" {
		return uuid.Nil, shared.NewDomainError("INVALID_CATALOG_STUB", "catalog stub needs a source system and a seller SKU")
	}

	m := &models.CatalogItemModel{}
	m.FromStub(stub)
	m.ID = uuid.New()

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lookup_key"}},
			DoNothing: true,
		}).
		Create(m).Error; err != nil {
		return uuid.Nil, fmt.Errorf("create catalog stub %s: %w", m.LookupKey, err)
	}

	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.CatalogItemModel{}).
		Where("lookup_key = ?", m.LookupKey).
		Pluck("id", &ids).Error; err != nil {
		return uuid.Nil, err
	}
	if len(ids) == 0 {
		return uuid.Nil, ledger.ErrNotFound
	}
	return ids[0], nil
}

// FindByLookupKey returns the catalog item with the given lookup key
func (r *GormCatalogRepository) FindByLookupKey(ctx context.Context, key string) (*ledger.CatalogItem, error) {
	var m models.CatalogItemModel
	if err := r.db.WithContext(ctx).Where("lookup_key = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	return m.ToDomain(), nil
}

// CostPrices returns the unit cost of each known item id
func (r *GormCatalogRepository) CostPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	out := make(map[uuid.UUID]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.CatalogItemModel
	if err := r.db.WithContext(ctx).
		Select("id", "cost_price").
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row.CostPrice
	}
	return out, nil
}

// UpdateCostPrice sets the unit cost of an item and clears its stub flag.
// The catalog owners complete stubs through this call.
func (r *GormCatalogRepository) UpdateCostPrice(ctx context.Context, id uuid.UUID, cost decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&models.CatalogItemModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"cost_price": cost, "is_stub": false})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

var _ ledger.CatalogRepository = (*GormCatalogRepository)(nil)
