package models

import (
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// CatalogItemModel is the persistence model for catalog items known to the ledger
type CatalogItemModel struct {
	BaseModel
	SourceSystem ledger.SourceSystem `gorm:"column:source_system;type:varchar(8);not null"`
	SellerSKU    string              `gorm:"column:seller_sku;type:varchar(255);not null"`
	LookupKey    string              `gorm:"column:lookup_key;type:varchar(300);not null;uniqueIndex"`
	Title        string              `gorm:"column:title;type:varchar(500)"`
	Barcode      string              `gorm:"column:barcode;type:varchar(64)"`
	CostPrice    decimal.Decimal     `gorm:"column:cost_price;type:decimal(18,2);not null;default:0"`
	IsStub       bool                `gorm:"column:is_stub;not null;default:true"`
}

// TableName returns the table name for GORM
func (CatalogItemModel) TableName() string {
	return "catalog_items"
}

// FromStub builds the stub row the matcher inserts for an unknown SKU
func (m *CatalogItemModel) FromStub(s ledger.CatalogStub) {
	m.SourceSystem = s.SourceSystem
	m.SellerSKU = s.SellerSKU
	m.LookupKey = s.LookupKey()
	m.Title = s.Title
	m.Barcode = s.Barcode
	m.CostPrice = decimal.Zero
	m.IsStub = true
}

// ToDomain converts the model to a domain catalog item
func (m *CatalogItemModel) ToDomain() *ledger.CatalogItem {
	return &ledger.CatalogItem{
		ID:           m.ID,
		SourceSystem: m.SourceSystem,
		SellerSKU:    m.SellerSKU,
		LookupKey:    m.LookupKey,
		Title:        m.Title,
		Barcode:      m.Barcode,
		CostPrice:    m.CostPrice,
		IsStub:       m.IsStub,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
