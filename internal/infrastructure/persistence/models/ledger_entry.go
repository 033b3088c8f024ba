package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// LedgerEntryModel is the persistence model for one sales ledger line.
// natural_key is the scalar conflict target; the composite unique index
// keeps the three key parts honest for direct SQL writers.
type LedgerEntryModel struct {
	BaseModel
	NaturalKey        string                  `gorm:"column:natural_key;type:varchar(480);not null;uniqueIndex"`
	SourceSystem      ledger.SourceSystem     `gorm:"column:source_system;type:varchar(8);not null;uniqueIndex:uq_ledger_entries_natural,priority:1;index:idx_ledger_entries_source_date,priority:1"`
	DocumentNumber    string                  `gorm:"column:document_number;type:varchar(128);not null;uniqueIndex:uq_ledger_entries_natural,priority:2"`
	LineID            string                  `gorm:"column:line_id;type:varchar(330);not null;uniqueIndex:uq_ledger_entries_natural,priority:3"`
	Scheme            ledger.Scheme           `gorm:"column:scheme;type:varchar(8);not null"`
	DocumentType      ledger.DocumentType     `gorm:"column:document_type;type:varchar(32);not null"`
	ConnectionRef     *uuid.UUID              `gorm:"column:connection_ref;type:uuid;index"`
	OrganizationRef   *uuid.UUID              `gorm:"column:organization_ref;type:uuid;index"`
	CatalogRef        *uuid.UUID              `gorm:"column:catalog_ref;type:uuid;index"`
	RegistratorRef    uuid.UUID               `gorm:"column:registrator_ref;type:uuid;not null;index"`
	RegistratorFamily ledger.Family           `gorm:"column:registrator_family;type:varchar(32);not null"`
	EventTime         time.Time               `gorm:"column:event_time;not null"`
	SaleDate          time.Time               `gorm:"column:sale_date;type:date;not null;index;index:idx_ledger_entries_source_date,priority:2"`
	SellerSKU         string                  `gorm:"column:seller_sku;type:varchar(255);index"`
	MarketplaceItemID string                  `gorm:"column:marketplace_item_id;type:varchar(128)"`
	Barcode           string                  `gorm:"column:barcode;type:varchar(64)"`
	Title             string                  `gorm:"column:title;type:varchar(500)"`
	Quantity          decimal.Decimal         `gorm:"column:quantity;type:decimal(18,4);not null"`
	ListPrice         decimal.Decimal         `gorm:"column:list_price;type:decimal(18,2);not null"`
	DiscountTotal     decimal.Decimal         `gorm:"column:discount_total;type:decimal(18,2);not null"`
	EffectivePrice    decimal.Decimal         `gorm:"column:effective_price;type:decimal(18,2);not null"`
	LineAmount        decimal.Decimal         `gorm:"column:line_amount;type:decimal(18,2);not null"`
	CurrencyCode      string                  `gorm:"column:currency_code;type:varchar(3)"`
	SourceStatus      string                  `gorm:"column:source_status;type:varchar(64)"`
	NormalizedStatus  ledger.NormalizedStatus `gorm:"column:normalized_status;type:varchar(16);index"`
	IsFact            bool                    `gorm:"column:is_fact;not null;default:false"`

	PlanCommission decimal.NullDecimal `gorm:"column:plan_commission;type:decimal(18,2)"`
	PlanLogistics  decimal.NullDecimal `gorm:"column:plan_logistics;type:decimal(18,2)"`
	PlanOtherFees  decimal.NullDecimal `gorm:"column:plan_other_fees;type:decimal(18,2)"`
	PlanPayout     decimal.NullDecimal `gorm:"column:plan_payout;type:decimal(18,2)"`
	PlanProfit     decimal.NullDecimal `gorm:"column:plan_profit;type:decimal(18,2)"`
	PlanComputedAt *time.Time          `gorm:"column:plan_computed_at"`

	FactCommission      decimal.NullDecimal `gorm:"column:fact_commission;type:decimal(18,2)"`
	FactLogistics       decimal.NullDecimal `gorm:"column:fact_logistics;type:decimal(18,2)"`
	FactOtherFees       decimal.NullDecimal `gorm:"column:fact_other_fees;type:decimal(18,2)"`
	FactPayout          decimal.NullDecimal `gorm:"column:fact_payout;type:decimal(18,2)"`
	FactProfit          decimal.NullDecimal `gorm:"column:fact_profit;type:decimal(18,2)"`
	FactSettlementCount int                 `gorm:"column:fact_settlement_count;not null;default:0"`
	FactComputedAt      *time.Time          `gorm:"column:fact_computed_at"`

	LoadedAt      time.Time `gorm:"column:loaded_at;not null"`
	SchemaVersion int       `gorm:"column:schema_version;not null;default:1"`
}

// TableName returns the table name for GORM
func (LedgerEntryModel) TableName() string {
	return "ledger_entries"
}

// LedgerProjectionColumns are the columns the projection pipeline owns.
// catalog_ref, plan_*, fact_* and is_fact belong to the sweeps and are never
// overwritten by a re-projection.
var LedgerProjectionColumns = []string{
	"source_system", "document_number", "line_id", "scheme", "document_type",
	"connection_ref", "organization_ref", "registrator_ref", "registrator_family",
	"event_time", "sale_date", "seller_sku", "marketplace_item_id", "barcode", "title",
	"quantity", "list_price", "discount_total", "effective_price", "line_amount",
	"currency_code", "source_status", "normalized_status", "loaded_at", "schema_version",
	"updated_at",
}

// FromDomain populates the projection-owned columns from a ledger entry.
// Sweep-owned columns are copied too so a fresh insert carries whatever the
// caller set; the upsert never updates them on conflict.
func (m *LedgerEntryModel) FromDomain(e *ledger.LedgerEntry) {
	m.ID = e.ID
	m.NaturalKey = e.Key.String()
	m.SourceSystem = e.Key.SourceSystem
	m.DocumentNumber = e.Key.DocumentNumber
	m.LineID = e.Key.LineID
	m.Scheme = e.Scheme
	m.DocumentType = e.DocumentType
	m.ConnectionRef = e.ConnectionRef
	m.OrganizationRef = e.OrganizationRef
	m.CatalogRef = e.CatalogRef
	m.RegistratorRef = e.RegistratorRef
	m.RegistratorFamily = e.RegistratorFamily
	m.EventTime = e.EventTime.UTC()
	m.SaleDate = e.SaleDate
	m.SellerSKU = e.SellerSKU
	m.MarketplaceItemID = e.MarketplaceItemID
	m.Barcode = e.Barcode
	m.Title = e.Title
	m.Quantity = e.Quantity
	m.ListPrice = e.ListPrice
	m.DiscountTotal = e.DiscountTotal
	m.EffectivePrice = e.EffectivePrice
	m.LineAmount = e.LineAmount
	m.CurrencyCode = e.CurrencyCode
	m.SourceStatus = e.SourceStatus
	m.NormalizedStatus = e.NormalizedStatus
	m.IsFact = e.IsFact
	if e.Plan != nil {
		m.SetPlan(*e.Plan)
	}
	if e.Fact != nil {
		m.SetFact(*e.Fact)
	}
	m.LoadedAt = e.LoadedAt
	m.SchemaVersion = e.SchemaVersion
	if m.SchemaVersion == 0 {
		m.SchemaVersion = ledger.CurrentSchemaVersion
	}
}

// SetPlan copies plan fields into the nullable columns
func (m *LedgerEntryModel) SetPlan(p ledger.PlanFields) {
	m.PlanCommission = decimal.NewNullDecimal(p.Commission)
	m.PlanLogistics = decimal.NewNullDecimal(p.Logistics)
	m.PlanOtherFees = decimal.NewNullDecimal(p.OtherFees)
	m.PlanPayout = decimal.NewNullDecimal(p.Payout)
	m.PlanProfit = decimal.NewNullDecimal(p.Profit)
}

// SetFact copies fact fields into the nullable columns
func (m *LedgerEntryModel) SetFact(f ledger.FactFields) {
	m.FactCommission = decimal.NewNullDecimal(f.Commission)
	m.FactLogistics = decimal.NewNullDecimal(f.Logistics)
	m.FactOtherFees = decimal.NewNullDecimal(f.OtherFees)
	m.FactPayout = decimal.NewNullDecimal(f.Payout)
	m.FactProfit = decimal.NewNullDecimal(f.Profit)
	m.FactSettlementCount = f.SettlementCount
}

// ToDomain converts the model to a domain ledger entry
func (m *LedgerEntryModel) ToDomain() *ledger.LedgerEntry {
	e := &ledger.LedgerEntry{
		ID: m.ID,
		Key: ledger.NaturalKey{
			SourceSystem:   m.SourceSystem,
			DocumentNumber: m.DocumentNumber,
			LineID:         m.LineID,
		},
		Scheme:            m.Scheme,
		DocumentType:      m.DocumentType,
		ConnectionRef:     m.ConnectionRef,
		OrganizationRef:   m.OrganizationRef,
		CatalogRef:        m.CatalogRef,
		RegistratorRef:    m.RegistratorRef,
		RegistratorFamily: m.RegistratorFamily,
		EventTime:         m.EventTime.UTC(),
		SaleDate:          dateOnly(m.SaleDate),
		SellerSKU:         m.SellerSKU,
		MarketplaceItemID: m.MarketplaceItemID,
		Barcode:           m.Barcode,
		Title:             m.Title,
		Quantity:          m.Quantity,
		ListPrice:         m.ListPrice,
		DiscountTotal:     m.DiscountTotal,
		EffectivePrice:    m.EffectivePrice,
		LineAmount:        m.LineAmount,
		CurrencyCode:      m.CurrencyCode,
		SourceStatus:      m.SourceStatus,
		NormalizedStatus:  m.NormalizedStatus,
		IsFact:            m.IsFact,
		LoadedAt:          m.LoadedAt.UTC(),
		SchemaVersion:     m.SchemaVersion,
	}
	if m.PlanComputedAt != nil || m.PlanPayout.Valid {
		e.Plan = &ledger.PlanFields{
			Commission: m.PlanCommission.Decimal,
			Logistics:  m.PlanLogistics.Decimal,
			OtherFees:  m.PlanOtherFees.Decimal,
			Payout:     m.PlanPayout.Decimal,
			Profit:     m.PlanProfit.Decimal,
		}
	}
	if m.FactComputedAt != nil || m.FactPayout.Valid {
		e.Fact = &ledger.FactFields{
			Commission:      m.FactCommission.Decimal,
			Logistics:       m.FactLogistics.Decimal,
			OtherFees:       m.FactOtherFees.Decimal,
			Payout:          m.FactPayout.Decimal,
			Profit:          m.FactProfit.Decimal,
			SettlementCount: m.FactSettlementCount,
		}
	}
	return e
}

// dateOnly drops any zone the driver attached to a date column
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
