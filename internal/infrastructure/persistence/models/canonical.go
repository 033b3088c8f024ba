package models

import (
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// OZON postings
// ---------------------------------------------------------------------------

// OzonPostingModel is the persistence model for FBS and FBO postings
type OzonPostingModel struct {
	CanonicalColumns
	OrderNumber   string `gorm:"column:order_number;type:varchar(128)"`
	WarehouseName string `gorm:"column:warehouse_name;type:varchar(255)"`
}

// TableName returns the table name for GORM
func (OzonPostingModel) TableName() string {
	return "ozon_postings"
}

// UpsertColumns lists the columns overwritten on conflict
func (OzonPostingModel) UpsertColumns() []string {
	return CanonicalUpsertColumns("order_number", "warehouse_name")
}

// FromDomain populates the family columns
func (m *OzonPostingModel) FromDomain(p *ledger.OzonPosting) error {
	m.OrderNumber = p.OrderNumber
	m.WarehouseName = p.WarehouseName
	return nil
}

// ToDomain converts the model to a domain posting
func (m *OzonPostingModel) ToDomain() (*ledger.OzonPosting, error) {
	doc, err := m.ToCanonical()
	if err != nil {
		return nil, err
	}
	return &ledger.OzonPosting{
		CanonicalDocument: doc,
		DocType:           m.DocumentType,
		OrderNumber:       m.OrderNumber,
		WarehouseName:     m.WarehouseName,
	}, nil
}

// ---------------------------------------------------------------------------
// OZON realization rows
// ---------------------------------------------------------------------------

// OzonRealizationModel is the persistence model for realization report rows.
// Reference holds the posting number the row settles.
type OzonRealizationModel struct {
	CanonicalColumns
	RowID       string          `gorm:"column:row_id;type:varchar(64);not null"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:decimal(18,2);not null"`
}

// TableName returns the table name for GORM
func (OzonRealizationModel) TableName() string {
	return "ozon_realizations"
}

// UpsertColumns lists the columns overwritten on conflict
func (OzonRealizationModel) UpsertColumns() []string {
	return CanonicalUpsertColumns("row_id", "total_amount")
}

// FromDomain populates the family columns
func (m *OzonRealizationModel) FromDomain(r *ledger.OzonRealization) error {
	m.Reference = r.PostingNumber
	m.RowID = r.RowID
	m.TotalAmount = r.TotalAmount
	return nil
}

// ToDomain converts the model to a domain realization row
func (m *OzonRealizationModel) ToDomain() (*ledger.OzonRealization, error) {
	doc, err := m.ToCanonical()
	if err != nil {
		return nil, err
	}
	return &ledger.OzonRealization{
		CanonicalDocument: doc,
		RowID:             m.RowID,
		PostingNumber:     m.Reference,
		TotalAmount:       m.TotalAmount,
	}, nil
}

// ---------------------------------------------------------------------------
// WB sale events
// ---------------------------------------------------------------------------

// WBSaleEventModel is the persistence model for Wildberries sale events.
// The discriminant fields are kept nullable so the synthesized key can be
// recomputed from the row.
type WBSaleEventModel struct {
	CanonicalColumns
	SaleID    string  `gorm:"column:sale_id;type:varchar(128);not null;index"`
	EventType *string `gorm:"column:event_type;type:varchar(64)"`
	Article   *string `gorm:"column:article;type:varchar(255)"`
	Barcode   *string `gorm:"column:barcode;type:varchar(64)"`
	Ordinal   int     `gorm:"column:ordinal;not null;default:0"`
}

// TableName returns the table name for GORM
func (WBSaleEventModel) TableName() string {
	return "wb_sale_events"
}

// UpsertColumns lists the columns overwritten on conflict
func (WBSaleEventModel) UpsertColumns() []string {
	return CanonicalUpsertColumns("sale_id", "event_type", "article", "barcode", "ordinal")
}

// FromDomain populates the family columns
func (m *WBSaleEventModel) FromDomain(e *ledger.WBSaleEvent) error {
	m.SaleID = e.SaleID
	m.EventType = e.EventType
	m.Article = e.Article
	m.Barcode = e.Barcode
	m.Ordinal = e.Ordinal
	return nil
}

// ToDomain converts the model to a domain sale event
func (m *WBSaleEventModel) ToDomain() (*ledger.WBSaleEvent, error) {
	doc, err := m.ToCanonical()
	if err != nil {
		return nil, err
	}
	return &ledger.WBSaleEvent{
		CanonicalDocument: doc,
		SaleID:            m.SaleID,
		EventType:         m.EventType,
		Article:           m.Article,
		Barcode:           m.Barcode,
		Ordinal:           m.Ordinal,
		Key:               m.IdempotencyKey,
	}, nil
}

// ---------------------------------------------------------------------------
// YM orders
// ---------------------------------------------------------------------------

// YMOrderModel is the persistence model for Yandex Market orders
type YMOrderModel struct {
	CanonicalColumns
	CampaignID  string `gorm:"column:campaign_id;type:varchar(64)"`
	PaymentType string `gorm:"column:payment_type;type:varchar(32)"`
}

// TableName returns the table name for GORM
func (YMOrderModel) TableName() string {
	return "ym_orders"
}

// UpsertColumns lists the columns overwritten on conflict
func (YMOrderModel) UpsertColumns() []string {
	return CanonicalUpsertColumns("campaign_id", "payment_type")
}

// FromDomain populates the family columns
func (m *YMOrderModel) FromDomain(o *ledger.YMOrder) error {
	m.CampaignID = o.CampaignID
	m.PaymentType = o.PaymentType
	return nil
}

// ToDomain converts the model to a domain order
func (m *YMOrderModel) ToDomain() (*ledger.YMOrder, error) {
	doc, err := m.ToCanonical()
	if err != nil {
		return nil, err
	}
	return &ledger.YMOrder{
		CanonicalDocument: doc,
		CampaignID:        m.CampaignID,
		PaymentType:       m.PaymentType,
	}, nil
}

// ---------------------------------------------------------------------------
// Settlement records
// ---------------------------------------------------------------------------

// SettlementRecordModel is the persistence model for finance report rows.
// Reference holds the document the row settles.
type SettlementRecordModel struct {
	CanonicalColumns
	RowID         string               `gorm:"column:row_id;type:varchar(64);not null"`
	SellerSKU     string               `gorm:"column:seller_sku;type:varchar(255)"`
	OperationKind ledger.OperationKind `gorm:"column:operation_kind;type:varchar(16);not null"`
	Commission    decimal.Decimal      `gorm:"column:commission;type:decimal(18,2);not null"`
	Logistics     decimal.Decimal      `gorm:"column:logistics;type:decimal(18,2);not null"`
	OtherFees     decimal.Decimal      `gorm:"column:other_fees;type:decimal(18,2);not null"`
	Payout        decimal.Decimal      `gorm:"column:payout;type:decimal(18,2);not null"`
	Profit        decimal.Decimal      `gorm:"column:profit;type:decimal(18,2);not null"`
}

// TableName returns the table name for GORM
func (SettlementRecordModel) TableName() string {
	return "settlement_records"
}

// UpsertColumns lists the columns overwritten on conflict
func (SettlementRecordModel) UpsertColumns() []string {
	return CanonicalUpsertColumns("row_id", "seller_sku", "operation_kind",
		"commission", "logistics", "other_fees", "payout", "profit")
}

// FromDomain populates the family columns
func (m *SettlementRecordModel) FromDomain(s *ledger.SettlementRecord) error {
	m.Reference = s.DocumentRef
	m.RowID = s.RowID
	m.SellerSKU = s.SellerSKU
	m.OperationKind = s.OperationKind
	m.Commission = s.Commission
	m.Logistics = s.Logistics
	m.OtherFees = s.OtherFees
	m.Payout = s.Payout
	m.Profit = s.Profit
	return nil
}

// ToDomain converts the model to a domain settlement record
func (m *SettlementRecordModel) ToDomain() (*ledger.SettlementRecord, error) {
	doc, err := m.ToCanonical()
	if err != nil {
		return nil, err
	}
	return &ledger.SettlementRecord{
		CanonicalDocument: doc,
		SourceSystem:      m.SourceSystem,
		RowID:             m.RowID,
		DocumentRef:       m.Reference,
		SellerSKU:         m.SellerSKU,
		OperationKind:     m.OperationKind,
		Commission:        m.Commission,
		Logistics:         m.Logistics,
		OtherFees:         m.OtherFees,
		Payout:            m.Payout,
		Profit:            m.Profit,
	}, nil
}
