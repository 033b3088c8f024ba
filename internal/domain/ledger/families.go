package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// OZON postings
// ---------------------------------------------------------------------------

// OzonPosting is an Ozon shipment. FBS postings project one entry per line;
// FBO postings are stored only as lookup targets for realization rows.
type OzonPosting struct {
	CanonicalDocument
	DocType       DocumentType `json:"document_type"`
	OrderNumber   string       `json:"order_number,omitempty"`
	WarehouseName string       `json:"warehouse_name,omitempty"`
}

func (p *OzonPosting) Family() Family       { return FamilyOzonPosting }
func (p *OzonPosting) Source() SourceSystem { return SourceOzon }
func (p *OzonPosting) Type() DocumentType   { return p.DocType }

// PostingNumber is the Ozon posting number
func (p *OzonPosting) PostingNumber() string { return p.Header.DocumentNumber }

func (p *OzonPosting) IdempotencyKey() string {
	return joinKey(string(SourceOzon), string(p.DocType), p.Header.DocumentNumber)
}

func (p *OzonPosting) RawDocumentNumber() string { return p.Header.DocumentNumber }

func (p *OzonPosting) Validate() error {
	if p.DocType != DocumentTypeFBSPosting && p.DocType != DocumentTypeFBOPosting {
		return fmt.Errorf("%w: ozon posting type %q", ErrValidation, p.DocType)
	}
	return validateCanonical(&p.CanonicalDocument)
}

// ---------------------------------------------------------------------------
// OZON realization rows
// ---------------------------------------------------------------------------

// OzonRealization is one row of an Ozon realization report: an aggregate
// amount for a whole FBO posting. Lines holds the row's own item breakdown,
// used only when the posting itself has not been ingested.
type OzonRealization struct {
	CanonicalDocument
	RowID         string          `json:"row_id" validate:"required"`
	PostingNumber string          `json:"posting_number" validate:"required"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

func (r *OzonRealization) Family() Family       { return FamilyOzonRealization }
func (r *OzonRealization) Source() SourceSystem { return SourceOzon }
func (r *OzonRealization) Type() DocumentType   { return DocumentTypeRealization }

// ReportNumber is the realization report the row belongs to
func (r *OzonRealization) ReportNumber() string { return r.Header.DocumentNumber }

func (r *OzonRealization) IdempotencyKey() string {
	return joinKey(string(SourceOzon), string(DocumentTypeRealization), r.Header.DocumentNumber, r.RowID)
}

func (r *OzonRealization) RawDocumentNumber() string {
	return r.Header.DocumentNumber + ":" + r.RowID
}

// EntryLineID is the ledger line id of an allocated share. Several rows may
// settle one posting, so each row owns its lines under the posting number.
func (r *OzonRealization) EntryLineID(lineID string) string {
	return r.RawDocumentNumber() + ":" + lineID
}

func (r *OzonRealization) Validate() error {
	if err := validate.Struct(struct {
		RowID         string `validate:"required,max=64"`
		PostingNumber string `validate:"required,max=128"`
	}{r.RowID, r.PostingNumber}); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	return validateCanonical(&r.CanonicalDocument)
}

// ---------------------------------------------------------------------------
// WB sale events
// ---------------------------------------------------------------------------

// WBSaleEvent is a single Wildberries sale or return event. WB supplies no
// stable event key, so one is synthesized from the discriminant fields and
// the batch ordinal (see SynthesizeWBKey).
type WBSaleEvent struct {
	CanonicalDocument
	SaleID    string  `json:"sale_id"`
	EventType *string `json:"event_type,omitempty"`
	Article   *string `json:"article,omitempty"`
	Barcode   *string `json:"barcode,omitempty"`
	Ordinal   int     `json:"ordinal"`
	// Key is the synthesized idempotency key; filled by AssignWBKeys.
	Key string `json:"key,omitempty"`
}

func (e *WBSaleEvent) Family() Family       { return FamilyWBSaleEvent }
func (e *WBSaleEvent) Source() SourceSystem { return SourceWB }
func (e *WBSaleEvent) Type() DocumentType   { return DocumentTypeSaleEvent }

func (e *WBSaleEvent) IdempotencyKey() string {
	if e.Key == "" {
		e.Key = SynthesizeWBKey(e.SaleID, e.EventType, e.Article, e.Barcode, e.Ordinal)
	}
	return e.Key
}

// LineID is the ledger line identifier of the event: a prefix of its key,
// so two events of one sale never share a ledger row.
func (e *WBSaleEvent) LineID() string {
	return e.IdempotencyKey()[:16]
}

func (e *WBSaleEvent) RawDocumentNumber() string {
	return e.SaleID + ":" + e.LineID()
}

func (e *WBSaleEvent) Validate() error {
	if strings.TrimSpace(e.SaleID) == "" {
		return fmt.Errorf("%w: wb sale event without sale_id", ErrValidation)
	}
	if e.Ordinal < 0 {
		return fmt.Errorf("%w: negative ordinal on sale %s", ErrValidation, e.SaleID)
	}
	if len(e.Lines) != 1 {
		return fmt.Errorf("%w: wb sale event %s must carry exactly one line, got %d", ErrValidation, e.SaleID, len(e.Lines))
	}
	if e.Header.DocumentNumber == "" {
		e.Header.DocumentNumber = e.SaleID
	}
	if e.Header.DocumentNumber != e.SaleID {
		return fmt.Errorf("%w: wb document number %q differs from sale_id %q", ErrValidation, e.Header.DocumentNumber, e.SaleID)
	}
	return validateCanonical(&e.CanonicalDocument)
}

// ---------------------------------------------------------------------------
// YM orders
// ---------------------------------------------------------------------------

// YMOrder is a Yandex Market order
type YMOrder struct {
	CanonicalDocument
	CampaignID  string `json:"campaign_id,omitempty"`
	PaymentType string `json:"payment_type,omitempty"`
}

func (o *YMOrder) Family() Family       { return FamilyYMOrder }
func (o *YMOrder) Source() SourceSystem { return SourceYM }
func (o *YMOrder) Type() DocumentType   { return DocumentTypeOrder }

// OrderID is the marketplace order id
func (o *YMOrder) OrderID() string { return o.Header.DocumentNumber }

func (o *YMOrder) IdempotencyKey() string {
	return joinKey(string(SourceYM), string(DocumentTypeOrder), o.Header.DocumentNumber)
}

func (o *YMOrder) RawDocumentNumber() string { return o.Header.DocumentNumber }

func (o *YMOrder) Validate() error {
	return validateCanonical(&o.CanonicalDocument)
}

// ---------------------------------------------------------------------------
// Settlement records
// ---------------------------------------------------------------------------

// OperationKind classifies a settlement row
type OperationKind string

const (
	OperationSale       OperationKind = "SALE"
	OperationReturn     OperationKind = "RETURN"
	OperationAdjustment OperationKind = "ADJUSTMENT"
	OperationService    OperationKind = "SERVICE"
)

// SettlementRecord is one row of a marketplace finance report. It carries no
// lines and projects nothing; the reconciliation sweep reads it by DocumentRef.
type SettlementRecord struct {
	CanonicalDocument
	SourceSystem  SourceSystem    `json:"source_system"`
	RowID         string          `json:"row_id"`
	DocumentRef   string          `json:"document_ref"`
	SellerSKU     string          `json:"seller_sku,omitempty"`
	OperationKind OperationKind   `json:"operation_kind"`
	Commission    decimal.Decimal `json:"commission"`
	Logistics     decimal.Decimal `json:"logistics"`
	OtherFees     decimal.Decimal `json:"other_fees"`
	Payout        decimal.Decimal `json:"payout"`
	Profit        decimal.Decimal `json:"profit"`
}

func (s *SettlementRecord) Family() Family       { return FamilySettlementRecord }
func (s *SettlementRecord) Source() SourceSystem { return s.SourceSystem }
func (s *SettlementRecord) Type() DocumentType   { return DocumentTypeSettlement }

// ReportID is the finance report the row belongs to
func (s *SettlementRecord) ReportID() string { return s.Header.DocumentNumber }

func (s *SettlementRecord) IdempotencyKey() string {
	return joinKey(string(s.SourceSystem), string(DocumentTypeSettlement), s.Header.DocumentNumber, s.RowID)
}

func (s *SettlementRecord) RawDocumentNumber() string {
	return s.Header.DocumentNumber + ":" + s.RowID
}

func (s *SettlementRecord) Validate() error {
	if !s.SourceSystem.IsValid() {
		return fmt.Errorf("%w: settlement source %q", ErrValidation, s.SourceSystem)
	}
	if err := validate.Struct(struct {
		RowID       string `validate:"required,max=64"`
		DocumentRef string `validate:"required,max=128"`
		Kind        string `validate:"required"`
	}{s.RowID, s.DocumentRef, string(s.OperationKind)}); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	if len(s.Lines) > 0 {
		return fmt.Errorf("%w: settlement %s carries lines", ErrValidation, s.IdempotencyKey())
	}
	return validateCanonical(&s.CanonicalDocument)
}

// IsSale reports whether the row confirms a completed sale
func (s *SettlementRecord) IsSale() bool {
	return s.OperationKind == OperationSale
}

// compile-time checks
var (
	_ Document = (*OzonPosting)(nil)
	_ Document = (*OzonRealization)(nil)
	_ Document = (*WBSaleEvent)(nil)
	_ Document = (*YMOrder)(nil)
	_ Document = (*SettlementRecord)(nil)
)
