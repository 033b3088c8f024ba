package ledger

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CurrentSchemaVersion is stamped on canonical documents and ledger entries
// produced by this build.
const CurrentSchemaVersion = 1

var validate = validator.New(validator.WithRequiredStructEnabled())

// Header identifies a document and the parties it belongs to
type Header struct {
	DocumentNumber  string     `json:"document_number" validate:"required,max=128"`
	ConnectionRef   *uuid.UUID `json:"connection_ref,omitempty"`
	OrganizationRef *uuid.UUID `json:"organization_ref,omitempty"`
	MarketplaceRef  string     `json:"marketplace_ref,omitempty" validate:"max=128"`
	CurrencyCode    string     `json:"currency_code,omitempty" validate:"omitempty,len=3"`
}

// Line is one sold item of a canonical document
type Line struct {
	LineID            string          `json:"line_id" validate:"required,max=128"`
	SKU               string          `json:"sku,omitempty" validate:"max=255"`
	MarketplaceItemID string          `json:"marketplace_item_id,omitempty"`
	Quantity          decimal.Decimal `json:"quantity"`
	ListPrice         decimal.Decimal `json:"list_price"`
	Discount          decimal.Decimal `json:"discount"`
	EffectivePrice    decimal.Decimal `json:"effective_price"`
	LineAmount        decimal.Decimal `json:"line_amount"`
	Barcode           string          `json:"barcode,omitempty"`
	Title             string          `json:"title,omitempty"`
}

// State is the lifecycle position of a document at the source
type State struct {
	RawStatus        string           `json:"raw_status,omitempty"`
	NormalizedStatus NormalizedStatus `json:"normalized_status,omitempty"`
	EventTimestamp   time.Time        `json:"event_timestamp" validate:"required"`
	LastSourceUpdate time.Time        `json:"last_source_update,omitempty"`
}

// SourceMeta links a canonical document back to its audit copy
type SourceMeta struct {
	RawDocumentRef uuid.UUID `json:"raw_document_ref"`
	FetchedAt      time.Time `json:"fetched_at"`
	SchemaVersion  int       `json:"schema_version"`
}

// CanonicalDocument is the normalized shape shared by every document family.
// ID is assigned by the canonical repository on upsert.
type CanonicalDocument struct {
	ID         uuid.UUID  `json:"id"`
	Header     Header     `json:"header"`
	Lines      []Line     `json:"lines" validate:"dive"`
	State      State      `json:"state"`
	SourceMeta SourceMeta `json:"source_meta"`
}

// Canonical returns the document itself; families embed CanonicalDocument
// and inherit this method.
func (d *CanonicalDocument) Canonical() *CanonicalDocument {
	return d
}

// Document is the tagged union over canonical document families.
type Document interface {
	Family() Family
	Source() SourceSystem
	Type() DocumentType
	// IdempotencyKey is the single scalar key the canonical layer upserts by.
	IdempotencyKey() string
	// RawDocumentNumber is the document number under which the audit copy is stored.
	RawDocumentNumber() string
	Canonical() *CanonicalDocument
	Validate() error
}

// validateCanonical runs struct validation plus the checks tags cannot express.
func validateCanonical(d *CanonicalDocument) error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}
	seen := make(map[string]struct{}, len(d.Lines))
	for _, line := range d.Lines {
		if _, dup := seen[line.LineID]; dup {
			return fmt.Errorf("%w: duplicate line_id %q in %s", ErrValidation, line.LineID, d.Header.DocumentNumber)
		}
		seen[line.LineID] = struct{}{}
		if line.Quantity.IsNegative() {
			return fmt.Errorf("%w: negative quantity on line %q", ErrValidation, line.LineID)
		}
	}
	return nil
}

// TotalLineAmount sums line_amount across all lines
func (d *CanonicalDocument) TotalLineAmount() decimal.Decimal {
	total := decimal.Zero
	for _, line := range d.Lines {
		total = total.Add(line.LineAmount)
	}
	return total
}
