package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NaturalKey identifies a ledger row across all sources
type NaturalKey struct {
	SourceSystem   SourceSystem
	DocumentNumber string
	LineID         string
}

// String renders the key as stored in the natural_key column
func (k NaturalKey) String() string {
	return strings.Join([]string{string(k.SourceSystem), k.DocumentNumber, k.LineID}, "|")
}

// ReconciliationState is Plan until settlement data confirms the line
type ReconciliationState string

const (
	StatePlan ReconciliationState = "PLAN"
	StateFact ReconciliationState = "FACT"
)

// PlanFields are estimated financials computed from the line and commission config
type PlanFields struct {
	Commission decimal.Decimal
	Logistics  decimal.Decimal
	OtherFees  decimal.Decimal
	Payout     decimal.Decimal
	Profit     decimal.Decimal
}

// Equal compares two plan field sets
func (p PlanFields) Equal(o PlanFields) bool {
	return p.Commission.Equal(o.Commission) &&
		p.Logistics.Equal(o.Logistics) &&
		p.OtherFees.Equal(o.OtherFees) &&
		p.Payout.Equal(o.Payout) &&
		p.Profit.Equal(o.Profit)
}

// FactFields are financials summed from matched settlement records
type FactFields struct {
	Commission      decimal.Decimal
	Logistics       decimal.Decimal
	OtherFees       decimal.Decimal
	Payout          decimal.Decimal
	Profit          decimal.Decimal
	SettlementCount int
}

// Equal compares two fact field sets
func (f FactFields) Equal(o FactFields) bool {
	return f.SettlementCount == o.SettlementCount &&
		f.Commission.Equal(o.Commission) &&
		f.Logistics.Equal(o.Logistics) &&
		f.OtherFees.Equal(o.OtherFees) &&
		f.Payout.Equal(o.Payout) &&
		f.Profit.Equal(o.Profit)
}

// LedgerEntry is one sold line in the unified ledger.
//
// Projection owns every field except CatalogRef (product matcher) and
// Plan/Fact/IsFact (reconciliation). ID and LoadedAt are set by the repository.
type LedgerEntry struct {
	ID                uuid.UUID
	Key               NaturalKey
	Scheme            Scheme
	DocumentType      DocumentType
	ConnectionRef     *uuid.UUID
	OrganizationRef   *uuid.UUID
	CatalogRef        *uuid.UUID
	RegistratorRef    uuid.UUID
	RegistratorFamily Family
	EventTime         time.Time
	SaleDate          time.Time
	SellerSKU         string
	MarketplaceItemID string
	Barcode           string
	Title             string
	Quantity          decimal.Decimal
	ListPrice         decimal.Decimal
	DiscountTotal     decimal.Decimal
	EffectivePrice    decimal.Decimal
	LineAmount        decimal.Decimal
	CurrencyCode      string
	SourceStatus      string
	NormalizedStatus  NormalizedStatus
	IsFact            bool
	Plan              *PlanFields
	Fact              *FactFields
	LoadedAt          time.Time
	SchemaVersion     int
}

// State returns the reconciliation state of the entry
func (e *LedgerEntry) State() ReconciliationState {
	if e.IsFact {
		return StateFact
	}
	return StatePlan
}

// SaleDateOf derives the reporting date of an event time: its calendar date
// in loc, represented as UTC midnight so it compares equal across processes.
func SaleDateOf(eventTime time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := eventTime.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
