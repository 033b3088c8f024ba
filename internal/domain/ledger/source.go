package ledger

import (
	"fmt"
	"strings"
)

// SourceSystem identifies a marketplace feeding the ledger
type SourceSystem string

const (
	SourceOzon SourceSystem = "OZON"
	SourceWB   SourceSystem = "WB"
	SourceYM   SourceSystem = "YM"
)

// AllSourceSystems returns every supported source system
func AllSourceSystems() []SourceSystem {
	return []SourceSystem{SourceOzon, SourceWB, SourceYM}
}

// IsValid checks if the source system is known
func (s SourceSystem) IsValid() bool {
	switch s {
	case SourceOzon, SourceWB, SourceYM:
		return true
	}
	return false
}

func (s SourceSystem) String() string {
	return string(s)
}

// ParseSourceSystem parses a case-insensitive source system name
func ParseSourceSystem(s string) (SourceSystem, error) {
	src := SourceSystem(strings.ToUpper(strings.TrimSpace(s)))
	if !src.IsValid() {
		return "", fmt.Errorf("%w: unknown source system %q", ErrValidation, s)
	}
	return src, nil
}

// DocumentType is the source-side kind of a pushed document
type DocumentType string

const (
	DocumentTypeFBSPosting  DocumentType = "FBS_POSTING"
	DocumentTypeFBOPosting  DocumentType = "FBO_POSTING"
	DocumentTypeRealization DocumentType = "REALIZATION"
	DocumentTypeSaleEvent   DocumentType = "SALE_EVENT"
	DocumentTypeOrder       DocumentType = "ORDER"
	DocumentTypeSettlement  DocumentType = "SETTLEMENT"
)

func (t DocumentType) String() string {
	return string(t)
}

// Scheme is the fulfillment scheme recorded on a ledger entry
type Scheme string

const (
	SchemeFBS Scheme = "FBS" // fulfilled by seller
	SchemeFBO Scheme = "FBO" // fulfilled by marketplace
	SchemeFBW Scheme = "FBW" // fulfilled by WB warehouse
)

// Family is a canonical document family. Each family has its own table and
// its own idempotency key derivation.
type Family string

const (
	FamilyOzonPosting      Family = "OzonPosting"
	FamilyOzonRealization  Family = "OzonRealization"
	FamilyWBSaleEvent      Family = "WBSaleEvent"
	FamilyYMOrder          Family = "YMOrder"
	FamilySettlementRecord Family = "SettlementRecord"
)

// FamilyOf resolves the canonical family for a (source, document type) pair
func FamilyOf(source SourceSystem, docType DocumentType) (Family, error) {
	switch {
	case docType == DocumentTypeSettlement && source.IsValid():
		return FamilySettlementRecord, nil
	case source == SourceOzon && (docType == DocumentTypeFBSPosting || docType == DocumentTypeFBOPosting):
		return FamilyOzonPosting, nil
	case source == SourceOzon && docType == DocumentTypeRealization:
		return FamilyOzonRealization, nil
	case source == SourceWB && docType == DocumentTypeSaleEvent:
		return FamilyWBSaleEvent, nil
	case source == SourceYM && docType == DocumentTypeOrder:
		return FamilyYMOrder, nil
	}
	return "", fmt.Errorf("%w: unsupported document %s/%s", ErrValidation, source, docType)
}
