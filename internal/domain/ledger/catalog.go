package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CatalogItem is the ledger's view of a catalog product. Items created by
// the product matcher are stubs until the catalog owners complete them.
type CatalogItem struct {
	ID           uuid.UUID
	SourceSystem SourceSystem
	SellerSKU    string
	LookupKey    string
	Title        string
	Barcode      string
	CostPrice    decimal.Decimal
	IsStub       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CatalogStub carries what the matcher knows about an unresolved SKU
type CatalogStub struct {
	SourceSystem SourceSystem
	SellerSKU    string
	Title        string
	Barcode      string
}

// LookupKey is the scalar find-or-create key of the stub
func (s CatalogStub) LookupKey() string {
	return CatalogLookupKey(s.SourceSystem, s.SellerSKU)
}

// CatalogLookupKey builds the unique catalog lookup key for a seller SKU.
// SKUs are case sensitive on every marketplace; only surrounding space is trimmed.
func CatalogLookupKey(source SourceSystem, sku string) string {
	return string(source) + keySeparator + strings.TrimSpace(sku)
}
