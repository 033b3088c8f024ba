package ledger

import (
	"context"
	"time"

	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Canonical documents
// ---------------------------------------------------------------------------

// CanonicalRepository stores one canonical document family
type CanonicalRepository[D Document] interface {
	// Upsert inserts or updates the document by its idempotency key in one
	// statement and returns the stored row id.
	Upsert(ctx context.Context, doc D) (uuid.UUID, error)
	GetByKey(ctx context.Context, key string) (D, error)
	// ListByDateRange returns documents whose event date lies in [from, to].
	ListByDateRange(ctx context.Context, from, to time.Time) ([]D, error)
	// FindByDocumentNumber returns live documents with the given header number.
	FindByDocumentNumber(ctx context.Context, number string) ([]D, error)
	// FindByReferences returns live documents of a source whose business
	// reference (posting number, document ref) is in refs.
	FindByReferences(ctx context.Context, source SourceSystem, refs []string) ([]D, error)
	SoftDelete(ctx context.Context, key string) error
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

// LedgerFilter narrows a ledger query. Zero values are ignored.
type LedgerFilter struct {
	From             time.Time
	To               time.Time
	SourceSystem     SourceSystem
	OrganizationRef  *uuid.UUID
	ConnectionRef    *uuid.UUID
	NormalizedStatus NormalizedStatus
	SellerSKU        string
	DocumentNumber   string
	// SortBy and SortOrder pick the page order; unknown values fall back
	// to sale date ascending. Natural key breaks ties.
	SortBy    string
	SortOrder string
}

// GroupBy selects the aggregate dimension
type GroupBy string

const (
	GroupBySaleDate     GroupBy = "sale_date"
	GroupBySourceSystem GroupBy = "source_system"
	GroupByOrganization GroupBy = "organization_ref"
)

// IsValid checks if the grouping is supported
func (g GroupBy) IsValid() bool {
	switch g {
	case GroupBySaleDate, GroupBySourceSystem, GroupByOrganization:
		return true
	}
	return false
}

// AggregateRow is one group of an aggregate query. Key is a YYYY-MM-DD date,
// a source system or an organization id; empty for entries without organization.
type AggregateRow struct {
	Key            string
	Entries        int64
	Quantity       decimal.Decimal
	LineAmount     decimal.Decimal
	PlanCommission decimal.Decimal
	PlanPayout     decimal.Decimal
	FactPayout     decimal.Decimal
	FactEntries    int64
}

// LedgerWriter is used by the projection pipeline
type LedgerWriter interface {
	// Upsert writes entries by natural key. Only projection-owned columns are
	// updated on conflict.
	Upsert(ctx context.Context, entries []LedgerEntry) error
	// DeleteStale removes entries of the registrator whose natural key is not in keep.
	DeleteStale(ctx context.Context, registratorRef uuid.UUID, keep []NaturalKey) (int64, error)
}

// LedgerReader is the read-only interface exposed to collaborators
type LedgerReader interface {
	Query(ctx context.Context, filter LedgerFilter, page, pageSize int) (shared.Paginated[LedgerEntry], error)
	Aggregate(ctx context.Context, r shared.DateRange, groupBy GroupBy) ([]AggregateRow, error)
	GetByNaturalKey(ctx context.Context, key NaturalKey) (*LedgerEntry, error)
}

// MatchingStore is the column subset the product matcher touches
type MatchingStore interface {
	// ListUnmatched pages through entries with no catalog_ref, ordered by id, after the given id.
	ListUnmatched(ctx context.Context, r shared.DateRange, after uuid.UUID, limit int) ([]LedgerEntry, error)
	// SetCatalogRef links the entry only if it is still unmatched and reports whether it did.
	SetCatalogRef(ctx context.Context, id uuid.UUID, catalogRef uuid.UUID) (bool, error)
}

// ReconciliationStore is the column subset the reconciliation engine touches
type ReconciliationStore interface {
	ListForReconciliation(ctx context.Context, r shared.DateRange, after uuid.UUID, limit int) ([]LedgerEntry, error)
	// ListByDocuments returns all entries of the given documents, whatever their sale date.
	ListByDocuments(ctx context.Context, source SourceSystem, numbers []string) ([]LedgerEntry, error)
	// UpdateReconciliation writes plan, fact and is_fact. A nil fact leaves the fact columns as they are.
	UpdateReconciliation(ctx context.Context, id uuid.UUID, plan PlanFields, fact *FactFields) error
}

// QualityCounts is the data quality report over a date range
type QualityCounts struct {
	Total                int64
	MissingOrganization  int64
	MissingConnection    int64
	MissingCatalog       int64
	NegativeAmounts      int64
	ZeroQuantities       int64
	FutureSaleDates      int64
	DuplicateNaturalKeys int64
}

// QualityReader runs the read-only quality counts
type QualityReader interface {
	CountQuality(ctx context.Context, r shared.DateRange, today time.Time) (QualityCounts, error)
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

// CatalogRepository resolves SKUs to catalog items
type CatalogRepository interface {
	// FindOrCreate returns the id of the item with the stub's lookup key,
	// creating a stub item if none exists. Concurrent calls converge on one id.
	FindOrCreate(ctx context.Context, stub CatalogStub) (uuid.UUID, error)
	FindByLookupKey(ctx context.Context, key string) (*CatalogItem, error)
	// CostPrices returns the unit cost of each known item id.
	CostPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}
