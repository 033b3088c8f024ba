package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
	"gorm.io/gorm"
)

// BaseModel provides common persistence fields for all models.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// CanonicalColumns are the columns every canonical family table carries.
// Lines are stored as a JSON array; the header and state are flattened.
type CanonicalColumns struct {
	BaseModel
	IdempotencyKey   string                  `gorm:"column:idempotency_key;type:varchar(255);not null;uniqueIndex"`
	SourceSystem     ledger.SourceSystem     `gorm:"column:source_system;type:varchar(8);not null"`
	DocumentType     ledger.DocumentType     `gorm:"column:document_type;type:varchar(32);not null"`
	DocumentNumber   string                  `gorm:"column:document_number;type:varchar(128);not null;index"`
	Reference        string                  `gorm:"column:reference;type:varchar(128);not null;index"`
	ConnectionRef    *uuid.UUID              `gorm:"column:connection_ref;type:uuid"`
	OrganizationRef  *uuid.UUID              `gorm:"column:organization_ref;type:uuid"`
	MarketplaceRef   string                  `gorm:"column:marketplace_ref;type:varchar(128)"`
	CurrencyCode     string                  `gorm:"column:currency_code;type:varchar(3)"`
	RawStatus        string                  `gorm:"column:raw_status;type:varchar(64)"`
	NormalizedStatus ledger.NormalizedStatus `gorm:"column:normalized_status;type:varchar(16)"`
	EventTime        time.Time               `gorm:"column:event_time;not null"`
	EventDate        time.Time               `gorm:"column:event_date;type:date;not null;index"`
	LastSourceUpdate *time.Time              `gorm:"column:last_source_update"`
	RawDocumentRef   uuid.UUID               `gorm:"column:raw_document_ref;type:uuid"`
	FetchedAt        time.Time               `gorm:"column:fetched_at"`
	SchemaVersion    int                     `gorm:"column:schema_version;not null;default:1"`
	Lines            string                  `gorm:"column:lines;type:text;not null"`
	DeletedAt        gorm.DeletedAt          `gorm:"column:deleted_at;index"`
}

// Columns exposes the shared columns of a family model
func (c *CanonicalColumns) Columns() *CanonicalColumns {
	return c
}

// canonicalUpsertColumns are overwritten on an idempotency key conflict.
// deleted_at is included so re-ingesting a soft-deleted document revives it.
var canonicalUpsertColumns = []string{
	"source_system", "document_type", "document_number", "reference",
	"connection_ref", "organization_ref", "marketplace_ref", "currency_code",
	"raw_status", "normalized_status", "event_time", "event_date", "last_source_update",
	"raw_document_ref", "fetched_at", "schema_version", "lines", "deleted_at", "updated_at",
}

// CanonicalUpsertColumns returns the shared columns plus the family's own
func CanonicalUpsertColumns(extra ...string) []string {
	cols := make([]string, 0, len(canonicalUpsertColumns)+len(extra))
	cols = append(cols, canonicalUpsertColumns...)
	return append(cols, extra...)
}

// FromCanonical fills the shared columns from a document. The id is left to
// the repository; eventDate is the document's calendar date in the ledger location.
func (c *CanonicalColumns) FromCanonical(doc ledger.Document, loc *time.Location) error {
	d := doc.Canonical()
	lines := d.Lines
	if lines == nil {
		lines = []ledger.Line{}
	}
	encoded, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("encode lines of %s: %w", doc.IdempotencyKey(), err)
	}

	c.IdempotencyKey = doc.IdempotencyKey()
	c.SourceSystem = doc.Source()
	c.DocumentType = doc.Type()
	c.DocumentNumber = d.Header.DocumentNumber
	c.Reference = d.Header.DocumentNumber
	c.ConnectionRef = d.Header.ConnectionRef
	c.OrganizationRef = d.Header.OrganizationRef
	c.MarketplaceRef = d.Header.MarketplaceRef
	c.CurrencyCode = d.Header.CurrencyCode
	c.RawStatus = d.State.RawStatus
	c.NormalizedStatus = d.State.NormalizedStatus
	c.EventTime = d.State.EventTimestamp.UTC()
	c.EventDate = ledger.SaleDateOf(d.State.EventTimestamp, loc)
	c.LastSourceUpdate = nil
	if !d.State.LastSourceUpdate.IsZero() {
		t := d.State.LastSourceUpdate.UTC()
		c.LastSourceUpdate = &t
	}
	c.RawDocumentRef = d.SourceMeta.RawDocumentRef
	c.FetchedAt = d.SourceMeta.FetchedAt.UTC()
	c.SchemaVersion = d.SourceMeta.SchemaVersion
	if c.SchemaVersion == 0 {
		c.SchemaVersion = ledger.CurrentSchemaVersion
	}
	c.Lines = string(encoded)
	return nil
}

// ToCanonical rebuilds the shared document part
func (c *CanonicalColumns) ToCanonical() (ledger.CanonicalDocument, error) {
	var lines []ledger.Line
	if c.Lines != "" {
		if err := json.Unmarshal([]byte(c.Lines), &lines); err != nil {
			return ledger.CanonicalDocument{}, fmt.Errorf("decode lines of %s: %w", c.IdempotencyKey, err)
		}
	}
	doc := ledger.CanonicalDocument{
		ID: c.ID,
		Header: ledger.Header{
			DocumentNumber:  c.DocumentNumber,
			ConnectionRef:   c.ConnectionRef,
			OrganizationRef: c.OrganizationRef,
			MarketplaceRef:  c.MarketplaceRef,
			CurrencyCode:    c.CurrencyCode,
		},
		Lines: lines,
		State: ledger.State{
			RawStatus:        c.RawStatus,
			NormalizedStatus: c.NormalizedStatus,
			EventTimestamp:   c.EventTime.UTC(),
		},
		SourceMeta: ledger.SourceMeta{
			RawDocumentRef: c.RawDocumentRef,
			FetchedAt:      c.FetchedAt.UTC(),
			SchemaVersion:  c.SchemaVersion,
		},
	}
	if c.LastSourceUpdate != nil {
		doc.State.LastSourceUpdate = c.LastSourceUpdate.UTC()
	}
	return doc, nil
}
