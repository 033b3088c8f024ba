package models

import (
	"time"

	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/rawdoc"
)

// RawDocumentModel is the persistence model for a verbatim source payload.
// Payload is NULL when the body lives in object storage under StorageKey.
type RawDocumentModel struct {
	BaseModel
	RawKey         string              `gorm:"column:raw_key;type:varchar(300);not null;uniqueIndex"`
	SourceSystem   ledger.SourceSystem `gorm:"column:source_system;type:varchar(8);not null"`
	DocumentType   ledger.DocumentType `gorm:"column:document_type;type:varchar(32);not null"`
	DocumentNumber string              `gorm:"column:document_number;type:varchar(255);not null"`
	Payload        []byte              `gorm:"column:payload;type:bytea"`
	PayloadHash    string              `gorm:"column:payload_hash;type:char(64);not null"`
	PayloadSize    int64               `gorm:"column:payload_size;not null"`
	StorageKey     string              `gorm:"column:storage_key;type:varchar(500)"`
	FetchedAt      time.Time           `gorm:"column:fetched_at;not null;index"`
}

// TableName returns the table name for GORM
func (RawDocumentModel) TableName() string {
	return "raw_documents"
}

// RawDocumentUpsertColumns are overwritten when a document is fetched again
var RawDocumentUpsertColumns = []string{
	"payload", "payload_hash", "payload_size", "storage_key", "fetched_at", "updated_at",
}

// FromDomain populates the key and metadata columns. The payload columns are
// set by the store, which decides between inline and offloaded storage.
func (m *RawDocumentModel) FromDomain(d *rawdoc.RawDocument) {
	m.RawKey = d.Key()
	m.SourceSystem = d.SourceSystem
	m.DocumentType = d.DocumentType
	m.DocumentNumber = d.DocumentNumber
	m.PayloadHash = rawdoc.Hash(d.Payload)
	m.PayloadSize = int64(len(d.Payload))
	m.FetchedAt = d.FetchedAt.UTC()
}
