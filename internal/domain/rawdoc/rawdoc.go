// Package rawdoc defines the verbatim audit store for source payloads.
package rawdoc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
)

var (
	// ErrNotFound is returned when no raw document matches the ref or key
	ErrNotFound = errors.New("rawdoc: document not found")
	// ErrInvalidKey is returned when a key part is empty
	ErrInvalidKey = errors.New("rawdoc: source, type and number are required")
)

// RawDocument is a verbatim source payload. Re-fetching the same key
// overwrites the payload and keeps the key and ID.
type RawDocument struct {
	ID             uuid.UUID
	SourceSystem   ledger.SourceSystem
	DocumentType   ledger.DocumentType
	DocumentNumber string
	Payload        []byte
	FetchedAt      time.Time
}

// Key returns the scalar raw_key of the document
func (d *RawDocument) Key() string {
	return Key(d.SourceSystem, d.DocumentType, d.DocumentNumber)
}

// Validate checks the key parts only; the payload is opaque.
func (d *RawDocument) Validate() error {
	if d.SourceSystem == "" || d.DocumentType == "" || d.DocumentNumber == "" {
		return ErrInvalidKey
	}
	return nil
}

// Key builds the raw store key. Source and type never contain ':' so the
// number may contain anything.
func Key(source ledger.SourceSystem, docType ledger.DocumentType, number string) string {
	return string(source) + ":" + string(docType) + ":" + number
}

// Hash returns the hex SHA-256 of a payload
func Hash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Store is the raw document store
type Store interface {
	// Put upserts by composite key in a single statement and returns the document ref.
	Put(ctx context.Context, doc RawDocument) (uuid.UUID, error)
	GetByRef(ctx context.Context, ref uuid.UUID) ([]byte, error)
	GetByKey(ctx context.Context, source ledger.SourceSystem, docType ledger.DocumentType, number string) ([]byte, error)
	// Load returns the stored document with its ref and fetch time.
	Load(ctx context.Context, source ledger.SourceSystem, docType ledger.DocumentType, number string) (*RawDocument, error)
	// Prune deletes documents last fetched before the cutoff and returns how many went.
	Prune(ctx context.Context, fetchedBefore time.Time) (int64, error)
}

// PayloadArchive holds payloads too large to keep inline
type PayloadArchive interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
