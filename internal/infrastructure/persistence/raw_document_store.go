package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/rawdoc"
	"github.com/salesledger/backend/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRawDocumentStore implements rawdoc.Store using GORM. Payloads above the
// inline limit are written to the archive and only their key is kept in the row.
type GormRawDocumentStore struct {
	db          *gorm.DB
	archive     rawdoc.PayloadArchive
	inlineLimit int64
	logger      *zap.Logger
}

// RawStoreOption configures a GormRawDocumentStore
type RawStoreOption func(*GormRawDocumentStore)

// WithPayloadArchive offloads payloads larger than limit bytes to archive
func WithPayloadArchive(archive rawdoc.PayloadArchive, limit int64) RawStoreOption {
	return func(s *GormRawDocumentStore) {
		s.archive = archive
		s.inlineLimit = limit
	}
}

// WithRawStoreLogger sets the logger used for archive cleanup warnings
func WithRawStoreLogger(logger *zap.Logger) RawStoreOption {
	return func(s *GormRawDocumentStore) {
		s.logger = logger
	}
}

// NewGormRawDocumentStore creates a new GormRawDocumentStore
func NewGormRawDocumentStore(db *gorm.DB, opts ...RawStoreOption) *GormRawDocumentStore {
	s := &GormRawDocumentStore{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GormRawDocumentStore) offloads(payload []byte) bool {
	return s.archive != nil && s.inlineLimit > 0 && int64(len(payload)) > s.inlineLimit
}

// archiveKey is deterministic per raw key so a re-fetch overwrites the object
func archiveKey(d *rawdoc.RawDocument) string {
	return fmt.Sprintf("%s/%s/%s", d.SourceSystem, d.DocumentType, rawdoc.Hash([]byte(d.Key())))
}

// Put upserts the payload by (source, type, number) and returns the document ref
func (s *GormRawDocumentStore) Put(ctx context.Context, doc rawdoc.RawDocument) (uuid.UUID, error) {
	if err := doc.Validate(); err != nil {
		return uuid.Nil, err
	}
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = time.Now()
	}

	m := &models.RawDocumentModel{}
	m.FromDomain(&doc)
	m.ID = uuid.New()

	var previous string
	if s.offloads(doc.Payload) {
		key := archiveKey(&doc)
		if err := s.archive.Put(ctx, key, doc.Payload); err != nil {
			return uuid.Nil, fmt.Errorf("archive payload %s: %w", m.RawKey, err)
		}
		m.StorageKey = key
		m.Payload = nil
	} else {
		m.Payload = doc.Payload
		if m.Payload == nil {
			m.Payload = []byte{}
		}
		var err error
		if previous, err = s.storageKey(ctx, m.RawKey); err != nil {
			return uuid.Nil, err
		}
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "raw_key"}},
			DoUpdates: clause.AssignmentColumns(models.RawDocumentUpsertColumns),
		}).
		Create(m).Error; err != nil {
		return uuid.Nil, fmt.Errorf("put raw document %s: %w", m.RawKey, err)
	}

	var ids []uuid.UUID
	if err := s.db.WithContext(ctx).
		Model(&models.RawDocumentModel{}).
		Where("raw_key = ?", m.RawKey).
		Pluck("id", &ids).Error; err != nil {
		return uuid.Nil, err
	}
	if len(ids) == 0 {
		return uuid.Nil, rawdoc.ErrNotFound
	}
	if previous != "" {
		s.deleteArchived(ctx, previous)
	}
	return ids[0], nil
}

// storageKey returns the archive key of the stored row, empty when the row
// is missing or inline
func (s *GormRawDocumentStore) storageKey(ctx context.Context, rawKey string) (string, error) {
	if s.archive == nil {
		return "", nil
	}
	var keys []string
	if err := s.db.WithContext(ctx).
		Model(&models.RawDocumentModel{}).
		Where("raw_key = ? AND storage_key <> ''", rawKey).
		Pluck("storage_key", &keys).Error; err != nil {
		return "", fmt.Errorf("look up archived payload of %s: %w", rawKey, err)
	}
	if len(keys) == 0 {
		return "", nil
	}
	return keys[0], nil
}

// deleteArchived removes an object no row points to any more. Failures are
// logged: the row is already correct.
func (s *GormRawDocumentStore) deleteArchived(ctx context.Context, key string) {
	if err := s.archive.Delete(ctx, key); err != nil {
		s.logger.Warn("Failed to delete archived payload",
			zap.String("storage_key", key),
			zap.Error(err),
		)
	}
}

// GetByRef returns the payload of the document with the given ref
func (s *GormRawDocumentStore) GetByRef(ctx context.Context, ref uuid.UUID) ([]byte, error) {
	var m models.RawDocumentModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", ref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, rawdoc.ErrNotFound
		}
		return nil, err
	}
	return s.payload(ctx, &m)
}

// GetByKey returns the payload stored under (source, type, number)
func (s *GormRawDocumentStore) GetByKey(ctx context.Context, source ledger.SourceSystem, docType ledger.DocumentType, number string) ([]byte, error) {
	var m models.RawDocumentModel
	if err := s.db.WithContext(ctx).
		Where("raw_key = ?", rawdoc.Key(source, docType, number)).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, rawdoc.ErrNotFound
		}
		return nil, err
	}
	return s.payload(ctx, &m)
}

// Load returns the full stored document, payload included, for re-projection
func (s *GormRawDocumentStore) Load(ctx context.Context, source ledger.SourceSystem, docType ledger.DocumentType, number string) (*rawdoc.RawDocument, error) {
	var m models.RawDocumentModel
	if err := s.db.WithContext(ctx).
		Where("raw_key = ?", rawdoc.Key(source, docType, number)).
		First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, rawdoc.ErrNotFound
		}
		return nil, err
	}
	payload, err := s.payload(ctx, &m)
	if err != nil {
		return nil, err
	}
	return &rawdoc.RawDocument{
		ID:             m.ID,
		SourceSystem:   m.SourceSystem,
		DocumentType:   m.DocumentType,
		DocumentNumber: m.DocumentNumber,
		Payload:        payload,
		FetchedAt:      m.FetchedAt.UTC(),
	}, nil
}

func (s *GormRawDocumentStore) payload(ctx context.Context, m *models.RawDocumentModel) ([]byte, error) {
	if m.StorageKey == "" {
		if m.Payload == nil {
			return []byte{}, nil
		}
		return m.Payload, nil
	}
	if s.archive == nil {
		return nil, fmt.Errorf("raw document %s is archived at %s but no archive is configured", m.RawKey, m.StorageKey)
	}
	return s.archive.Get(ctx, m.StorageKey)
}

// Prune deletes documents last fetched before the cutoff. Archived payloads
// are removed after their rows; a failed object delete is logged, not returned.
func (s *GormRawDocumentStore) Prune(ctx context.Context, fetchedBefore time.Time) (int64, error) {
	var keys []string
	if s.archive != nil {
		if err := s.db.WithContext(ctx).
			Model(&models.RawDocumentModel{}).
			Where("fetched_at < ? AND storage_key <> ''", fetchedBefore.UTC()).
			Pluck("storage_key", &keys).Error; err != nil {
			return 0, err
		}
	}

	result := s.db.WithContext(ctx).
		Where("fetched_at < ?", fetchedBefore.UTC()).
		Delete(&models.RawDocumentModel{})
	if result.Error != nil {
		return 0, result.Error
	}

	for _, key := range keys {
		s.deleteArchived(ctx, key)
	}
	return result.RowsAffected, nil
}

var _ rawdoc.Store = (*GormRawDocumentStore)(nil)
