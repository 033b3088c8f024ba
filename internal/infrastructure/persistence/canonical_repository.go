package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// referenceChunk bounds the IN list of FindByReferences
const referenceChunk = 500

// canonicalModel is the contract a family model satisfies: a pointer to M
// that converts to and from the family's domain type D.
type canonicalModel[D ledger.Document, M any] interface {
	*M
	Columns() *models.CanonicalColumns
	FromDomain(doc D) error
	ToDomain() (D, error)
	UpsertColumns() []string
}

// GormCanonicalRepository implements ledger.CanonicalRepository for one
// document family using GORM
type GormCanonicalRepository[D ledger.Document, M any, P canonicalModel[D, M]] struct {
	db       *gorm.DB
	location *time.Location
	logger   *zap.Logger
}

// NewGormCanonicalRepository creates a repository for one family. loc is the
// ledger location used to derive the indexed event_date.
func NewGormCanonicalRepository[D ledger.Document, M any, P canonicalModel[D, M]](db *gorm.DB, loc *time.Location, logger *zap.Logger) *GormCanonicalRepository[D, M, P] {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormCanonicalRepository[D, M, P]{db: db, location: loc, logger: logger}
}

// Family constructors

// NewOzonPostingRepository creates the repository for FBS and FBO postings
func NewOzonPostingRepository(db *gorm.DB, loc *time.Location, logger *zap.Logger) *GormCanonicalRepository[*ledger.OzonPosting, models.OzonPostingModel, *models.OzonPostingModel] {
	return NewGormCanonicalRepository[*ledger.OzonPosting, models.OzonPostingModel, *models.OzonPostingModel](db, loc, logger)
}

// NewOzonRealizationRepository creates the repository for realization rows
func NewOzonRealizationRepository(db *gorm.DB, loc *time.Location, logger *zap.Logger) *GormCanonicalRepository[*ledger.OzonRealization, models.OzonRealizationModel, *models.OzonRealizationModel] {
	return NewGormCanonicalRepository[*ledger.OzonRealization, models.OzonRealizationModel, *models.OzonRealizationModel](db, loc, logger)
}

// NewWBSaleEventRepository creates the repository for WB sale events
func NewWBSaleEventRepository(db *gorm.DB, loc *time.Location, logger *zap.Logger) *GormCanonicalRepository[*ledger.WBSaleEvent, models.WBSaleEventModel, *models.WBSaleEventModel] {
	return NewGormCanonicalRepository[*ledger.WBSaleEvent, models.WBSaleEventModel, *models.WBSaleEventModel](db, loc, logger)
}

// NewYMOrderRepository creates the repository for YM orders
func NewYMOrderRepository(db *gorm.DB, loc *time.Location, logger *zap.Logger) *GormCanonicalRepository[*ledger.YMOrder, models.YMOrderModel, *models.YMOrderModel] {
	return NewGormCanonicalRepository[*ledger.YMOrder, models.YMOrderModel, *models.YMOrderModel](db, loc, logger)
}

// NewSettlementRepository creates the repository for settlement records
func NewSettlementRepository(db *gorm.DB, loc *time.Location, logger *zap.Logger) *GormCanonicalRepository[*ledger.SettlementRecord, models.SettlementRecordModel, *models.SettlementRecordModel] {
	return NewGormCanonicalRepository[*ledger.SettlementRecord, models.SettlementRecordModel, *models.SettlementRecordModel](db, loc, logger)
}

// Upsert inserts or updates the document by its idempotency key in a single
// statement, then reads back the row id. A unique violation on anything other
// than the idempotency key is reported as ErrIdempotencyCollision and nothing
// is overwritten.
func (r *GormCanonicalRepository[D, M, P]) Upsert(ctx context.Context, doc D) (uuid.UUID, error) {
	key := doc.IdempotencyKey()

	m := P(new(M))
	cols := m.Columns()
	if err := cols.FromCanonical(doc, r.location); err != nil {
		return uuid.Nil, err
	}
	if err := m.FromDomain(doc); err != nil {
		return uuid.Nil, err
	}
	cols.ID = uuid.New()

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoUpdates: clause.AssignmentColumns(m.UpsertColumns()),
		}).
		Create(m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			r.logCollision(doc, err)
			return uuid.Nil, fmt.Errorf("%w: %s", ledger.ErrIdempotencyCollision, key)
		}
		return uuid.Nil, fmt.Errorf("upsert %s: %w", key, err)
	}

	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).Unscoped().
		Model(new(M)).
		Where("idempotency_key = ?", key).
		Pluck("id", &ids).Error; err != nil {
		return uuid.Nil, err
	}
	if len(ids) != 1 {
		r.logCollision(doc, fmt.Errorf("%d rows after upsert", len(ids)))
		return uuid.Nil, fmt.Errorf("%w: %s", ledger.ErrIdempotencyCollision, key)
	}

	doc.Canonical().ID = ids[0]
	return ids[0], nil
}

func (r *GormCanonicalRepository[D, M, P]) logCollision(doc D, err error) {
	d := doc.Canonical()
	r.logger.Error("Idempotency key collision",
		zap.String("idempotency_key", doc.IdempotencyKey()),
		zap.String("family", string(doc.Family())),
		zap.String("source_system", string(doc.Source())),
		zap.String("document_type", string(doc.Type())),
		zap.String("document_number", d.Header.DocumentNumber),
		zap.Int("lines", len(d.Lines)),
		zap.Error(err),
	)
}

// GetByKey returns the live document with the given idempotency key
func (r *GormCanonicalRepository[D, M, P]) GetByKey(ctx context.Context, key string) (D, error) {
	var zero D
	m := P(new(M))
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return zero, ledger.ErrNotFound
		}
		return zero, err
	}
	return m.ToDomain()
}

// ListByDateRange returns documents whose event date lies in [from, to]
func (r *GormCanonicalRepository[D, M, P]) ListByDateRange(ctx context.Context, from, to time.Time) ([]D, error) {
	var rows []M
	if err := r.db.WithContext(ctx).
		Where("event_date BETWEEN ? AND ?", dateParam(from), dateParam(to)).
		Order("event_time, idempotency_key").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return r.toDomain(rows)
}

// FindByDocumentNumber returns live documents with the given header number
func (r *GormCanonicalRepository[D, M, P]) FindByDocumentNumber(ctx context.Context, number string) ([]D, error) {
	var rows []M
	if err := r.db.WithContext(ctx).
		Where("document_number = ?", number).
		Order("idempotency_key").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return r.toDomain(rows)
}

// FindByReferences returns live documents of a source whose business
// reference is in refs
func (r *GormCanonicalRepository[D, M, P]) FindByReferences(ctx context.Context, source ledger.SourceSystem, refs []string) ([]D, error) {
	var out []D
	for start := 0; start < len(refs); start += referenceChunk {
		end := min(start+referenceChunk, len(refs))
		var rows []M
		if err := r.db.WithContext(ctx).
			Where("source_system = ? AND reference IN ?", source, refs[start:end]).
			Order("reference, idempotency_key").
			Find(&rows).Error; err != nil {
			return nil, err
		}
		docs, err := r.toDomain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

// SoftDelete marks the document deleted. A later upsert with the same key
// brings it back.
func (r *GormCanonicalRepository[D, M, P]) SoftDelete(ctx context.Context, key string) error {
	result := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Delete(new(M))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (r *GormCanonicalRepository[D, M, P]) toDomain(rows []M) ([]D, error) {
	out := make([]D, 0, len(rows))
	for i := range rows {
		doc, err := P(&rows[i]).ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// dateParam normalizes a date bound to the UTC midnight stored in date columns
func dateParam(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// compile-time checks
var (
	_ ledger.CanonicalRepository[*ledger.OzonPosting]      = (*GormCanonicalRepository[*ledger.OzonPosting, models.OzonPostingModel, *models.OzonPostingModel])(nil)
	_ ledger.CanonicalRepository[*ledger.OzonRealization]  = (*GormCanonicalRepository[*ledger.OzonRealization, models.OzonRealizationModel, *models.OzonRealizationModel])(nil)
	_ ledger.CanonicalRepository[*ledger.WBSaleEvent]      = (*GormCanonicalRepository[*ledger.WBSaleEvent, models.WBSaleEventModel, *models.WBSaleEventModel])(nil)
	_ ledger.CanonicalRepository[*ledger.YMOrder]          = (*GormCanonicalRepository[*ledger.YMOrder, models.YMOrderModel, *models.YMOrderModel])(nil)
	_ ledger.CanonicalRepository[*ledger.SettlementRecord] = (*GormCanonicalRepository[*ledger.SettlementRecord, models.SettlementRecordModel, *models.SettlementRecordModel])(nil)
)
