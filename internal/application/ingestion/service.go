// Package ingestion runs pushed documents through the ledger pipeline:
// raw store, canonical upsert, projection and ledger upsert, one document
// at a time with a per-document tally.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/ledger/projection"
	"github.com/salesledger/backend/internal/domain/rawdoc"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/logger"
	"github.com/salesledger/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Repositories are the canonical repositories, one per family
type Repositories struct {
	OzonPostings     ledger.CanonicalRepository[*ledger.OzonPosting]
	OzonRealizations ledger.CanonicalRepository[*ledger.OzonRealization]
	WBSaleEvents     ledger.CanonicalRepository[*ledger.WBSaleEvent]
	YMOrders         ledger.CanonicalRepository[*ledger.YMOrder]
	Settlements      ledger.CanonicalRepository[*ledger.SettlementRecord]
}

// SweepHook is told which sale dates a batch touched, so follow-up sweeps
// can be queued. It must not block.
type SweepHook interface {
	AfterIngest(ctx context.Context, saleDates shared.DateRange)
}

// Service is the ingestion boundary of the ledger
type Service struct {
	raw     rawdoc.Store
	repos   Repositories
	ledger  ledger.LedgerWriter
	builder projection.Builder
	metrics *telemetry.LedgerMetrics
	hook    SweepHook
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithMetrics records ingestion counters
func WithMetrics(m *telemetry.LedgerMetrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSweepHook sets the hook called after each batch that wrote entries
func WithSweepHook(h SweepHook) Option {
	return func(s *Service) {
		s.hook = h
	}
}

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates an ingestion service
func NewService(raw rawdoc.Store, repos Repositories, writer ledger.LedgerWriter, builder projection.Builder, opts ...Option) *Service {
	s := &Service{
		raw:     raw,
		repos:   repos,
		ledger:  writer,
		builder: builder,
		metrics: telemetry.NoopLedgerMetrics(),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest runs a single document through the pipeline
func (s *Service) Ingest(ctx context.Context, env Envelope) (DocumentResult, error) {
	res := s.IngestBatch(ctx, []Envelope{env})
	r := res.Results[0]
	return r, r.Err
}

// IngestBatch ingests the documents of one pushed batch in order. A failing
// document is tallied and skipped; the rest of the batch continues.
func (s *Service) IngestBatch(ctx context.Context, envs []Envelope) BatchResult {
	ctx = logger.WithBatchID(ctx, uuid.NewString())
	docs, decodeErrs := s.resolve(envs)

	var result BatchResult
	for i, env := range envs {
		if err := ctx.Err(); err != nil {
			result.add(s.failed(ctx, env, docs[i], err), nil)
			continue
		}
		if decodeErrs[i] != nil {
			// the payload is still kept for audit under the pushed number
			s.keepUndecodable(ctx, env)
			result.add(s.failed(ctx, env, nil, decodeErrs[i]), nil)
			continue
		}
		r, dates := s.ingestOne(ctx, env, docs[i], uuid.Nil)
		result.add(r, dates)
	}

	if s.hook != nil && result.SaleDates != nil {
		s.hook.AfterIngest(ctx, *result.SaleDates)
	}
	logger.Enrich(ctx, s.logger).Info("Batch ingested",
		zap.Int("total", result.Total),
		zap.Int("ingested", result.Ingested),
		zap.Int("invalid", result.Invalid),
		zap.Int("collisions", result.Collisions),
		zap.Int("failed", result.Failed),
		zap.Int("entries", result.Entries),
	)
	return result
}

// Reprocess re-projects a document from its audit copy: the stored payload
// is decoded again and run through canonical upsert and projection, keeping
// the original raw ref and fetch time.
func (s *Service) Reprocess(ctx context.Context, source ledger.SourceSystem, docType ledger.DocumentType, number string) (DocumentResult, error) {
	raw, err := s.raw.Load(ctx, source, docType, number)
	if err != nil {
		return DocumentResult{}, fmt.Errorf("load raw document %s: %w", rawdoc.Key(source, docType, number), err)
	}

	env := Envelope{
		SourceSystem:   source,
		DocumentType:   docType,
		DocumentNumber: number,
		FetchedAt:      raw.FetchedAt,
		Payload:        raw.Payload,
	}
	doc, err := Decode(source, docType, raw.Payload)
	if err == nil {
		if e, ok := doc.(*ledger.WBSaleEvent); ok {
			err = recoverWBOrdinal(e, number)
		}
	}
	if err != nil {
		r := s.failed(ctx, env, nil, err)
		return r, err
	}

	r, _ := s.ingestOne(ctx, env, doc, raw.ID)
	return r, r.Err
}

// resolve decodes untyped payloads and assigns synthesized WB keys in batch
// order, so a re-sent batch reproduces the same keys.
func (s *Service) resolve(envs []Envelope) ([]ledger.Document, []error) {
	docs := make([]ledger.Document, len(envs))
	errs := make([]error, len(envs))
	var wb []*ledger.WBSaleEvent
	for i, env := range envs {
		doc := env.Document
		if doc == nil {
			doc, errs[i] = Decode(env.SourceSystem, env.DocumentType, env.Payload)
			if errs[i] != nil {
				continue
			}
		} else if err := checkIdentity(doc, env.SourceSystem, env.DocumentType); err != nil {
			errs[i] = err
			continue
		}
		docs[i] = doc
		if e, ok := doc.(*ledger.WBSaleEvent); ok {
			wb = append(wb, e)
		}
	}
	ledger.AssignWBKeys(wb)
	return docs, errs
}

// ingestOne runs one resolved document. rawRef is set when the audit copy
// already exists and must not be rewritten.
func (s *Service) ingestOne(ctx context.Context, env Envelope, doc ledger.Document, rawRef uuid.UUID) (DocumentResult, []time.Time) {
	ctx = logger.WithSourceSystem(ctx, string(env.SourceSystem))
	ctx, span := telemetry.StartDocumentSpan(ctx, string(env.SourceSystem), string(env.DocumentType))
	defer span.End()
	log := logger.Enrich(ctx, s.logger)

	r := DocumentResult{
		SourceSystem:   env.SourceSystem,
		DocumentType:   env.DocumentType,
		DocumentNumber: doc.RawDocumentNumber(),
		IdempotencyKey: doc.IdempotencyKey(),
	}
	fail := func(err error) (DocumentResult, []time.Time) {
		r.Err = err
		r.Outcome = Classify(err)
		telemetry.RecordError(span, err)
		switch r.Outcome {
		case OutcomeCollision:
			log.Error("Idempotency key collision, document skipped",
				zap.String("idempotency_key", r.IdempotencyKey),
				zap.String("document_number", r.DocumentNumber),
				zap.Error(err),
			)
		case OutcomeInvalid:
			log.Warn("Invalid document skipped",
				zap.String("idempotency_key", r.IdempotencyKey),
				zap.String("document_number", r.DocumentNumber),
				zap.Error(err),
			)
		default:
			log.Error("Document ingestion failed",
				zap.String("idempotency_key", r.IdempotencyKey),
				zap.Error(err),
			)
		}
		s.metrics.RecordDocument(ctx, string(env.SourceSystem), string(env.DocumentType), string(r.Outcome))
		return r, nil
	}

	fetchedAt := env.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}
	if rawRef == uuid.Nil {
		payload := env.Payload
		if len(payload) == 0 {
			// typed documents are audited in their own JSON shape
			b, err := json.Marshal(doc)
			if err != nil {
				return fail(fmt.Errorf("%w: encode %s: %v", ledger.ErrValidation, r.IdempotencyKey, err))
			}
			payload = b
		}
		ref, err := s.raw.Put(ctx, rawdoc.RawDocument{
			SourceSystem:   env.SourceSystem,
			DocumentType:   env.DocumentType,
			DocumentNumber: doc.RawDocumentNumber(),
			Payload:        payload,
			FetchedAt:      fetchedAt,
		})
		if err != nil {
			return fail(fmt.Errorf("store raw document: %w", err))
		}
		rawRef = ref
	}

	c := doc.Canonical()
	c.SourceMeta = ledger.SourceMeta{
		RawDocumentRef: rawRef,
		FetchedAt:      fetchedAt.UTC(),
		SchemaVersion:  ledger.CurrentSchemaVersion,
	}
	if c.State.NormalizedStatus == "" {
		c.State.NormalizedStatus = ledger.NormalizeStatus(doc.Source(), c.State.RawStatus)
	}
	if err := doc.Validate(); err != nil {
		return fail(err)
	}

	if _, err := s.upsertCanonical(ctx, doc); err != nil {
		return fail(err)
	}

	related, err := s.relatedOf(ctx, doc)
	if err != nil {
		return fail(err)
	}
	entries, warnings, err := s.project(ctx, doc, related)
	if err != nil {
		return fail(err)
	}

	// an FBO posting arriving late completes the realization rows that
	// were split without it
	if p, ok := doc.(*ledger.OzonPosting); ok && p.DocType == ledger.DocumentTypeFBOPosting {
		more, moreWarnings, err := s.reprojectRealizations(ctx, p)
		if err != nil {
			return fail(err)
		}
		entries = append(entries, more...)
		warnings = append(warnings, moreWarnings...)
	}

	r.Outcome = OutcomeIngested
	r.Entries = len(entries)
	r.Warnings = warnings
	dates := make([]time.Time, len(entries))
	for i := range entries {
		dates[i] = entries[i].SaleDate
	}
	telemetry.SetAttributes(span, "entries", len(entries), "warnings", len(warnings))
	s.metrics.RecordDocument(ctx, string(env.SourceSystem), string(env.DocumentType), string(OutcomeIngested))
	s.metrics.RecordProjection(ctx, string(env.SourceSystem), len(entries), len(warnings))
	log.Debug("Document ingested",
		zap.String("idempotency_key", r.IdempotencyKey),
		zap.Int("entries", len(entries)),
	)
	return r, dates
}

// project builds and writes the entries of one stored document, then drops
// entries it produced on an earlier run but no longer does.
func (s *Service) project(ctx context.Context, doc ledger.Document, related ledger.Document) ([]ledger.LedgerEntry, []string, error) {
	if doc.Family() == ledger.FamilySettlementRecord {
		return nil, nil, nil
	}
	res, err := s.builder.Project(doc, related)
	if err != nil {
		return nil, nil, err
	}

	log := logger.Enrich(ctx, s.logger)
	warnings := make([]string, 0, len(res.Warnings))
	for _, w := range res.Warnings {
		log.Warn("Projection warning",
			zap.String("idempotency_key", doc.IdempotencyKey()),
			zap.Error(w),
		)
		warnings = append(warnings, w.Error())
	}

	if err := s.ledger.Upsert(ctx, res.Entries); err != nil {
		return nil, nil, fmt.Errorf("upsert ledger entries of %s: %w", doc.IdempotencyKey(), err)
	}
	keep := make([]ledger.NaturalKey, len(res.Entries))
	for i := range res.Entries {
		keep[i] = res.Entries[i].Key
	}
	removed, err := s.ledger.DeleteStale(ctx, doc.Canonical().ID, keep)
	if err != nil {
		return nil, nil, err
	}
	if removed > 0 {
		log.Info("Removed stale ledger entries",
			zap.String("idempotency_key", doc.IdempotencyKey()),
			zap.Int64("removed", removed),
		)
	}
	return res.Entries, warnings, nil
}

func (s *Service) upsertCanonical(ctx context.Context, doc ledger.Document) (uuid.UUID, error) {
	switch d := doc.(type) {
	case *ledger.OzonPosting:
		return s.repos.OzonPostings.Upsert(ctx, d)
	case *ledger.OzonRealization:
		return s.repos.OzonRealizations.Upsert(ctx, d)
	case *ledger.WBSaleEvent:
		return s.repos.WBSaleEvents.Upsert(ctx, d)
	case *ledger.YMOrder:
		return s.repos.YMOrders.Upsert(ctx, d)
	case *ledger.SettlementRecord:
		return s.repos.Settlements.Upsert(ctx, d)
	}
	return uuid.Nil, fmt.Errorf("%w: %T", ledger.ErrUnsupportedFamily, doc)
}

// relatedOf performs the cross-document lookup of a realization row: the
// FBO posting it settles. A missing posting is not an error. FBS postings
// own their ledger lines and are never used as allocation targets.
func (s *Service) relatedOf(ctx context.Context, doc ledger.Document) (ledger.Document, error) {
	r, ok := doc.(*ledger.OzonRealization)
	if !ok {
		return nil, nil
	}
	postings, err := s.repos.OzonPostings.FindByDocumentNumber(ctx, r.PostingNumber)
	if err != nil {
		return nil, fmt.Errorf("look up posting %s: %w", r.PostingNumber, err)
	}
	for _, p := range postings {
		if p.DocType == ledger.DocumentTypeFBOPosting {
			return p, nil
		}
	}
	return nil, nil
}

func (s *Service) reprojectRealizations(ctx context.Context, posting *ledger.OzonPosting) ([]ledger.LedgerEntry, []string, error) {
	rows, err := s.repos.OzonRealizations.FindByReferences(ctx, ledger.SourceOzon, []string{posting.PostingNumber()})
	if err != nil {
		return nil, nil, fmt.Errorf("find realizations of %s: %w", posting.PostingNumber(), err)
	}
	var entries []ledger.LedgerEntry
	var warnings []string
	for _, row := range rows {
		e, w, err := s.project(ctx, row, posting)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, e...)
		warnings = append(warnings, w...)
	}
	return entries, warnings, nil
}

// keepUndecodable stores a payload that could not be decoded so the audit
// trail is complete. Store errors are logged; the document already failed.
func (s *Service) keepUndecodable(ctx context.Context, env Envelope) {
	if env.DocumentNumber == "" || len(env.Payload) == 0 {
		return
	}
	fetchedAt := env.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}
	_, err := s.raw.Put(ctx, rawdoc.RawDocument{
		SourceSystem:   env.SourceSystem,
		DocumentType:   env.DocumentType,
		DocumentNumber: env.DocumentNumber,
		Payload:        env.Payload,
		FetchedAt:      fetchedAt,
	})
	if err != nil && !errors.Is(err, rawdoc.ErrInvalidKey) {
		logger.Enrich(ctx, s.logger).Warn("Failed to store undecodable payload",
			zap.String("document_number", env.DocumentNumber),
			zap.Error(err),
		)
	}
}

func (s *Service) failed(ctx context.Context, env Envelope, doc ledger.Document, err error) DocumentResult {
	r := DocumentResult{
		SourceSystem:   env.SourceSystem,
		DocumentType:   env.DocumentType,
		DocumentNumber: env.DocumentNumber,
		Outcome:        Classify(err),
		Err:            err,
	}
	if doc != nil {
		r.DocumentNumber = doc.RawDocumentNumber()
		r.IdempotencyKey = doc.IdempotencyKey()
	}
	logger.Enrich(ctx, s.logger).Warn("Document skipped",
		zap.String("source_system", string(env.SourceSystem)),
		zap.String("document_type", string(env.DocumentType)),
		zap.String("document_number", r.DocumentNumber),
		zap.Error(err),
	)
	s.metrics.RecordDocument(ctx, string(env.SourceSystem), string(env.DocumentType), string(r.Outcome))
	return r
}
