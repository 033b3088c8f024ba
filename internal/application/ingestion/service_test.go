package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/ledger/projection"
	"github.com/salesledger/backend/internal/domain/rawdoc"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/persistence"
	"github.com/salesledger/backend/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var eventAt = time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db     *gorm.DB
	svc    *Service
	ledger *persistence.GormLedgerRepository
	raw    *persistence.GormRawDocumentStore
	repos  Repositories
}

func realRepositories(db *gorm.DB) Repositories {
	log := zap.NewNop()
	return Repositories{
		OzonPostings:     persistence.NewOzonPostingRepository(db, time.UTC, log),
		OzonRealizations: persistence.NewOzonRealizationRepository(db, time.UTC, log),
		WBSaleEvents:     persistence.NewWBSaleEventRepository(db, time.UTC, log),
		YMOrders:         persistence.NewYMOrderRepository(db, time.UTC, log),
		Settlements:      persistence.NewSettlementRepository(db, time.UTC, log),
	}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	f := &fixture{
		db:     db,
		ledger: persistence.NewGormLedgerRepository(db, 500),
		raw:    persistence.NewGormRawDocumentStore(db),
		repos:  realRepositories(db),
	}
	f.svc = NewService(f.raw, f.repos, f.ledger, projection.NewBuilder(time.UTC), opts...)
	return f
}

func (f *fixture) count(t *testing.T, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Table(table).Count(&n).Error)
	return n
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func amountLine(id, sku, amount string) ledger.Line {
	return ledger.Line{
		LineID:         id,
		SKU:            sku,
		Quantity:       decimal.NewFromInt(1),
		EffectivePrice: decimal.RequireFromString(amount),
		LineAmount:     decimal.RequireFromString(amount),
	}
}

func canonicalDoc(number string, lines ...ledger.Line) ledger.CanonicalDocument {
	return ledger.CanonicalDocument{
		Header: ledger.Header{DocumentNumber: number, CurrencyCode: "RUB"},
		Lines:  lines,
		State:  ledger.State{RawStatus: "delivered", EventTimestamp: eventAt},
	}
}

func postingEnvelope(t *testing.T, number string, docType ledger.DocumentType, lines ...ledger.Line) Envelope {
	return Envelope{
		SourceSystem:   ledger.SourceOzon,
		DocumentType:   docType,
		DocumentNumber: number,
		FetchedAt:      eventAt.Add(time.Hour),
		Payload: mustJSON(t, &ledger.OzonPosting{
			CanonicalDocument: canonicalDoc(number, lines...),
			DocType:           docType,
		}),
	}
}

func realizationEnvelope(t *testing.T, report, row, posting, total string) Envelope {
	return Envelope{
		SourceSystem:   ledger.SourceOzon,
		DocumentType:   ledger.DocumentTypeRealization,
		DocumentNumber: report,
		Payload: mustJSON(t, &ledger.OzonRealization{
			CanonicalDocument: canonicalDoc(report),
			RowID:             row,
			PostingNumber:     posting,
			TotalAmount:       decimal.RequireFromString(total),
		}),
	}
}

func wbEnvelope(t *testing.T, saleID, article, amount string) Envelope {
	eventType := "sale"
	return Envelope{
		SourceSystem:   ledger.SourceWB,
		DocumentType:   ledger.DocumentTypeSaleEvent,
		DocumentNumber: saleID,
		Payload: mustJSON(t, &ledger.WBSaleEvent{
			CanonicalDocument: canonicalDoc(saleID, amountLine("1", article, amount)),
			SaleID:            saleID,
			EventType:         &eventType,
			Article:           &article,
		}),
	}
}

func ymEnvelope(number string, lines ...ledger.Line) Envelope {
	return Envelope{
		SourceSystem:   ledger.SourceYM,
		DocumentType:   ledger.DocumentTypeOrder,
		DocumentNumber: number,
		Document:       &ledger.YMOrder{CanonicalDocument: canonicalDoc(number, lines...)},
	}
}

func TestService_IngestFBSPosting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env := postingEnvelope(t, "P-1", ledger.DocumentTypeFBSPosting,
		amountLine("1", "SKU-A", "60.00"), amountLine("2", "SKU-B", "40.00"))
	res, err := f.svc.Ingest(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIngested, res.Outcome)
	assert.Equal(t, 2, res.Entries)
	assert.Equal(t, "OZON:FBS_POSTING:P-1", res.IdempotencyKey)

	entry, err := f.ledger.GetByNaturalKey(ctx, ledger.NaturalKey{SourceSystem: ledger.SourceOzon, DocumentNumber: "P-1", LineID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "60.00", entry.LineAmount.StringFixed(2))
	assert.Equal(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), entry.SaleDate)
	assert.Equal(t, ledger.StatusDelivered, entry.NormalizedStatus)
	assert.Nil(t, entry.CatalogRef)
	assert.False(t, entry.IsFact)

	stored, err := f.repos.OzonPostings.GetByKey(ctx, res.IdempotencyKey)
	require.NoError(t, err)
	raw, err := f.raw.Load(ctx, ledger.SourceOzon, ledger.DocumentTypeFBSPosting, "P-1")
	require.NoError(t, err)
	assert.Equal(t, raw.ID, stored.SourceMeta.RawDocumentRef)
	assert.JSONEq(t, string(env.Payload), string(raw.Payload))
	assert.Equal(t, stored.ID, entry.RegistratorRef)
}

func TestService_IngestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env := postingEnvelope(t, "P-1", ledger.DocumentTypeFBSPosting,
		amountLine("1", "SKU-A", "60.00"), amountLine("2", "SKU-B", "40.00"))
	for i := 0; i < 3; i++ {
		res := f.svc.IngestBatch(ctx, []Envelope{env})
		require.Equal(t, 1, res.Ingested, "run %d", i)
	}

	assert.Equal(t, int64(1), f.count(t, "raw_documents"))
	assert.Equal(t, int64(1), f.count(t, "ozon_postings"))
	assert.Equal(t, int64(2), f.count(t, "ledger_entries"))
}

func TestService_WBDuplicateEventsKeepDistinctRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch := []Envelope{
		wbEnvelope(t, "S-1", "ART-1", "500.00"),
		wbEnvelope(t, "S-1", "ART-1", "500.00"),
	}
	res := f.svc.IngestBatch(ctx, batch)
	require.Equal(t, 2, res.Ingested)
	assert.NotEqual(t, res.Results[0].IdempotencyKey, res.Results[1].IdempotencyKey)
	assert.NotEqual(t, res.Results[0].DocumentNumber, res.Results[1].DocumentNumber)

	// the re-sent batch resolves to the same keys
	again := f.svc.IngestBatch(ctx, batch)
	require.Equal(t, 2, again.Ingested)
	assert.Equal(t, res.Results[0].IdempotencyKey, again.Results[0].IdempotencyKey)
	assert.Equal(t, res.Results[1].IdempotencyKey, again.Results[1].IdempotencyKey)

	page, err := f.ledger.Query(ctx, ledger.LedgerFilter{SourceSystem: ledger.SourceWB}, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, int64(2), f.count(t, "wb_sale_events"))
	assert.Equal(t, int64(2), f.count(t, "raw_documents"))
}

func TestService_InvalidDocumentsAreSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noTimestamp := postingEnvelope(t, "P-2", ledger.DocumentTypeFBSPosting, amountLine("1", "SKU-A", "10.00"))
	var p ledger.OzonPosting
	require.NoError(t, json.Unmarshal(noTimestamp.Payload, &p))
	p.State.EventTimestamp = time.Time{}
	noTimestamp.Payload = mustJSON(t, &p)

	batch := []Envelope{
		{
			SourceSystem:   ledger.SourceOzon,
			DocumentType:   ledger.DocumentTypeFBSPosting,
			DocumentNumber: "BAD-1",
			Payload:        []byte(`{not json`),
		},
		noTimestamp,
		{
			SourceSystem:   ledger.SourceOzon,
			DocumentType:   ledger.DocumentTypeOrder,
			DocumentNumber: "X-1",
			Payload:        []byte(`{}`),
		},
		postingEnvelope(t, "P-3", ledger.DocumentTypeFBSPosting, amountLine("1", "SKU-A", "25.00")),
	}

	res := f.svc.IngestBatch(ctx, batch)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 1, res.Ingested)
	assert.Equal(t, 3, res.Invalid)
	assert.Equal(t, 0, res.Failed)
	require.Len(t, res.Failures(), 3)
	for _, r := range res.Failures() {
		assert.ErrorIs(t, r.Err, ledger.ErrValidation)
	}

	// undecodable payloads still leave an audit copy
	payload, err := f.raw.GetByKey(ctx, ledger.SourceOzon, ledger.DocumentTypeFBSPosting, "BAD-1")
	require.NoError(t, err)
	assert.Equal(t, `{not json`, string(payload))

	assert.Equal(t, int64(1), f.count(t, "ozon_postings"))
	assert.Equal(t, int64(1), f.count(t, "ledger_entries"))
}

func TestService_TypedDocumentMustMatchEnvelope(t *testing.T) {
	f := newFixture(t)

	env := ymEnvelope("Y-1", amountLine("1", "SKU-A", "10.00"))
	env.SourceSystem = ledger.SourceOzon
	res, err := f.svc.Ingest(context.Background(), env)
	require.Error(t, err)
	assert.Equal(t, OutcomeInvalid, res.Outcome)
	assert.Equal(t, int64(0), f.count(t, "raw_documents"))
}

func TestService_SettlementProjectsNothing(t *testing.T) {
	f := newFixture(t)

	env := Envelope{
		SourceSystem: ledger.SourceOzon,
		DocumentType: ledger.DocumentTypeSettlement,
		Document: &ledger.SettlementRecord{
			CanonicalDocument: canonicalDoc("FR-1"),
			SourceSystem:      ledger.SourceOzon,
			RowID:             "1",
			DocumentRef:       "P-1",
			OperationKind:     ledger.OperationSale,
			Commission:        decimal.RequireFromString("5.00"),
			Payout:            decimal.RequireFromString("55.00"),
		},
	}
	res, err := f.svc.Ingest(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIngested, res.Outcome)
	assert.Zero(t, res.Entries)
	assert.Equal(t, int64(1), f.count(t, "settlement_records"))
	assert.Equal(t, int64(0), f.count(t, "ledger_entries"))
}

func TestService_RealizationBeforePosting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fallbackKey := ledger.NaturalKey{SourceSystem: ledger.SourceOzon, DocumentNumber: "P-FBO", LineID: "R-1:1:0"}

	res, err := f.svc.Ingest(ctx, realizationEnvelope(t, "R-1", "1", "P-FBO", "300.00"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entries)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "R-1:1", res.DocumentNumber)

	fallback, err := f.ledger.GetByNaturalKey(ctx, fallbackKey)
	require.NoError(t, err)
	assert.Equal(t, "300.00", fallback.LineAmount.StringFixed(2))
	assert.Equal(t, ledger.SchemeFBO, fallback.Scheme)

	// the FBO posting itself has no ledger lines; its arrival re-splits the row
	res, err = f.svc.Ingest(ctx, postingEnvelope(t, "P-FBO", ledger.DocumentTypeFBOPosting,
		amountLine("1", "SKU-A", "50.00"), amountLine("2", "SKU-B", "30.00"), amountLine("3", "SKU-C", "20.00")))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Entries)
	assert.Empty(t, res.Warnings)

	_, err = f.ledger.GetByNaturalKey(ctx, fallbackKey)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	want := map[string]string{"R-1:1:1": "150.00", "R-1:1:2": "90.00", "R-1:1:3": "60.00"}
	page, err := f.ledger.Query(ctx, ledger.LedgerFilter{DocumentNumber: "P-FBO"}, 1, 50)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	total := decimal.Zero
	for _, e := range page.Items {
		assert.Equal(t, want[e.Key.LineID], e.LineAmount.StringFixed(2), "line %s", e.Key.LineID)
		assert.Equal(t, ledger.FamilyOzonRealization, e.RegistratorFamily)
		total = total.Add(e.LineAmount)
	}
	assert.Equal(t, "300.00", total.StringFixed(2))

	// re-ingesting the row now allocates directly
	res, err = f.svc.Ingest(ctx, realizationEnvelope(t, "R-1", "1", "P-FBO", "300.00"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Entries)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, int64(3), f.count(t, "ledger_entries"))
}

func TestService_RealizationRowsOfOnePostingAccumulate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, postingEnvelope(t, "P-FBO", ledger.DocumentTypeFBOPosting,
		amountLine("1", "SKU-A", "50.00"), amountLine("2", "SKU-B", "50.00")))
	require.NoError(t, err)

	_, err = f.svc.Ingest(ctx, realizationEnvelope(t, "R-1", "1", "P-FBO", "300.00"))
	require.NoError(t, err)
	_, err = f.svc.Ingest(ctx, realizationEnvelope(t, "R-2", "7", "P-FBO", "100.00"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.count(t, "ozon_realizations"))
	assert.Equal(t, int64(4), f.count(t, "ledger_entries"))

	page, err := f.ledger.Query(ctx, ledger.LedgerFilter{DocumentNumber: "P-FBO"}, 1, 50)
	require.NoError(t, err)
	total := decimal.Zero
	registrators := map[uuid.UUID]int{}
	for _, e := range page.Items {
		total = total.Add(e.LineAmount)
		registrators[e.RegistratorRef]++
	}
	assert.Equal(t, "400.00", total.StringFixed(2))
	assert.Len(t, registrators, 2)

	// a late posting update re-splits both rows without merging them
	res, err := f.svc.Ingest(ctx, postingEnvelope(t, "P-FBO", ledger.DocumentTypeFBOPosting,
		amountLine("1", "SKU-A", "75.00"), amountLine("2", "SKU-B", "25.00")))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Entries)

	second, err := f.ledger.GetByNaturalKey(ctx, ledger.NaturalKey{SourceSystem: ledger.SourceOzon, DocumentNumber: "P-FBO", LineID: "R-2:7:1"})
	require.NoError(t, err)
	assert.Equal(t, "75.00", second.LineAmount.StringFixed(2))
	assert.Equal(t, int64(4), f.count(t, "ledger_entries"))
}

func TestService_RealizationIgnoresFBSPosting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, postingEnvelope(t, "P-9", ledger.DocumentTypeFBSPosting, amountLine("1", "SKU-A", "80.00")))
	require.NoError(t, err)

	res, err := f.svc.Ingest(ctx, realizationEnvelope(t, "R-2", "1", "P-9", "80.00"))
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 1)

	entry, err := f.ledger.GetByNaturalKey(ctx, ledger.NaturalKey{SourceSystem: ledger.SourceOzon, DocumentNumber: "P-9", LineID: "1"})
	require.NoError(t, err)
	assert.Equal(t, ledger.FamilyOzonPosting, entry.RegistratorFamily)
}

func TestService_Reprocess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orderPayload := mustJSON(t, &ledger.YMOrder{CanonicalDocument: canonicalDoc("Y-1",
		amountLine("1", "SKU-A", "70.00"), amountLine("2", "SKU-B", "30.00"))})
	first, err := f.svc.Ingest(ctx, Envelope{
		SourceSystem: ledger.SourceYM,
		DocumentType: ledger.DocumentTypeOrder,
		FetchedAt:    eventAt,
		Payload:      orderPayload,
	})
	require.NoError(t, err)
	raw, err := f.raw.Load(ctx, ledger.SourceYM, ledger.DocumentTypeOrder, "Y-1")
	require.NoError(t, err)

	res, err := f.svc.Reprocess(ctx, ledger.SourceYM, ledger.DocumentTypeOrder, "Y-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIngested, res.Outcome)
	assert.Equal(t, first.IdempotencyKey, res.IdempotencyKey)
	assert.Equal(t, 2, res.Entries)

	stored, err := f.repos.YMOrders.GetByKey(ctx, res.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, raw.ID, stored.SourceMeta.RawDocumentRef)
	assert.True(t, stored.SourceMeta.FetchedAt.Equal(eventAt))
	assert.Equal(t, int64(1), f.count(t, "raw_documents"))
	assert.Equal(t, int64(2), f.count(t, "ledger_entries"))

	_, err = f.svc.Reprocess(ctx, ledger.SourceYM, ledger.DocumentTypeOrder, "missing")
	assert.ErrorIs(t, err, rawdoc.ErrNotFound)
}

func TestService_ReprocessWBEventRecoversOrdinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch := f.svc.IngestBatch(ctx, []Envelope{
		wbEnvelope(t, "S-7", "ART-1", "100.00"),
		wbEnvelope(t, "S-7", "ART-1", "100.00"),
	})
	require.Equal(t, 2, batch.Ingested)
	second := batch.Results[1]

	res, err := f.svc.Reprocess(ctx, ledger.SourceWB, ledger.DocumentTypeSaleEvent, second.DocumentNumber)
	require.NoError(t, err)
	assert.Equal(t, second.IdempotencyKey, res.IdempotencyKey)
	assert.Equal(t, int64(2), f.count(t, "wb_sale_events"))
	assert.Equal(t, int64(2), f.count(t, "ledger_entries"))
}

type recordingHook struct {
	ranges []shared.DateRange
}

func (h *recordingHook) AfterIngest(_ context.Context, r shared.DateRange) {
	h.ranges = append(h.ranges, r)
}

func TestService_SweepHookReceivesSaleDates(t *testing.T) {
	hook := &recordingHook{}
	f := newFixture(t, WithSweepHook(hook))
	ctx := context.Background()

	later := ymEnvelope("Y-2", amountLine("1", "SKU-A", "10.00"))
	later.Document.Canonical().State.EventTimestamp = eventAt.AddDate(0, 0, 3)
	f.svc.IngestBatch(ctx, []Envelope{
		postingEnvelope(t, "P-1", ledger.DocumentTypeFBSPosting, amountLine("1", "SKU-A", "10.00")),
		later,
	})
	require.Len(t, hook.ranges, 1)
	assert.Equal(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), hook.ranges[0].From)
	assert.Equal(t, time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC), hook.ranges[0].To)

	// a batch that writes no entries does not trigger sweeps
	f.svc.IngestBatch(ctx, []Envelope{postingEnvelope(t, "P-FBO", ledger.DocumentTypeFBOPosting, amountLine("1", "SKU-A", "10.00"))})
	assert.Len(t, hook.ranges, 1)
}

func TestService_CancelledContextFailsRemainingDocuments(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.svc.IngestBatch(ctx, []Envelope{ymEnvelope("Y-1", amountLine("1", "SKU-A", "10.00"))})
	assert.Equal(t, 1, res.Failed)
	assert.ErrorIs(t, res.Results[0].Err, context.Canceled)
}

// ---------------------------------------------------------------------------
// failure classification with mocked stores
// ---------------------------------------------------------------------------

type MockYMOrderRepository struct {
	mock.Mock
}

func (m *MockYMOrderRepository) Upsert(ctx context.Context, doc *ledger.YMOrder) (uuid.UUID, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockYMOrderRepository) GetByKey(ctx context.Context, key string) (*ledger.YMOrder, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.YMOrder), args.Error(1)
}

func (m *MockYMOrderRepository) ListByDateRange(ctx context.Context, from, to time.Time) ([]*ledger.YMOrder, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).([]*ledger.YMOrder), args.Error(1)
}

func (m *MockYMOrderRepository) FindByDocumentNumber(ctx context.Context, number string) ([]*ledger.YMOrder, error) {
	args := m.Called(ctx, number)
	return args.Get(0).([]*ledger.YMOrder), args.Error(1)
}

func (m *MockYMOrderRepository) FindByReferences(ctx context.Context, source ledger.SourceSystem, refs []string) ([]*ledger.YMOrder, error) {
	args := m.Called(ctx, source, refs)
	return args.Get(0).([]*ledger.YMOrder), args.Error(1)
}

func (m *MockYMOrderRepository) SoftDelete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockLedgerWriter struct {
	mock.Mock
}

func (m *MockLedgerWriter) Upsert(ctx context.Context, entries []ledger.LedgerEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockLedgerWriter) DeleteStale(ctx context.Context, registratorRef uuid.UUID, keep []ledger.NaturalKey) (int64, error) {
	args := m.Called(ctx, registratorRef, keep)
	return args.Get(0).(int64), args.Error(1)
}

func orderNumbered(number string) any {
	return mock.MatchedBy(func(o *ledger.YMOrder) bool { return o.OrderID() == number })
}

func TestService_CollisionSkipsDocumentAndBatchContinues(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repos := realRepositories(db)
	orders := new(MockYMOrderRepository)
	repos.YMOrders = orders
	writer := new(MockLedgerWriter)
	svc := NewService(persistence.NewGormRawDocumentStore(db), repos, writer, projection.NewBuilder(time.UTC))

	storedID := uuid.New()
	orders.On("Upsert", mock.Anything, orderNumbered("Y-1")).
		Return(uuid.Nil, fmt.Errorf("%w: YM:ORDER:Y-1", ledger.ErrIdempotencyCollision))
	orders.On("Upsert", mock.Anything, orderNumbered("Y-2")).
		Run(func(args mock.Arguments) { args.Get(1).(*ledger.YMOrder).ID = storedID }).
		Return(storedID, nil)
	writer.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	writer.On("DeleteStale", mock.Anything, storedID, mock.Anything).Return(int64(0), nil)

	res := svc.IngestBatch(context.Background(), []Envelope{
		ymEnvelope("Y-1", amountLine("1", "SKU-A", "10.00")),
		ymEnvelope("Y-2", amountLine("1", "SKU-A", "20.00")),
	})

	assert.Equal(t, 1, res.Collisions)
	assert.Equal(t, 1, res.Ingested)
	assert.Equal(t, OutcomeCollision, res.Results[0].Outcome)
	assert.Equal(t, "YM:ORDER:Y-1", res.Results[0].IdempotencyKey)
	orders.AssertExpectations(t)
	writer.AssertExpectations(t)
	writer.AssertNumberOfCalls(t, "Upsert", 1)
}

func TestService_LedgerFailureIsReportedAsFailed(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	writer := new(MockLedgerWriter)
	svc := NewService(persistence.NewGormRawDocumentStore(db), realRepositories(db), writer, projection.NewBuilder(time.UTC))

	writer.On("Upsert", mock.Anything, mock.Anything).Return(fmt.Errorf("connection reset"))

	res, err := svc.Ingest(context.Background(), ymEnvelope("Y-1", amountLine("1", "SKU-A", "10.00")))
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	writer.AssertNotCalled(t, "DeleteStale", mock.Anything, mock.Anything, mock.Anything)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeIngested},
		{"validation", fmt.Errorf("wrap: %w", ledger.ErrValidation), OutcomeInvalid},
		{"unsupported", ledger.ErrUnsupportedFamily, OutcomeInvalid},
		{"raw key", rawdoc.ErrInvalidKey, OutcomeInvalid},
		{"collision", fmt.Errorf("wrap: %w", ledger.ErrIdempotencyCollision), OutcomeCollision},
		{"storage", fmt.Errorf("disk full"), OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
