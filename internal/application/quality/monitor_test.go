package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/persistence"
	"github.com/salesledger/backend/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockQualityReader struct {
	mock.Mock
}

func (m *MockQualityReader) CountQuality(ctx context.Context, r shared.DateRange, today time.Time) (ledger.QualityCounts, error) {
	args := m.Called(ctx, r, today)
	return args.Get(0).(ledger.QualityCounts), args.Error(1)
}

func april(d int) time.Time {
	return time.Date(2024, 4, d, 0, 0, 0, 0, time.UTC)
}

func fixedClock() time.Time {
	return april(5).Add(15 * time.Hour)
}

func TestMonitor_PassesTodayAsDate(t *testing.T) {
	r, err := shared.NewDateRange(april(1), april(30))
	require.NoError(t, err)

	reader := new(MockQualityReader)
	reader.On("CountQuality", mock.Anything, r, april(5)).
		Return(ledger.QualityCounts{Total: 10, MissingCatalog: 3, FutureSaleDates: 1}, nil)

	report, err := NewMonitor(reader, WithClock(fixedClock)).Run(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, int64(10), report.Counts.Total)
	assert.Equal(t, int64(4), report.Issues())
	assert.False(t, report.HasDuplicates())
	assert.Equal(t, april(5), report.Today)
	reader.AssertExpectations(t)
}

func TestMonitor_WrapsReaderErrors(t *testing.T) {
	r, err := shared.NewDateRange(april(1), april(2))
	require.NoError(t, err)
	reader := new(MockQualityReader)
	boom := errors.New("connection reset")
	reader.On("CountQuality", mock.Anything, r, mock.Anything).Return(ledger.QualityCounts{}, boom)

	_, err = NewMonitor(reader).Run(context.Background(), r)
	assert.ErrorIs(t, err, boom)
}

func TestMonitor_RejectsInvalidRange(t *testing.T) {
	reader := new(MockQualityReader)
	_, err := NewMonitor(reader).Run(context.Background(), shared.DateRange{From: april(3), To: april(1)})
	assert.ErrorIs(t, err, shared.ErrInvalidRange)
	reader.AssertNotCalled(t, "CountQuality", mock.Anything, mock.Anything, mock.Anything)
}

func TestMonitor_CountsLedgerProblems(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := persistence.NewGormLedgerRepository(db, 100)
	ctx := context.Background()

	org := uuid.New()
	conn := uuid.New()
	catalog := uuid.New()
	line := func(doc string, saleDay int, qty, amount string) ledger.LedgerEntry {
		return ledger.LedgerEntry{
			Key:               ledger.NaturalKey{SourceSystem: ledger.SourceOzon, DocumentNumber: doc, LineID: "1"},
			Scheme:            ledger.SchemeFBS,
			DocumentType:      ledger.DocumentTypeFBSPosting,
			RegistratorRef:    uuid.New(),
			RegistratorFamily: ledger.FamilyOzonPosting,
			EventTime:         april(saleDay),
			SaleDate:          april(saleDay),
			SellerSKU:         "SKU",
			Quantity:          decimal.RequireFromString(qty),
			LineAmount:        decimal.RequireFromString(amount),
			NormalizedStatus:  ledger.StatusDelivered,
		}
	}
	clean := line("P-1", 2, "1", "10.00")
	clean.OrganizationRef = &org
	clean.ConnectionRef = &conn
	require.NoError(t, repo.Upsert(ctx, []ledger.LedgerEntry{
		clean,
		line("P-2", 3, "0", "-5.00"),
		line("P-3", 9, "1", "10.00"),
	}))
	stored, err := repo.GetByNaturalKey(ctx, clean.Key)
	require.NoError(t, err)
	_, err = repo.SetCatalogRef(ctx, stored.ID, catalog)
	require.NoError(t, err)

	r, err := shared.NewDateRange(april(1), april(30))
	require.NoError(t, err)
	report, err := NewMonitor(repo, WithClock(fixedClock)).Run(ctx, r)
	require.NoError(t, err)

	assert.Equal(t, ledger.QualityCounts{
		Total:               3,
		MissingOrganization: 2,
		MissingConnection:   2,
		MissingCatalog:      2,
		NegativeAmounts:     1,
		ZeroQuantities:      1,
		FutureSaleDates:     1,
	}, report.Counts)
	assert.Zero(t, report.Counts.DuplicateNaturalKeys)
}

func TestMonitor_TodayFollowsLedgerLocation(t *testing.T) {
	moscow, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	db := testutil.NewSQLiteDB(t)
	repo := persistence.NewGormLedgerRepository(db, 100)
	ctx := context.Background()

	// 22:10 UTC on the 5th is 01:10 on the 6th in Moscow
	event := time.Date(2024, 4, 5, 22, 10, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, []ledger.LedgerEntry{{
		Key:               ledger.NaturalKey{SourceSystem: ledger.SourceYM, DocumentNumber: "Y-1", LineID: "1"},
		Scheme:            ledger.SchemeFBS,
		DocumentType:      ledger.DocumentTypeOrder,
		RegistratorRef:    uuid.New(),
		RegistratorFamily: ledger.FamilyYMOrder,
		EventTime:         event,
		SaleDate:          ledger.SaleDateOf(event, moscow),
		SellerSKU:         "SKU",
		Quantity:          decimal.NewFromInt(1),
		LineAmount:        decimal.RequireFromString("10.00"),
		NormalizedStatus:  ledger.StatusDelivered,
	}}))

	r, err := shared.NewDateRange(april(1), april(30))
	require.NoError(t, err)
	later := func() time.Time { return event.Add(20 * time.Minute) }

	report, err := NewMonitor(repo, WithClock(later), WithLocation(moscow)).Run(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, april(6), report.Today)
	assert.Zero(t, report.Counts.FutureSaleDates)

	report, err = NewMonitor(repo, WithClock(later)).Run(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, april(5), report.Today)
	assert.Equal(t, int64(1), report.Counts.FutureSaleDates, "a UTC ledger sees the Moscow date as ahead")
}
