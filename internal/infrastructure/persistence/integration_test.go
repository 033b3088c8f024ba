//go:build integration

package persistence

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/infrastructure/migration"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// startPostgres runs a throwaway postgres container with the schema migrated
func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("salesledger_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sqlDB, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	m, err := migration.New(sqlDB, filepath.Join("..", "..", "..", "migrations"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up())
	st, err := m.Status()
	require.NoError(t, err)
	require.Zero(t, st.Pending)
	require.False(t, st.Dirty)

	db, err := Open(gormpostgres.Open(dsn), zap.NewNop(), SQLLogging{Level: "silent"})
	require.NoError(t, err)
	return db
}

func TestIntegration_CanonicalUpsertIsIdempotent(t *testing.T) {
	db := startPostgres(t)
	repo := NewOzonPostingRepository(db, time.UTC, zap.NewNop())
	ctx := context.Background()

	at := time.Date(2024, 4, 2, 21, 30, 0, 0, time.UTC)
	first, err := repo.Upsert(ctx, newPosting("P-100", ledger.DocumentTypeFBSPosting, at))
	require.NoError(t, err)

	updated := newPosting("P-100", ledger.DocumentTypeFBSPosting, at)
	updated.State.RawStatus = "cancelled"
	second, err := repo.Upsert(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int64
	require.NoError(t, db.Table("ozon_postings").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	got, err := repo.GetByKey(ctx, updated.IdempotencyKey())
	require.NoError(t, err)
	assert.Equal(t, "cancelled", got.State.RawStatus)
	assert.Len(t, got.Lines, 2)

	require.NoError(t, repo.SoftDelete(ctx, updated.IdempotencyKey()))
	_, err = repo.GetByKey(ctx, updated.IdempotencyKey())
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	revived, err := repo.Upsert(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, first, revived)
}

func TestIntegration_LedgerConcurrentUpsertKeepsOneRowPerKey(t *testing.T) {
	db := startPostgres(t)
	repo := NewGormLedgerRepository(db, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Upsert(ctx, []ledger.LedgerEntry{
				newEntry(ledger.SourceOzon, "P-1", "1", "SKU-A", 1, "60.00"),
				newEntry(ledger.SourceOzon, "P-1", "2", "SKU-B", 1, "40.00"),
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, db.Table("ledger_entries").Count(&count).Error)
	assert.Equal(t, int64(2), count)

	rows, err := repo.Aggregate(ctx, mustRange(t, 1, 30), ledger.GroupBySaleDate)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-04-01", rows[0].Key)
	assert.Equal(t, int64(2), rows[0].Entries)
	assert.True(t, rows[0].LineAmount.Equal(decimal.RequireFromString("100.00")))
}

func TestIntegration_CatalogFindOrCreateConverges(t *testing.T) {
	db := startPostgres(t)
	repo := NewGormCatalogRepository(db)
	ctx := context.Background()

	stub := ledger.CatalogStub{SourceSystem: ledger.SourceWB, SellerSKU: "ART-1", Title: "Mug"}
	ids := make(chan uuid.UUID, 10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := repo.FindOrCreate(ctx, stub)
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	var first uuid.UUID
	for id := range ids {
		if first == uuid.Nil {
			first = id
		}
		assert.Equal(t, first, id)
	}
	var count int64
	require.NoError(t, db.Table("catalog_items").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestIntegration_RawDocumentRefetchKeepsRef(t *testing.T) {
	db := startPostgres(t)
	store := NewGormRawDocumentStore(db)
	ctx := context.Background()

	fetched := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	ref, err := store.Put(ctx, rawPosting("P-7", `{"v":1}`, fetched))
	require.NoError(t, err)
	again, err := store.Put(ctx, rawPosting("P-7", `{"v":2}`, fetched.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	payload, err := store.GetByRef(ctx, ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(payload))
}
