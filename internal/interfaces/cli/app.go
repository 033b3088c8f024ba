package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/salesledger/backend/internal/application/ingestion"
	"github.com/salesledger/backend/internal/application/matching"
	"github.com/salesledger/backend/internal/application/quality"
	"github.com/salesledger/backend/internal/application/reconciliation"
	"github.com/salesledger/backend/internal/application/trigger"
	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/ledger/projection"
	"github.com/salesledger/backend/internal/domain/rawdoc"
	"github.com/salesledger/backend/internal/infrastructure/cache"
	"github.com/salesledger/backend/internal/infrastructure/config"
	"github.com/salesledger/backend/internal/infrastructure/logger"
	"github.com/salesledger/backend/internal/infrastructure/persistence"
	"github.com/salesledger/backend/internal/infrastructure/storage"
	"github.com/salesledger/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds the ledger services of one process, wired over one database
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *gorm.DB
	Raw       *persistence.GormRawDocumentStore
	Ledger    *persistence.GormLedgerRepository
	Catalog   *persistence.GormCatalogRepository
	Repos     ingestion.Repositories
	Ingestion *ingestion.Service
	Trigger   *trigger.Service
	Caches    *cache.Caches
	Metrics   *telemetry.LedgerMetrics

	closers []func(context.Context) error
}

type appOptions struct {
	archive rawdoc.PayloadArchive
	caches  *cache.Caches
	metrics *telemetry.LedgerMetrics
	hook    ingestion.SweepHook
}

// AppOption configures NewApp
type AppOption func(*appOptions)

// WithArchive offloads large raw payloads to archive
func WithArchive(a rawdoc.PayloadArchive) AppOption {
	return func(o *appOptions) { o.archive = a }
}

// WithCaches sets the catalog cache and sweep locker
func WithCaches(c *cache.Caches) AppOption {
	return func(o *appOptions) { o.caches = c }
}

// WithMetrics records ledger counters
func WithMetrics(m *telemetry.LedgerMetrics) AppOption {
	return func(o *appOptions) { o.metrics = m }
}

// WithSweepHook queues follow-up sweeps after each ingested batch
func WithSweepHook(h ingestion.SweepHook) AppOption {
	return func(o *appOptions) { o.hook = h }
}

// NewApp wires repositories and services over an open database. Without
// WithCaches the process runs on in-memory caches.
func NewApp(db *gorm.DB, cfg *config.Config, log *zap.Logger, opts ...AppOption) *App {
	o := &appOptions{metrics: telemetry.NoopLedgerMetrics()}
	for _, opt := range opts {
		opt(o)
	}
	var closers []func(context.Context) error
	if o.caches == nil {
		caches := cache.NewFactory(cfg.Redis, cfg.Matching.CacheTTL, cache.WithLogger(log)).CreateInMemory()
		closers = append(closers, func(context.Context) error { return caches.Close() })
		o.caches = caches
	}

	loc := cfg.LedgerLocation()
	var rawOpts []persistence.RawStoreOption
	rawOpts = append(rawOpts, persistence.WithRawStoreLogger(log))
	if o.archive != nil {
		rawOpts = append(rawOpts, persistence.WithPayloadArchive(o.archive, cfg.RawStore.InlineLimitBytes))
	}

	app := &App{
		Config:  cfg,
		Logger:  log,
		DB:      db,
		Raw:     persistence.NewGormRawDocumentStore(db, rawOpts...),
		Ledger:  persistence.NewGormLedgerRepository(db, cfg.Ledger.MaxPageSize),
		Catalog: persistence.NewGormCatalogRepository(db),
		Repos: ingestion.Repositories{
			OzonPostings:     persistence.NewOzonPostingRepository(db, loc, log),
			OzonRealizations: persistence.NewOzonRealizationRepository(db, loc, log),
			WBSaleEvents:     persistence.NewWBSaleEventRepository(db, loc, log),
			YMOrders:         persistence.NewYMOrderRepository(db, loc, log),
			Settlements:      persistence.NewSettlementRepository(db, loc, log),
		},
		Caches:  o.caches,
		Metrics: o.metrics,
		closers: closers,
	}

	ingestOpts := []ingestion.Option{
		ingestion.WithLogger(log),
		ingestion.WithMetrics(o.metrics),
	}
	if o.hook != nil {
		ingestOpts = append(ingestOpts, ingestion.WithSweepHook(o.hook))
	}
	app.Ingestion = ingestion.NewService(app.Raw, app.Repos, app.Ledger, projection.NewBuilder(loc), ingestOpts...)

	engine := reconciliation.NewEngine(app.Ledger, app.Repos.Settlements, app.Catalog, ratesFrom(cfg.Reconciliation),
		reconciliation.WithBatchSize(cfg.Reconciliation.BatchSize),
		reconciliation.WithMetrics(o.metrics),
		reconciliation.WithLogger(log),
	)
	matcher := matching.NewMatcher(app.Ledger, app.Catalog,
		matching.WithCache(o.caches.Catalog),
		matching.WithBatchSize(cfg.Matching.BatchSize),
		matching.WithMetrics(o.metrics),
		matching.WithLogger(log),
	)
	monitor := quality.NewMonitor(app.Ledger,
		quality.WithLocation(loc),
		quality.WithMetrics(o.metrics),
		quality.WithLogger(log),
	)
	app.Trigger = trigger.NewService(engine, matcher, monitor,
		trigger.WithLocker(o.caches.Locker),
		trigger.WithLockTTL(cfg.Scheduler.LockTTL),
		trigger.WithLogger(log),
	)
	return app
}

// Connect builds the production App from configuration: telemetry, the
// Postgres database, sweep caches and, when enabled, the payload archive.
func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...AppOption) (*App, error) {
	var closers []func(context.Context) error
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](ctx)
		}
		return nil, err
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		Insecure:          cfg.Telemetry.Insecure,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    Version,
		Environment:       cfg.App.Env,
	}, log)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize telemetry: %w", err))
	}
	closers = append(closers, tel.Shutdown)

	metrics, err := telemetry.NewLedgerMetrics(tel.Meter(cfg.Telemetry.ServiceName))
	if err != nil {
		return fail(fmt.Errorf("failed to register ledger metrics: %w", err))
	}

	db, err := persistence.Connect(ctx, &cfg.Database, log)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func(context.Context) error { return db.Close() })

	err = telemetry.InstrumentDB(db.DB, telemetry.DBTracing{
		Enabled:    cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL: cfg.Telemetry.DBLogFullSQL,
		SlowQuery:  cfg.Database.SlowQuery,
		DBName:     cfg.Database.DBName,
	}, log)
	if err != nil {
		return fail(fmt.Errorf("failed to register database tracing: %w", err))
	}

	caches, err := cache.NewFactory(cfg.Redis, cfg.Matching.CacheTTL,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(true),
	).Create()
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func(context.Context) error { return caches.Close() })

	appOpts := []AppOption{WithCaches(caches), WithMetrics(metrics)}
	if cfg.Storage.Enabled {
		archive, err := storage.NewS3PayloadArchive(ctx, &cfg.Storage, storage.WithLogger(log))
		if err != nil {
			return fail(fmt.Errorf("failed to initialize payload storage: %w", err))
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			return fail(err)
		}
		appOpts = append(appOpts, WithArchive(archive))
	}

	app := NewApp(db.DB, cfg, log, append(appOpts, opts...)...)
	app.closers = append(closers, app.closers...)
	return app, nil
}

// Close releases everything Connect opened, in reverse order, and flushes the logger
func (a *App) Close(ctx context.Context) error {
	defer logger.Sync(a.Logger)
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func ratesFrom(cfg config.ReconciliationConfig) reconciliation.Rates {
	rates := reconciliation.Rates{
		Default:  cfg.DefaultCommissionRate,
		BySource: make(map[ledger.SourceSystem]decimal.Decimal, len(cfg.CommissionRates)),
	}
	for source, rate := range cfg.CommissionRates {
		rates.BySource[ledger.SourceSystem(source)] = rate
	}
	return rates
}
