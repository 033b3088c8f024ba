package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/salesledger/backend/internal/infrastructure/config"
	"github.com/salesledger/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// SQLLogging controls how statements reach the process log.
type SQLLogging struct {
	Level     string
	SlowQuery time.Duration
}

// Database is the ledger's Postgres connection pool.
type Database struct {
	DB *gorm.DB
}

// Connect opens the Postgres pool described by cfg and checks it answers.
func Connect(ctx context.Context, cfg *config.DatabaseConfig, zl *zap.Logger) (*Database, error) {
	gdb, err := Open(postgres.Open(cfg.DSN()), zl, SQLLogging{Level: cfg.LogLevel, SlowQuery: cfg.SlowQuery})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db := &Database{DB: gdb}

	pool, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	pool.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := db.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}
	zl.Info("Database connected",
		zap.String("host", cfg.Host),
		zap.String("dbname", cfg.DBName),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)
	return db, nil
}

// Open opens a gorm connection over any dialector with the settings the
// repositories rely on: no implicit transactions, prepared statements, and
// driver errors translated so unique violations surface as
// gorm.ErrDuplicatedKey.
func Open(dialector gorm.Dialector, zl *zap.Logger, logging SQLLogging) (*gorm.DB, error) {
	if zl == nil {
		zl = zap.NewNop()
	}
	return gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.NewSQLLogger(zl, logger.GormLevel(logging.Level), logging.SlowQuery),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		TranslateError:         true,
	})
}

// Ping checks that the database answers within ctx.
func (d *Database) Ping(ctx context.Context) error {
	pool, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get connection pool: %w", err)
	}
	if err := pool.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (d *Database) Close() error {
	pool, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get connection pool: %w", err)
	}
	return pool.Close()
}
