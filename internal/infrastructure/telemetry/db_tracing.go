package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracing configures statement spans.
type DBTracing struct {
	Enabled    bool
	LogFullSQL bool // include query variables in spans; never in production
	SlowQuery  time.Duration
	DBName     string
}

type statementStartKey struct{}

// InstrumentDB installs otelgorm on db, plus callbacks that flag slow
// statements and unique violations on the statement span. With tracing
// disabled db is left untouched.
func InstrumentDB(db *gorm.DB, cfg DBTracing, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.SlowQuery <= 0 {
		cfg.SlowQuery = 200 * time.Millisecond
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBName)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	annotate := statementAnnotator(cfg.SlowQuery)
	cb := db.Callback()
	err := errors.Join(
		cb.Create().Before("gorm:create").Register("ledger:start_create", markStatementStart),
		cb.Create().After("gorm:create").Register("ledger:annotate_create", annotate),
		cb.Query().Before("gorm:query").Register("ledger:start_query", markStatementStart),
		cb.Query().After("gorm:query").Register("ledger:annotate_query", annotate),
		cb.Update().Before("gorm:update").Register("ledger:start_update", markStatementStart),
		cb.Update().After("gorm:update").Register("ledger:annotate_update", annotate),
		cb.Delete().Before("gorm:delete").Register("ledger:start_delete", markStatementStart),
		cb.Delete().After("gorm:delete").Register("ledger:annotate_delete", annotate),
		cb.Raw().Before("gorm:raw").Register("ledger:start_raw", markStatementStart),
		cb.Raw().After("gorm:raw").Register("ledger:annotate_raw", annotate),
	)
	if err != nil {
		return err
	}

	logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query", cfg.SlowQuery),
	)
	return nil
}

func markStatementStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, statementStartKey{}, time.Now())
	}
}

func statementAnnotator(slow time.Duration) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			return
		}
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return
		}

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if db.Statement.Table != "" {
			span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
		}

		if err := db.Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				span.SetAttributes(attribute.Bool(attrPrefix+"unique_violation", true))
			}
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}

		if start, ok := ctx.Value(statementStartKey{}).(time.Time); ok {
			if elapsed := time.Since(start); elapsed > slow {
				span.SetAttributes(
					attribute.Bool("db.slow_query", true),
					attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
				)
			}
		}
	}
}
