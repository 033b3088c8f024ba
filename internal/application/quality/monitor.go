// Package quality reports data quality problems of the sales ledger
package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/logger"
	"github.com/salesledger/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// SweepName labels quality logs, locks and metrics
const SweepName = "quality"

// Report is the result of one quality check
type Report struct {
	Range  shared.DateRange
	Today  time.Time
	Counts ledger.QualityCounts
}

// Issues returns the number of lines flagged by any check. A line missing
// two references counts twice.
func (r Report) Issues() int64 {
	c := r.Counts
	return c.MissingOrganization + c.MissingConnection + c.MissingCatalog +
		c.NegativeAmounts + c.ZeroQuantities + c.FutureSaleDates + c.DuplicateNaturalKeys
}

// HasDuplicates reports a broken natural key invariant
func (r Report) HasDuplicates() bool {
	return r.Counts.DuplicateNaturalKeys > 0
}

// Monitor runs quality reports
type Monitor struct {
	reader  ledger.QualityReader
	metrics *telemetry.LedgerMetrics
	logger  *zap.Logger
	now     func() time.Time
	loc     *time.Location
}

// Option configures a Monitor
type Option func(*Monitor)

// WithMetrics records report counters
func WithMetrics(m *telemetry.LedgerMetrics) Option {
	return func(q *Monitor) {
		if m != nil {
			q.metrics = m
		}
	}
}

// WithLogger sets the monitor logger
func WithLogger(l *zap.Logger) Option {
	return func(q *Monitor) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithClock overrides the clock that decides which sale dates are in the future
func WithClock(now func() time.Time) Option {
	return func(q *Monitor) {
		if now != nil {
			q.now = now
		}
	}
}

// WithLocation sets the zone sale dates are derived in. Today is the
// current date there.
func WithLocation(loc *time.Location) Option {
	return func(q *Monitor) {
		if loc != nil {
			q.loc = loc
		}
	}
}

// NewMonitor creates a quality monitor
func NewMonitor(reader ledger.QualityReader, opts ...Option) *Monitor {
	q := &Monitor{
		reader:  reader,
		metrics: telemetry.NoopLedgerMetrics(),
		logger:  zap.NewNop(),
		now:     time.Now,
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Run counts quality problems of the lines whose sale date lies in r
func (q *Monitor) Run(ctx context.Context, r shared.DateRange) (Report, error) {
	if err := r.Validate(); err != nil {
		return Report{}, err
	}
	ctx = logger.WithSweep(ctx, SweepName)
	ctx, span := telemetry.StartSweepSpan(ctx, SweepName, r)
	defer span.End()

	started := q.now()
	today := ledger.SaleDateOf(started, q.loc)
	counts, err := q.reader.CountQuality(ctx, r, today)
	if err != nil {
		telemetry.RecordError(span, err)
		return Report{}, fmt.Errorf("count ledger quality: %w", err)
	}
	report := Report{Range: r, Today: today, Counts: counts}

	issues := report.Issues()
	telemetry.SetAttributes(span, "total", counts.Total, "issues", issues)
	q.metrics.RecordSweep(ctx, SweepName, int(counts.Total), 0, int(issues), q.now().Sub(started).Seconds())

	log := logger.Enrich(ctx, q.logger)
	fields := []zap.Field{
		zap.Int64("total", counts.Total),
		zap.Int64("missing_organization", counts.MissingOrganization),
		zap.Int64("missing_connection", counts.MissingConnection),
		zap.Int64("missing_catalog", counts.MissingCatalog),
		zap.Int64("negative_amounts", counts.NegativeAmounts),
		zap.Int64("zero_quantities", counts.ZeroQuantities),
		zap.Int64("future_sale_dates", counts.FutureSaleDates),
		zap.Int64("duplicate_natural_keys", counts.DuplicateNaturalKeys),
	}
	if report.HasDuplicates() {
		log.Error("Ledger has duplicate natural keys", fields...)
	} else {
		log.Info("Quality report finished", fields...)
	}
	return report, nil
}
