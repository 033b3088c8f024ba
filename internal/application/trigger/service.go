// Package trigger exposes the ledger sweeps to outside callers. Each sweep
// runs under a named lock so two processes never run the same sweep at once.
package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/salesledger/backend/internal/application/matching"
	"github.com/salesledger/backend/internal/application/quality"
	"github.com/salesledger/backend/internal/application/reconciliation"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/cache"
	"github.com/salesledger/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultLockTTL = 30 * time.Minute

// Reconciler runs reconciliation sweeps
type Reconciler interface {
	Run(ctx context.Context, r shared.DateRange) (reconciliation.SweepSummary, error)
}

// ProductMatcher runs matching sweeps
type ProductMatcher interface {
	Run(ctx context.Context, r shared.DateRange) (matching.SweepSummary, error)
}

// QualityMonitor runs quality reports
type QualityMonitor interface {
	Run(ctx context.Context, r shared.DateRange) (quality.Report, error)
}

// Summary is the common shape of every sweep result
type Summary struct {
	Sweep     string
	Range     shared.DateRange
	Processed int
	Updated   int
	Skipped   int
	Errors    int
	Elapsed   time.Duration
}

// Service runs sweeps on demand
type Service struct {
	reconciler Reconciler
	matcher    ProductMatcher
	monitor    QualityMonitor
	locker     cache.SweepLocker
	lockTTL    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithLocker sets the sweep locker. The default only guards this process.
func WithLocker(l cache.SweepLocker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLockTTL bounds how long a crashed sweep keeps its lock. A running
// sweep refreshes it.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
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

// NewService creates a trigger service
func NewService(reconciler Reconciler, matcher ProductMatcher, monitor QualityMonitor, opts ...Option) *Service {
	s := &Service{
		reconciler: reconciler,
		matcher:    matcher,
		monitor:    monitor,
		locker:     cache.NewLocalSweepLocker(),
		lockTTL:    defaultLockTTL,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunReconciliation runs one reconciliation sweep over r
func (s *Service) RunReconciliation(ctx context.Context, r shared.DateRange) (Summary, error) {
	return s.locked(ctx, reconciliation.SweepName, r, func(ctx context.Context) (Summary, error) {
		res, err := s.reconciler.Run(ctx, r)
		return Summary{
			Processed: res.Processed,
			Updated:   res.Updated,
			Skipped:   res.Skipped,
			Errors:    res.Errors,
		}, err
	})
}

// RunMatching runs one matching sweep over r. Lines without SKU and lines
// linked by a concurrent sweep count as skipped.
func (s *Service) RunMatching(ctx context.Context, r shared.DateRange) (Summary, error) {
	return s.locked(ctx, matching.SweepName, r, func(ctx context.Context) (Summary, error) {
		res, err := s.matcher.Run(ctx, r)
		return Summary{
			Processed: res.Processed,
			Updated:   res.Matched,
			Skipped:   res.NoSKU + res.Raced,
			Errors:    res.Errors,
		}, err
	})
}

// RunQualityReport counts quality problems over r. Processed is the number
// of lines inspected and Errors the number of issues found.
func (s *Service) RunQualityReport(ctx context.Context, r shared.DateRange) (quality.Report, Summary, error) {
	var report quality.Report
	summary, err := s.locked(ctx, quality.SweepName, r, func(ctx context.Context) (Summary, error) {
		var err error
		report, err = s.monitor.Run(ctx, r)
		return Summary{
			Processed: int(report.Counts.Total),
			Errors:    int(report.Issues()),
		}, err
	})
	return report, summary, err
}

// RunAll matches, then reconciles so fresh catalog links feed plan profit,
// while the quality report runs alongside. The first failure cancels the rest.
func (s *Service) RunAll(ctx context.Context, r shared.DateRange) ([]Summary, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var match, reconcile, report Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if match, err = s.RunMatching(gctx, r); err != nil {
			return err
		}
		reconcile, err = s.RunReconciliation(gctx, r)
		return err
	})
	g.Go(func() error {
		var err error
		_, report, err = s.RunQualityReport(gctx, r)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return []Summary{match, reconcile, report}, nil
}

func (s *Service) locked(ctx context.Context, sweep string, r shared.DateRange, run func(context.Context) (Summary, error)) (Summary, error) {
	if err := r.Validate(); err != nil {
		return Summary{}, err
	}
	ctx = logger.WithSweep(ctx, sweep)
	log := logger.Enrich(ctx, s.logger)

	release, err := s.locker.Acquire(ctx, sweep, s.lockTTL)
	if err != nil {
		if errors.Is(err, shared.ErrAlreadyLocked) {
			log.Info("Sweep already running elsewhere")
		}
		return Summary{}, err
	}
	defer func() {
		// the sweep context may be cancelled already
		err := release(context.WithoutCancel(ctx))
		switch {
		case errors.Is(err, cache.ErrLockLost):
			log.Error("Sweep lock lost while running", zap.Duration("ttl", s.lockTTL), zap.Error(err))
		case err != nil:
			log.Warn("Failed to release sweep lock", zap.Error(err))
		}
	}()

	started := s.now()
	summary, err := run(ctx)
	summary.Sweep = sweep
	summary.Range = r
	summary.Elapsed = s.now().Sub(started)
	return summary, err
}
