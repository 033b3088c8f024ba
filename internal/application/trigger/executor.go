package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/scheduler"
	"go.uber.org/zap"
)

// Execute runs a scheduled sweep job. A sweep held by another process is
// not a failure and is not retried.
func (s *Service) Execute(ctx context.Context, job *scheduler.Job) error {
	var (
		summary Summary
		err     error
	)
	switch job.Kind {
	case scheduler.SweepReconcile:
		summary, err = s.RunReconciliation(ctx, job.Range)
	case scheduler.SweepMatch:
		summary, err = s.RunMatching(ctx, job.Range)
	case scheduler.SweepQuality:
		_, summary, err = s.RunQualityReport(ctx, job.Range)
	default:
		return scheduler.ErrInvalidSweepKind
	}
	if errors.Is(err, shared.ErrAlreadyLocked) {
		s.logger.Info("Skipping sweep held elsewhere",
			zap.String("job_id", job.ID.String()),
			zap.String("kind", string(job.Kind)),
		)
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("Scheduled sweep finished",
		zap.String("job_id", job.ID.String()),
		zap.String("kind", string(job.Kind)),
		zap.String("source", job.Source),
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
		zap.Duration("elapsed", summary.Elapsed.Round(time.Millisecond)),
	)
	return nil
}

var _ scheduler.JobExecutor = (*Service)(nil)
