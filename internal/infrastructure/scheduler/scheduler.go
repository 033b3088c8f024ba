package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

var (
	ErrNotRunning       = errors.New("scheduler is not running")
	ErrQueueFull        = errors.New("sweep queue is full")
	ErrInvalidSweepKind = errors.New("invalid sweep kind")
	ErrInvalidConfig    = errors.New("invalid scheduler configuration")
)

// SweepKind selects the ledger sweep a job runs
type SweepKind string

const (
	SweepMatch     SweepKind = "MATCH"
	SweepReconcile SweepKind = "RECONCILE"
	SweepQuality   SweepKind = "QUALITY"
)

// AllSweepKinds returns the sweeps of a full pass, matching first so
// reconciliation sees fresh catalog links
func AllSweepKinds() []SweepKind {
	return []SweepKind{SweepMatch, SweepReconcile, SweepQuality}
}

// IsValid checks if the kind is known
func (k SweepKind) IsValid() bool {
	switch k {
	case SweepMatch, SweepReconcile, SweepQuality:
		return true
	}
	return false
}

// ParseSweepKind accepts the kind name in any case
func ParseSweepKind(s string) (SweepKind, error) {
	k := SweepKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSweepKind, s)
	}
	return k, nil
}

// Job is one queued sweep run
type Job struct {
	ID         uuid.UUID
	Kind       SweepKind
	Range      shared.DateRange
	Source     string // what queued the job: daily, ingest, manual
	Attempts   int    // runs started so far
	MaxRetries int
	LastErr    error  // error of the latest failed run
	notBefore  time.Time
}

// NewJob creates a job that runs at most maxRetries+1 times
func NewJob(kind SweepKind, r shared.DateRange, source string, maxRetries int) *Job {
	return &Job{
		ID:         uuid.New(),
		Kind:       kind,
		Range:      r,
		Source:     source,
		MaxRetries: maxRetries,
	}
}

// retryAfter records a failed run and reports whether the job gets another
// one. A retried job does not start before now+delay.
func (j *Job) retryAfter(err error, now time.Time, delay time.Duration) bool {
	j.LastErr = err
	if j.Attempts > j.MaxRetries {
		return false
	}
	j.notBefore = now.Add(delay)
	return true
}

// dedupKey identifies jobs that would do the same work
func (j *Job) dedupKey() string {
	return fmt.Sprintf("%s:%s:%s", j.Kind, j.Range.From.Format(time.DateOnly), j.Range.To.Format(time.DateOnly))
}

// JobExecutor runs one sweep job
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// Config holds scheduler configuration
type Config struct {
	Enabled           bool
	MaxConcurrentJobs int
	QueueSize         int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MaxConcurrentJobs: 2,
		QueueSize:         100,
		JobTimeout:        30 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        5 * time.Minute,
	}
}

// ConfigFrom maps the application settings onto a scheduler config
func ConfigFrom(cfg config.SchedulerConfig) Config {
	c := DefaultConfig()
	c.Enabled = cfg.Enabled
	if cfg.MaxConcurrentJobs > 0 {
		c.MaxConcurrentJobs = cfg.MaxConcurrentJobs
	}
	if cfg.JobTimeout > 0 {
		c.JobTimeout = cfg.JobTimeout
	}
	c.RetryAttempts = max(cfg.RetryAttempts, 0)
	if cfg.RetryDelay > 0 {
		c.RetryDelay = cfg.RetryDelay
	}
	return c
}

// Validate checks the worker pool settings
func (c Config) Validate() error {
	if c.MaxConcurrentJobs <= 0 || c.QueueSize <= 0 || c.JobTimeout <= 0 || c.RetryAttempts < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Scheduler runs sweep jobs on a worker pool
type Scheduler struct {
	config   Config
	executor JobExecutor
	logger   *zap.Logger

	jobs   chan *Job
	life   lifecycle
	mu     sync.Mutex
	queued map[string]bool // dedup keys of waiting jobs
}

// NewScheduler creates a new scheduler instance
func NewScheduler(config Config, executor JobExecutor, logger *zap.Logger) *Scheduler {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	return &Scheduler{
		config:   config,
		executor: executor,
		logger:   logger,
		jobs:     make(chan *Job, config.QueueSize),
		queued:   make(map[string]bool),
	}
}

// Start launches the worker pool. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	workers := make([]func(context.Context), s.config.MaxConcurrentJobs)
	for i := range workers {
		workers[i] = func(ctx context.Context) { s.worker(ctx, i) }
	}
	if !s.life.start(ctx, workers...) {
		return nil
	}
	s.logger.Info("Sweep scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Int("queue_size", s.config.QueueSize),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running sweeps and waits for the workers to exit. Queued
// jobs are dropped.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped, err := s.life.stop(ctx)
	switch {
	case err != nil:
		s.logger.Warn("Sweep scheduler stop timed out", zap.Error(err))
	case stopped:
		s.logger.Info("Sweep scheduler stopped")
	}
	return err
}

// SubmitJob queues a job. A job equal in kind and range to one already
// waiting is dropped, so bursts of ingestion do not pile up sweeps.
func (s *Scheduler) SubmitJob(job *Job) error {
	if !s.life.running() {
		return ErrNotRunning
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := job.dedupKey()
	if s.queued[key] {
		s.logger.Debug("Equal sweep already queued",
			zap.String("kind", string(job.Kind)),
			zap.String("source", job.Source),
		)
		return nil
	}

	select {
	case s.jobs <- job:
		s.queued[key] = true
		s.logger.Debug("Job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("kind", string(job.Kind)),
			zap.String("source", job.Source),
		)
		return nil
	default:
		return ErrQueueFull
	}
}

// ScheduleSweep queues one sweep over r
func (s *Scheduler) ScheduleSweep(kind SweepKind, r shared.DateRange, source string) error {
	if !kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidSweepKind, kind)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	return s.SubmitJob(NewJob(kind, r, source, s.config.RetryAttempts))
}

// ScheduleSweeps queues the given sweeps over r, or all of them when none are given
func (s *Scheduler) ScheduleSweeps(r shared.DateRange, source string, kinds ...SweepKind) error {
	if len(kinds) == 0 {
		kinds = AllSweepKinds()
	}
	for _, kind := range kinds {
		if err := s.ScheduleSweep(kind, r, source); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) worker(ctx context.Context, workerID int) {
	s.logger.Debug("Worker started", zap.Int("worker_id", workerID))
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Worker stopping", zap.Int("worker_id", workerID))
			return
		case job := <-s.jobs:
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *Scheduler) processJob(ctx context.Context, job *Job, workerID int) {
	if wait := time.Until(job.notBefore); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	// from here on an equal job may be queued again
	s.mu.Lock()
	delete(s.queued, job.dedupKey())
	s.mu.Unlock()

	job.Attempts++
	log := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("kind", string(job.Kind)),
		zap.String("from", job.Range.From.Format(time.DateOnly)),
		zap.String("to", job.Range.To.Format(time.DateOnly)),
		zap.Int("attempt", job.Attempts),
	)
	log.Info("Sweep started", zap.String("source", job.Source))

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	err := s.executor.Execute(jobCtx, job)
	if err == nil {
		log.Info("Sweep finished")
		return
	}
	if ctx.Err() != nil {
		log.Warn("Sweep interrupted by shutdown", zap.Error(err))
		return
	}
	if !job.retryAfter(err, time.Now(), s.config.RetryDelay) {
		log.Error("Sweep failed, retries exhausted", zap.Error(err))
		return
	}
	log.Warn("Sweep failed, retrying", zap.Duration("delay", s.config.RetryDelay), zap.Error(err))
	if err := s.SubmitJob(job); err != nil {
		log.Error("Failed to queue sweep retry", zap.Error(err))
	}
}
