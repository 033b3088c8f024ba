package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Job sources
const (
	SourceDaily  = "daily"
	SourceIngest = "ingest"
	SourceManual = "manual"
)

// CronTriggerConfig holds configuration for the daily trigger
type CronTriggerConfig struct {
	// DailyHour and DailyMinute are the time of the daily pass in Location
	DailyHour   int
	DailyMinute int

	// Location is the ledger zone; the window ends on today's date there.
	// Nil keeps the clock's own zone.
	Location *time.Location

	// WindowDays is how many days back from today the daily pass covers
	WindowDays int

	// CheckInterval is how often the clock is checked
	CheckInterval time.Duration
}

// DefaultCronTriggerConfig returns default cron trigger configuration
func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{
		DailyHour:     3,
		DailyMinute:   0,
		WindowDays:    30,
		CheckInterval: time.Minute,
	}
}

// CronTriggerConfigFrom maps the application settings onto a trigger config
func CronTriggerConfigFrom(cfg config.SchedulerConfig, loc *time.Location) CronTriggerConfig {
	c := DefaultCronTriggerConfig()
	c.Location = loc
	c.DailyHour = cfg.DailyHour
	c.DailyMinute = cfg.DailyMinute
	if cfg.WindowDays > 0 {
		c.WindowDays = cfg.WindowDays
	}
	return c
}

// CronTrigger queues a full sweep pass over the trailing window once a day
type CronTrigger struct {
	config    CronTriggerConfig
	scheduler *Scheduler
	logger    *zap.Logger
	now       func() time.Time

	life    lifecycle
	mu      sync.Mutex
	lastRun string // date of the last daily pass
}

// NewCronTrigger creates a new cron trigger
func NewCronTrigger(config CronTriggerConfig, scheduler *Scheduler, logger *zap.Logger) *CronTrigger {
	return &CronTrigger{
		config:    config,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
	}
}

// Start begins checking the clock every CheckInterval.
func (c *CronTrigger) Start(ctx context.Context) error {
	if !c.life.start(ctx, c.tick) {
		return nil
	}
	c.logger.Info("Daily sweep trigger started",
		zap.String("at", fmt.Sprintf("%02d:%02d", c.config.DailyHour, c.config.DailyMinute)),
		zap.Int("window_days", c.config.WindowDays),
	)
	return nil
}

// Stop ends the clock checks.
func (c *CronTrigger) Stop(ctx context.Context) error {
	stopped, err := c.life.stop(ctx)
	if stopped && err == nil {
		c.logger.Info("Daily sweep trigger stopped")
	}
	return err
}

func (c *CronTrigger) tick(ctx context.Context) {
	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAndTrigger()
		}
	}
}

// checkAndTrigger queues the daily pass once the configured time is reached
func (c *CronTrigger) checkAndTrigger() bool {
	now := c.local(c.now())
	today := now.Format(time.DateOnly)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastRun == today || now.Hour() != c.config.DailyHour || now.Minute() != c.config.DailyMinute {
		return false
	}
	c.lastRun = today

	c.logger.Info("Queueing daily sweeps", zap.String("date", today))
	if err := c.scheduler.ScheduleSweeps(c.Window(now), SourceDaily); err != nil {
		c.logger.Error("Failed to schedule daily sweeps", zap.Error(err))
	}
	return true
}

// Window returns the trailing date range of the daily pass ending at now
func (c *CronTrigger) Window(now time.Time) shared.DateRange {
	return shared.TrailingDays(c.local(now), c.config.WindowDays)
}

func (c *CronTrigger) local(t time.Time) time.Time {
	if c.config.Location == nil {
		return t
	}
	return t.In(c.config.Location)
}

// IngestHook queues follow-up sweeps for the sale dates an ingestion batch
// touched. It never blocks; a full queue drops the request with a warning.
type IngestHook struct {
	scheduler *Scheduler
	kinds     []SweepKind
	logger    *zap.Logger
}

// NewIngestHook creates a hook queuing the given sweeps, matching and
// reconciliation when none are given
func NewIngestHook(scheduler *Scheduler, logger *zap.Logger, kinds ...SweepKind) *IngestHook {
	if len(kinds) == 0 {
		kinds = []SweepKind{SweepMatch, SweepReconcile}
	}
	return &IngestHook{scheduler: scheduler, kinds: kinds, logger: logger}
}

// AfterIngest queues the sweeps over saleDates
func (h *IngestHook) AfterIngest(_ context.Context, saleDates shared.DateRange) {
	if err := h.scheduler.ScheduleSweeps(saleDates, SourceIngest, h.kinds...); err != nil {
		h.logger.Warn("Failed to queue sweeps after ingestion",
			zap.String("from", saleDates.From.Format(time.DateOnly)),
			zap.String("to", saleDates.To.Format(time.DateOnly)),
			zap.Error(err),
		)
	}
}
