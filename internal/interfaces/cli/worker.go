package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/salesledger/backend/internal/application/ingestion"
	"github.com/salesledger/backend/internal/application/trigger"
	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// WorkerOptions holds flags for the worker command.
type WorkerOptions struct {
	*RootOptions
	Inbox        string
	PollInterval time.Duration
	RunNow       bool
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the sweep scheduler until interrupted",
		Long: `Run the sweep worker pool. With scheduler.enabled the daily pass queues
matching, reconciliation and the quality report over the trailing window.

With --inbox the worker also ingests envelope files dropped in a directory.
Processed files move to done/, unreadable ones to failed/, and every batch
that wrote ledger lines queues matching and reconciliation for its sale dates.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Inbox, "inbox", "", "directory polled for envelope files")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", 30*time.Second, "inbox poll interval")
	cmd.Flags().BoolVar(&opts.RunNow, "run-now", false, "queue all sweeps over the trailing window at start")

	return cmd
}

// lateExecutor lets the scheduler exist before the services it runs
type lateExecutor struct {
	svc *trigger.Service
}

func (e *lateExecutor) Execute(ctx context.Context, job *scheduler.Job) error {
	return e.svc.Execute(ctx, job)
}

func runWorker(opts *WorkerOptions, cmd *cobra.Command) error {
	if opts.Inbox != "" && opts.PollInterval <= 0 {
		return NewExitError(ExitCommandError, "--poll-interval must be positive")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := opts.env(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	exec := &lateExecutor{}
	sched := scheduler.NewScheduler(scheduler.ConfigFrom(cfg.Scheduler), exec, log)
	app, err := opts.open(ctx, cfg, log, WithSweepHook(scheduler.NewIngestHook(sched, log)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	exec.svc = app.Trigger

	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	}
	defer func() {
		sctx, cancel := shutdownCtx()
		defer cancel()
		if err := app.Close(sctx); err != nil {
			log.Warn("Failed to close resources", zap.Error(err))
		}
	}()

	if err := sched.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start scheduler", err)
	}
	defer func() {
		sctx, cancel := shutdownCtx()
		defer cancel()
		_ = sched.Stop(sctx)
	}()

	if cfg.Scheduler.Enabled {
		cron := scheduler.NewCronTrigger(scheduler.CronTriggerConfigFrom(cfg.Scheduler, cfg.LedgerLocation()), sched, log)
		if err := cron.Start(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to start cron trigger", err)
		}
		defer func() {
			sctx, cancel := shutdownCtx()
			defer cancel()
			_ = cron.Stop(sctx)
		}()
	}

	if opts.RunNow {
		window := shared.TrailingDays(time.Now().In(cfg.LedgerLocation()), cfg.Scheduler.WindowDays)
		if err := sched.ScheduleSweeps(window, scheduler.SourceManual); err != nil {
			log.Warn("Failed to queue initial sweeps", zap.Error(err))
		}
	}

	log.Info("Worker started",
		zap.Bool("daily_pass", cfg.Scheduler.Enabled),
		zap.String("inbox", opts.Inbox),
		zap.String("version", Version),
	)

	if opts.Inbox != "" {
		box := &inbox{dir: opts.Inbox, svc: app.Ingestion, logger: log}
		box.poll(ctx, opts.PollInterval)
	} else {
		<-ctx.Done()
	}

	log.Info("Worker shutting down")
	return nil
}

// inbox ingests envelope files dropped in a directory
type inbox struct {
	dir    string
	svc    *ingestion.Service
	logger *zap.Logger
}

func (b *inbox) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := b.drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("Failed to drain inbox", zap.String("dir", b.dir), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain ingests every envelope file in the inbox, oldest name first, and
// moves it out of the way. It returns the number of files handled.
func (b *inbox) drain(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		name := entry.Name()
		if !entry.Type().IsRegular() || !isEnvelopeFile(name) {
			continue
		}

		path := filepath.Join(b.dir, name)
		res, err := ingestFile(ctx, b.svc, path)
		if ctx.Err() != nil {
			// interrupted mid-file; the next run ingests it again
			return handled, ctx.Err()
		}
		target := "done"
		if err != nil {
			target = "failed"
			b.logger.Error("Inbox file rejected", zap.String("file", name), zap.Error(err))
		} else {
			b.logger.Info("Inbox file ingested",
				zap.String("file", name),
				zap.Int("total", res.Total),
				zap.Int("ingested", res.Ingested),
				zap.Int("entries", res.Entries),
			)
		}
		if err := b.move(name, target); err != nil {
			return handled, err
		}
		handled++
	}
	return handled, nil
}

func (b *inbox) move(name, target string) error {
	dir := filepath.Join(b.dir, target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.Rename(filepath.Join(b.dir, name), filepath.Join(dir, name))
}

func isEnvelopeFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".json" || ext == ".jsonl"
}
