// Package cli is the ledgerctl command line: ingestion from files, on-demand
// sweeps, ledger queries, raw store maintenance and the sweep worker.
package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/salesledger/backend/internal/infrastructure/config"
	"github.com/salesledger/backend/internal/infrastructure/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is the build version, set with -ldflags
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	env  func(opts *RootOptions) (*config.Config, *zap.Logger, error)
	open func(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...AppOption) (*App, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for ledgerctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{env: loadEnv, open: Connect})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ledgerctl",
		Short:   "Marketplace sales ledger",
		Long:    "Ingests marketplace documents into a unified sales ledger and runs its maintenance sweeps.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config.toml")

	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewReprocessCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewAggregateCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))

	return cmd
}

// loadEnv reads configuration and builds the process logger. Logs go to
// stderr unless a file is configured, so stdout stays parseable.
func loadEnv(opts *RootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFile(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	logCfg := &logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Service:    cfg.App.Name,
	}
	if logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// openApp loads the environment and connects the App
func (o *RootOptions) openApp(ctx context.Context, appOpts ...AppOption) (*App, error) {
	cfg, log, err := o.env(o)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	app, err := o.open(ctx, cfg, log, appOpts...)
	if err != nil {
		logger.Sync(log)
		return nil, WrapExitError(ExitCommandError, "failed to connect", err)
	}
	return app, nil
}
