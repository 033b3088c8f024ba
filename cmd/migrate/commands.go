package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/salesledger/backend/internal/infrastructure/config"
	"github.com/salesledger/backend/internal/infrastructure/logger"
	"github.com/salesledger/backend/internal/infrastructure/migration"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultMigrationsPath = "migrations"

type options struct {
	path       string
	configPath string
	logLevel   string

	log *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Sales ledger schema migrations",
		Long: `Apply, roll back and inspect the ledger schema migrations.

The database comes from config.toml, overridable with LEDGER_DATABASE_HOST,
LEDGER_DATABASE_PORT, LEDGER_DATABASE_USER, LEDGER_DATABASE_PASSWORD,
LEDGER_DATABASE_DBNAME and LEDGER_DATABASE_SSLMODE. create and list only
touch the migrations directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync(opts.log)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.path, "path", "", "migrations directory (default ./migrations)")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.toml")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	cmd.AddCommand(
		newUpCommand(opts),
		newDownCommand(opts),
		newStepCommand(opts),
		newStatusCommand(opts),
		newForceCommand(opts),
		newCreateCommand(opts),
		newListCommand(opts),
	)
	return cmd
}

func (o *options) init() error {
	log, err := logger.New(&logger.Config{
		Level:      o.logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	o.log = log

	o.path, err = resolveMigrationsPath(o.path)
	return err
}

// withMigrator connects to the configured database and hands fn a migrator
func (o *options) withMigrator(fn func(m *migration.Migrator) error) error {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	m, err := migration.New(db, o.path, o.log)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func newUpCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMigrator((*migration.Migrator).Up)
		},
	}
}

func newDownCommand(opts *options) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("down drops every ledger table; pass --confirm")
			}
			return opts.withMigrator((*migration.Migrator).Down)
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm dropping every ledger table")
	return cmd
}

func newStepCommand(opts *options) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "step N",
		Short: "Apply the next N migrations, or roll back N with --down",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid step count %q", args[0])
			}
			if down {
				n = -n
			}
			return opts.withMigrator(func(m *migration.Migrator) error { return m.Steps(n) })
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back instead of applying")
	return cmd
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the applied version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withMigrator(func(m *migration.Migrator) error {
				st, err := m.Status()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "version %d of %d, %d pending\n", st.Version, st.Latest, st.Pending)
				if st.Dirty {
					fmt.Fprintln(out, "dirty: fix the failed migration, then run force")
				}
				return nil
			})
		},
	}
}

func newForceCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the migration version after fixing a dirty state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return opts.withMigrator(func(m *migration.Migrator) error { return m.Force(version) })
		},
	}
}

func newCreateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME [DESCRIPTION]",
		Short: "Create the next migration file pair",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			description := ""
			if len(args) == 2 {
				description = args[1]
			}
			mf, err := migration.CreateMigration(opts.path, args[0], description)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mf.UpPath)
			fmt.Fprintln(cmd.OutOrStdout(), mf.DownPath)
			return nil
		},
	}
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the migrations on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := migration.ListMigrations(opts.path)
			if err != nil {
				return err
			}
			for _, f := range files {
				suffix := ""
				if !f.HasDown {
					suffix = " (no down)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", f, suffix)
			}
			return nil
		},
	}
}

// resolveMigrationsPath falls back to ./migrations, then to migrations two
// levels above the executable (bin/<os>/migrate layout).
func resolveMigrationsPath(path string) (string, error) {
	if path != "" {
		return filepath.Abs(path)
	}
	path = defaultMigrationsPath
	if _, err := os.Stat(path); err != nil {
		if exe, err := os.Executable(); err == nil {
			candidate := filepath.Join(filepath.Dir(exe), "..", "..", defaultMigrationsPath)
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}
	return filepath.Abs(path)
}
