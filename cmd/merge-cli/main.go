// Package main provides the merge CLI entrypoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danjuanyang/psm-merge/internal/app"
	"github.com/danjuanyang/psm-merge/internal/config"
	"github.com/danjuanyang/psm-merge/internal/lifecycle"
	"github.com/danjuanyang/psm-merge/internal/observability"
	"github.com/danjuanyang/psm-merge/internal/storage"
)

const version = "0.3.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool
	noColor    bool

	// Configuration and logger
	cfg    *config.Config
	logger *observability.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "merge-cli",
	Short: "Merge CLI for document merge workers and administration",
	Long: `Merge CLI runs and administers the document merge pipeline.

Use this tool to:
- Apply database migrations
- Run queue workers and the temp-file janitor
- Register projects and source files
- Merge local PDF files with a live progress display
- Inspect merge jobs

All inspection commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}
		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      logFormat,
			Output:      os.Stderr,
			ServiceName: "merge-cli",
		})

		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("CONFIG_PATH"), "config file path (default: $CONFIG_PATH, then env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newJanitorCmd())
	rootCmd.AddCommand(newCatalogCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Apply the embedded schema migrations to the configured database.
Use --status to list applied and pending migrations without changing anything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			ui := NewUI(outputJSON, noColor)

			db, err := storage.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			mgr := storage.NewMigrationManager(db, cfg.Database.Driver)

			var status *storage.MigrationStatus
			if statusOnly {
				status, err = mgr.CheckMigrations(ctx)
			} else {
				s := ui.Spinner(fmt.Sprintf("Migrating %s database", cfg.Database.Driver))
				s.Start()
				status, err = mgr.Migrate(ctx)
				s.Stop()
			}
			if err != nil {
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(status)
			}

			if statusOnly {
				ui.Info("%d of %d migrations applied on %s", len(status.Applied), status.Total, cfg.Database.Driver)
				for _, name := range status.Pending {
					ui.Warning("pending: %s", name)
				}
				return nil
			}
			if len(status.Pending) == 0 {
				ui.Success("Database is up to date (%d migrations)", status.Total)
				return nil
			}
			for _, name := range status.Pending {
				ui.Step("applied %s", name)
			}
			ui.Success("Migrations applied on %s", cfg.Database.Driver)
			return nil
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status", false, "list migrations without applying them")

	return cmd
}

// newWorkerCmd creates the worker subcommand.
func newWorkerCmd() *cobra.Command {
	var withJanitor bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume merge jobs from the redis queue",
		Long: `Worker pops merge tasks from the configured redis queue and runs them
until interrupted. Workers fetch one task at a time; queue.workers sets how many
run in parallel.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ui := NewUI(outputJSON, noColor)

			a, err := app.New(ctx, cfg, logger, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Consume(ctx); err != nil {
				return err
			}
			if withJanitor {
				go a.Lifecycle.RunJanitor(ctx, cfg.Storage.JanitorInterval)
			}

			ui.Success("Worker consuming %q with %d workers", cfg.Queue.Name, cfg.Queue.Workers)
			<-ctx.Done()
			ui.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
			defer cancel()
			a.Shutdown(shutdownCtx)
			return nil
		},
	}

	cmd.Flags().BoolVar(&withJanitor, "janitor", false, "also sweep expired temp files")

	return cmd
}

// newJanitorCmd creates the janitor subcommand.
func newJanitorCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Remove expired preview sessions and workspaces",
		Long: `Janitor deletes temp directories older than storage.retention. With --once
it sweeps a single time and reports what it freed; otherwise it sweeps every
storage.janitor_interval until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ui := NewUI(outputJSON, noColor)

			mgr, err := lifecycle.NewManager(cfg.Storage, logger)
			if err != nil {
				return err
			}

			if !once {
				ui.Info("Sweeping every %s (retention %s)", cfg.Storage.JanitorInterval, cfg.Storage.Retention)
				mgr.RunJanitor(ctx, cfg.Storage.JanitorInterval)
				return nil
			}

			res, err := mgr.Sweep(ctx, time.Now())
			if err != nil {
				return err
			}
			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(map[string]int64{
					"removed":     int64(res.Removed),
					"bytes_freed": res.BytesFreed,
				})
			}
			ui.Success("Removed %d directories, freed %s", res.Removed, FormatBytes(res.BytesFreed))
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "sweep once and exit")

	return cmd
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print a merge job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := NewUI(outputJSON, noColor)

			db, err := storage.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			job, err := storage.NewJobRepository(db).Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get job %s: %w", args[0], err)
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(job)
			}

			printJob(ui, job)
			return nil
		},
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.Encode(map[string]string{
					"version": version,
					"go":      runtime.Version(),
				})
				return
			}
			fmt.Printf("merge-cli v%s\n", version)
		},
	}
}
