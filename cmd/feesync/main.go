package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"FeeSync/internal/app"
	"FeeSync/internal/config"
	"FeeSync/internal/domain"
	"FeeSync/internal/logging"
)

var (
	configPath  string
	autoMigrate bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "feesync",
		Short:         "Sync encounter fees from the clinical feed into billing orders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (default $FEESYNC_CONFIG)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "feesync:", err)
		stop()
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Perform one sync pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(cfg *config.Config) {
				if dryRun {
					cfg.Sync.DryRun = true
				}
			}, func(ctx context.Context, a *app.Application) error {
				report, err := a.RunOnce(ctx)
				if err != nil {
					return err
				}
				if report.Failed > 0 {
					return fmt.Errorf("%d of %d encounters failed", report.Failed, report.Entries)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve orders without writing anything")
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "prepare the sync ledger schema first")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run on the configured cron schedule and expose the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), nil, func(ctx context.Context, a *app.Application) error {
				return a.Serve(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "prepare the sync ledger schema first")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the sync ledger tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), nil, func(ctx context.Context, a *app.Application) error {
				return a.Migrate(ctx)
			})
		},
	}
}

func withApp(ctx context.Context, adjust func(*config.Config), fn func(context.Context, *app.Application) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if adjust != nil {
		adjust(&cfg)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	if autoMigrate {
		if err := application.Migrate(ctx); err != nil {
			return err
		}
	}

	err = fn(ctx, application)
	if errors.Is(err, domain.ErrRunInProgress) {
		logger.Info("another run holds the lock, nothing to do")
		return nil
	}
	return err
}
