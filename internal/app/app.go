package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"FeeSync/internal/config"
	"FeeSync/internal/domain"
	"FeeSync/internal/httpapi"
	"FeeSync/internal/infrastructure/archive"
	"FeeSync/internal/infrastructure/billing"
	"FeeSync/internal/infrastructure/locker"
	"FeeSync/internal/infrastructure/notify"
	"FeeSync/internal/infrastructure/scheduler"
	"FeeSync/internal/infrastructure/source"
	"FeeSync/internal/infrastructure/storage"
	"FeeSync/internal/infrastructure/telegram"
	"FeeSync/internal/logging"
	"FeeSync/internal/policy"
	"FeeSync/internal/ports"
	"FeeSync/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	ledger    storage.Repository
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	closers   []func(context.Context) error
}

// New connects every configured adapter. Optional adapters (Redis, AMQP,
// Telegram, MinIO) are skipped when their address is empty.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	if err := a.wire(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *Application) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	if err := scheduler.Validate(cfg.Scheduler.CronExpression); err != nil {
		return err
	}

	transport := source.NewTransport(cfg.Source, nil, logger.With("component", "source.transport"))
	feed := source.NewFeedClient(transport, cfg.Source, logger.With("component", "source.feed"))
	encounters, err := source.NewEncounterClient(transport, logger.With("component", "source.encounter"))
	if err != nil {
		return fmt.Errorf("encounter client: %w", err)
	}

	ledger, err := a.billingLedger()
	if err != nil {
		return err
	}

	strategy, err := policy.DefaultRegistry().Resolve(cfg.Sync.CustomerPolicy)
	if err != nil {
		return err
	}

	repo, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open sync ledger: %w", err)
	}
	a.ledger = repo
	a.closers = append(a.closers, repo.Close)

	locks, err := a.locker(ctx)
	if err != nil {
		return err
	}

	var publisher ports.OutcomePublisher
	if cfg.Notifications.AMQP.URL != "" {
		p, err := notify.NewAMQPPublisher(ctx, cfg.Notifications.AMQP.URL, cfg.Notifications.AMQP.Queue, logger.With("component", "notify.amqp"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return p.Close() })
		publisher = p
	}

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" && cfg.Notifications.Telegram.ChatID != "" {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	var reports ports.ReportArchive
	if cfg.Archive.Minio.Endpoint != "" {
		store, err := archive.NewMinioArchive(ctx, cfg.Archive.Minio)
		if err != nil {
			return err
		}
		reports = store
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Feed:       feed,
		Encounters: encounters,
		Extractor:  usecase.NewFeeExtractor(cfg.Sync.Mappings(), logger.With("component", "extractor")),
		Resolver:   usecase.NewReconciliationResolver(ledger, strategy, domain.ProductMissPolicy(cfg.Sync.ProductMissPolicy), logger.With("component", "resolver")),
		Composer:   usecase.NewOrderComposer(ledger, cfg.Billing.PriceListID, cfg.Billing.ShopID),
		Gate:       usecase.NewSyncLedgerGate(repo, domain.GatePolicy(cfg.Sync.GatePolicy)),
		Ledger:     repo,
		Locker:     locks,
		Publisher:  publisher,
		Notifier:   notifier,
		Archive:    reports,
		Workers:    cfg.Sync.Workers,
		DryRun:     cfg.Sync.DryRun,
		LockTTL:    cfg.Lock.TTL,
		Logger:     logger,
	})

	driver := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location(), logger.With("component", "cron"))
	a.scheduler = usecase.NewScheduler(driver, a.pipeline, logger)
	return nil
}

func (a *Application) billingLedger() (ports.BillingLedger, error) {
	var ledger ports.BillingLedger
	switch a.cfg.Billing.Driver {
	case "memory":
		ledger = billing.NewMemoryLedger()
	case "odoo", "":
		ledger = billing.NewOdooClient(a.cfg.Billing.Odoo, a.logger.With("component", "billing.odoo"))
	default:
		return nil, fmt.Errorf("unknown billing driver %q", a.cfg.Billing.Driver)
	}
	if a.cfg.Sync.DryRun {
		ledger = usecase.NewDryRunLedger(ledger)
	}
	return ledger, nil
}

func (a *Application) locker(ctx context.Context) (ports.Locker, error) {
	if a.cfg.Lock.RedisAddr == "" {
		return locker.NewLocalLocker(), nil
	}
	client, err := locker.DialRedis(ctx, a.cfg.Lock.RedisAddr, a.cfg.Lock.RedisPassword)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	return locker.NewRedisLocker(client, a.logger.With("component", "locker.redis")), nil
}

// Migrate prepares the sync ledger schema.
func (a *Application) Migrate(ctx context.Context) error {
	if err := a.ledger.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate sync ledger: %w", err)
	}
	a.logger.Info("sync ledger migrated")
	return nil
}

// RunOnce performs a single sync pass.
func (a *Application) RunOnce(ctx context.Context) (domain.RunReport, error) {
	return a.pipeline.Run(ctx)
}

// Serve runs the scheduler and the admin API until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if a.cfg.HTTP.APIKey == "" {
		a.logger.Warn("admin api runs without an api key")
	}
	srv := &http.Server{
		Addr: a.cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Runner:    a.pipeline,
			Ledger:    a.ledger,
			APIKey:    a.cfg.HTTP.APIKey,
			RateLimit: a.cfg.HTTP.RateLimit,
			Logger:    a.logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("admin api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("admin api shutdown", "error", err)
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("admin api: %w", serveErr)
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
