package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/coinmarket-backend/api"
	"github.com/angelmondragon/coinmarket-backend/internal/cron"
	"github.com/angelmondragon/coinmarket-backend/internal/ledger"
	"github.com/angelmondragon/coinmarket-backend/internal/sellers"
	"github.com/angelmondragon/coinmarket-backend/internal/withdrawals"
	"github.com/angelmondragon/coinmarket-backend/pkg/asaas"
	"github.com/angelmondragon/coinmarket-backend/pkg/config"
	"github.com/angelmondragon/coinmarket-backend/pkg/db"
	"github.com/angelmondragon/coinmarket-backend/pkg/instance"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/metrics"
	"github.com/angelmondragon/coinmarket-backend/pkg/migrate"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox"
	"github.com/angelmondragon/coinmarket-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: serviceKind}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Environment: cfg.App.Env,
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"instance":    instance.GetID(serviceKind),
		"once":        *once,
	})

	if err := run(ctx, cfg, logg, *once); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, once bool) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWith(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWith(ctx, logg, "redis", redisClient.Close)

	var (
		jobMetrics *metrics.JobMetrics
		settlement *metrics.SettlementMetrics
	)
	// a one-shot run exits before anything could scrape it
	if cfg.FeatureFlags.Metrics && !once {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		jobMetrics = metrics.NewJobMetrics(promRegistry)
		settlement = metrics.NewSettlementMetrics(promRegistry)

		mux := chi.NewRouter()
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		metricsServer := api.NewServer(":"+cfg.App.Port, mux)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "metrics server stopped", err)
			}
		}()
		defer closeWith(ctx, logg, "metrics server", metricsServer.Close)
	}

	gatewayClient, err := asaas.NewClient(cfg.Asaas, logg)
	if err != nil {
		return fmt.Errorf("create payment gateway client: %w", err)
	}

	registry, err := scheduleJobs(cfg, logg, dbClient, gatewayClient, jobMetrics, settlement)
	if err != nil {
		return err
	}

	lock, err := cron.NewRedisLock(redisClient, cron.LockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("create cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  jobMetrics,
		Tick:     cfg.Cron.Tick,
	})
	if err != nil {
		return fmt.Errorf("create cron service: %w", err)
	}

	if once {
		return service.RunOnce(ctx)
	}
	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// scheduleJobs builds the sweeps and registers each at its cadence. Order
// matters: the stall report runs first so a slow reconcile never delays it.
func scheduleJobs(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	gateway *asaas.Client,
	jobMetrics *metrics.JobMetrics,
	settlement *metrics.SettlementMetrics,
) (*cron.Registry, error) {
	gormDB := dbClient.DB()
	ledgerStore := ledger.NewStore(gormDB)
	outboxRepo := outbox.NewRepository(gormDB)

	ledgerService, err := ledger.NewService(dbClient, ledgerStore, logg)
	if err != nil {
		return nil, fmt.Errorf("create ledger service: %w", err)
	}
	sellersService, err := sellers.NewService(dbClient, sellers.NewRepository(gormDB), logg)
	if err != nil {
		return nil, fmt.Errorf("create sellers service: %w", err)
	}
	withdrawalsService, err := withdrawals.NewService(withdrawals.ServiceParams{
		TxRunner:   dbClient,
		Repo:       withdrawals.NewRepository(gormDB),
		Ledger:     ledgerStore,
		Sellers:    sellersService,
		Gateway:    gateway,
		Outbox:     outbox.NewService(outboxRepo, logg),
		Metrics:    settlement,
		Logger:     logg,
		Settlement: cfg.Settlement,
	})
	if err != nil {
		return nil, fmt.Errorf("create withdrawals service: %w", err)
	}

	stallJob, err := cron.NewWithdrawalStallJob(cron.WithdrawalStallJobParams{
		Logger:      logg,
		Withdrawals: withdrawalsService,
		Metrics:     jobMetrics,
		MinAge:      cfg.Cron.StalledWithdrawalAge,
		Limit:       cfg.Cron.StalledWithdrawalLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create withdrawal stall job: %w", err)
	}
	reconcileJob, err := cron.NewLedgerReconcileJob(cron.LedgerReconcileJobParams{
		Logger:     logg,
		Accounts:   ledger.NewAccountScanner(gormDB),
		Reconciler: ledgerService,
		Metrics:    jobMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create ledger reconcile job: %w", err)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		DB:           dbClient,
		Events:       outboxRepo,
		DeadLetters:  outbox.NewDLQRepository(gormDB),
		Metrics:      jobMetrics,
		Retention:    cfg.Cron.OutboxRetentionDays,
		DLQRetention: cfg.Cron.DLQRetentionDays,
		MinAttempts:  cfg.Outbox.MaxAttempts,
		BatchSize:    cfg.Cron.RetentionBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create outbox retention job: %w", err)
	}

	registry := cron.NewRegistry()
	schedule := []struct {
		job   cron.Job
		every time.Duration
	}{
		{stallJob, cfg.Cron.StallReportEvery},
		{reconcileJob, cfg.Cron.ReconcileEvery},
		{retentionJob, cfg.Cron.RetentionEvery},
	}
	for _, entry := range schedule {
		if err := registry.Add(entry.job, entry.every); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", entry.job.Name(), err)
		}
	}
	return registry, nil
}

func closeWith(ctx context.Context, logg *logger.Logger, resource string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.WithoutCancel(ctx), "error closing "+resource, err)
	}
}
