package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/coinmarket-backend/api"
	"github.com/angelmondragon/coinmarket-backend/api/routes"
	"github.com/angelmondragon/coinmarket-backend/internal/deposits"
	"github.com/angelmondragon/coinmarket-backend/internal/gatewaycustomers"
	"github.com/angelmondragon/coinmarket-backend/internal/ledger"
	"github.com/angelmondragon/coinmarket-backend/internal/orders"
	"github.com/angelmondragon/coinmarket-backend/internal/sellers"
	asaaswebhook "github.com/angelmondragon/coinmarket-backend/internal/webhooks/asaas"
	"github.com/angelmondragon/coinmarket-backend/internal/withdrawals"
	"github.com/angelmondragon/coinmarket-backend/pkg/asaas"
	"github.com/angelmondragon/coinmarket-backend/pkg/auth/session"
	"github.com/angelmondragon/coinmarket-backend/pkg/config"
	"github.com/angelmondragon/coinmarket-backend/pkg/db"
	"github.com/angelmondragon/coinmarket-backend/pkg/instance"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/metrics"
	"github.com/angelmondragon/coinmarket-backend/pkg/migrate"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/coinmarket-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Environment: cfg.App.Env,
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	revoker, err := session.NewRevoker(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session revoker", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	var (
		metricsHandler http.Handler
		settlement     *metrics.SettlementMetrics
	)
	if cfg.FeatureFlags.Metrics {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		settlement = metrics.NewSettlementMetrics(registry)
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	gatewayClient, err := asaas.NewClient(cfg.Asaas, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway client", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	ledgerStore := ledger.NewStore(gormDB)
	sellersRepo := sellers.NewRepository(gormDB)
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)

	ledgerService, err := ledger.NewService(dbClient, ledgerStore, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	sellersService, err := sellers.NewService(dbClient, sellersRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create sellers service", err)
		os.Exit(1)
	}

	customersService, err := gatewaycustomers.NewService(gatewaycustomers.NewRepository(gormDB), gatewayClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway customers service", err)
		os.Exit(1)
	}

	depositsService, err := deposits.NewService(deposits.ServiceParams{
		TxRunner:    dbClient,
		Ledger:      ledgerStore,
		Gateway:     gatewayClient,
		Customers:   customersService,
		Outbox:      outboxService,
		RateLimiter: redisClient,
		Metrics:     settlement,
		Logger:      logg,
		Settlement:  cfg.Settlement,
		Asaas:       cfg.Asaas,
		RateLimit:   cfg.RateLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create deposits service", err)
		os.Exit(1)
	}

	withdrawalsService, err := withdrawals.NewService(withdrawals.ServiceParams{
		TxRunner:   dbClient,
		Repo:       withdrawals.NewRepository(gormDB),
		Ledger:     ledgerStore,
		Sellers:    sellersService,
		Gateway:    gatewayClient,
		Outbox:     outboxService,
		Metrics:    settlement,
		Logger:     logg,
		Settlement: cfg.Settlement,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create withdrawals service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orders.ServiceParams{
		TxRunner: dbClient,
		Repo:     orders.NewRepository(gormDB),
		Sellers:  sellersRepo,
		Ledger:   ledgerStore,
		Outbox:   outboxService,
		Metrics:  settlement,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	webhookGuard, err := idempotency.NewGuard(redisClient, "asaas", cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	webhookService, err := asaaswebhook.NewService(asaaswebhook.ServiceParams{
		Deposits:    depositsService,
		Withdrawals: withdrawalsService,
		Guard:       webhookGuard,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID("api"),
	})
	logg.Info(ctx, "starting api server")

	server := api.NewServer(addr, routes.NewRouter(cfg, logg, routes.Dependencies{
		DB:             dbClient,
		Redis:          redisClient,
		Sessions:       revoker,
		Metrics:        metricsHandler,
		Deposits:       depositsService,
		Withdrawals:    withdrawalsService,
		Ledger:         ledgerService,
		Sellers:        sellersService,
		Orders:         ordersService,
		PaymentGateway: webhookService,
	}))

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
