package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/coinmarket-backend/internal/analytics/router"
	"github.com/angelmondragon/coinmarket-backend/internal/analytics/types"
	"github.com/angelmondragon/coinmarket-backend/internal/analytics/worker"
	"github.com/angelmondragon/coinmarket-backend/internal/analytics/writer"
	"github.com/angelmondragon/coinmarket-backend/pkg/bigquery"
	"github.com/angelmondragon/coinmarket-backend/pkg/config"
	"github.com/angelmondragon/coinmarket-backend/pkg/instance"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/coinmarket-backend/pkg/pubsub"
	"github.com/angelmondragon/coinmarket-backend/pkg/redis"
)

const serviceKind = "analytics-worker"

func main() {
	_ = godotenv.Load()

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
	})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "settlement export worker failed", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "settlement export worker stopped")
}

// run streams settlement events from the subscription into BigQuery until
// ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return resourceErr("redis", err)
	}
	defer closeWith(ctx, logg, "redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return resourceErr("pubsub", err)
	}
	defer closeWith(ctx, logg, "pubsub", pubsubClient.Close)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return resourceErr("bigquery", err)
	}
	defer closeWith(ctx, logg, "bigquery", bqClient.Close)

	if err := bqClient.EnsureTable(ctx, bigquery.TableSpec{
		Name:           cfg.BigQuery.SettlementEventsTable,
		Schema:         types.SettlementSchema(),
		PartitionField: "occurred_at",
	}); err != nil {
		return resourceErr("settlement events table", err)
	}

	subscription := pubsubClient.SettlementSubscription()
	if subscription == nil {
		return resourceErr("settlement subscription", errors.New("subscription not configured"))
	}
	if cfg.PubSub.MaxOutstanding > 0 {
		subscription.ReceiveSettings.MaxOutstandingMessages = cfg.PubSub.MaxOutstanding
	}

	guard, err := idempotency.NewGuard(redisClient, worker.ConsumerName, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return resourceErr("idempotency guard", err)
	}
	exportWriter, err := writer.New(bqClient, writer.Config{
		SettlementTable: cfg.BigQuery.SettlementEventsTable,
		Attempts:        cfg.BigQuery.InsertAttempts,
	})
	if err != nil {
		return resourceErr("bigquery writer", err)
	}
	routingHandler, err := router.NewRouter(exportWriter, logg, nil)
	if err != nil {
		return resourceErr("export router", err)
	}
	service, err := worker.NewService(subscription, routingHandler, guard, logg)
	if err != nil {
		return resourceErr("export service", err)
	}

	logg.Info(ctx, "settlement export worker ready")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func resourceErr(resource string, err error) error {
	return fmt.Errorf("resource not working: %s: %w", resource, err)
}

func closeWith(ctx context.Context, logg *logger.Logger, resource string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.WithoutCancel(ctx), "failed to close "+resource, err)
	}
}
