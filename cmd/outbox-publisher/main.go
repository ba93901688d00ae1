package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dispatchboard/dispatchboard-backend/internal/cron"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/internal/fanout"
	"github.com/dispatchboard/dispatchboard-backend/pkg/config"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/metrics"
	"github.com/dispatchboard/dispatchboard-backend/pkg/migrate"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox/idempotency"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox/registry"
	"github.com/dispatchboard/dispatchboard-backend/pkg/pubsub"
	"github.com/dispatchboard/dispatchboard-backend/pkg/redis"
)

const leaseName = "outbox-publisher:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "outbox-publisher"

	logg = logger.New(logger.Options{
		ServiceName: "outbox-publisher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
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

	alertParams := fanout.AlertDispatcherParams{
		Logger:  logg,
		Metrics: metrics.NewFanoutMetrics(prometheus.DefaultRegisterer),
		Enabled: cfg.FeatureFlags.PushAlerts,
	}
	if cfg.FeatureFlags.PushAlerts {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub client", err)
			}
		}()

		claims, err := idempotency.NewManager(redisClient, cfg.Fanout.AlertClaimTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create alert claims", err)
			os.Exit(1)
		}
		alertParams.Publisher = pubsubClient
		alertParams.Preferences = directory.NewRepository(dbClient.DB())
		alertParams.Claims = claims
	}
	alerts, err := fanout.NewAlertDispatcher(alertParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create alert dispatcher", err)
		os.Exit(1)
	}

	eventRegistry, err := registry.NewEventRegistry(cfg.Fanout)
	if err != nil {
		logg.Error(context.Background(), "failed to build event registry", err)
		os.Exit(1)
	}
	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	lease, err := cron.NewRedisLock(redisClient, redisClient.LockKey(fmt.Sprintf(leaseName, env)), cfg.Outbox.LeaseTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create drain lease", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Channel:       redisClient,
		Alerts:        alerts,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Lease:         lease,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox publisher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"channel":     cfg.Fanout.Channel,
	})
	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
