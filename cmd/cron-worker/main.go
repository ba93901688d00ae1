package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dispatchboard/dispatchboard-backend/internal/activity"
	"github.com/dispatchboard/dispatchboard-backend/internal/assignments"
	"github.com/dispatchboard/dispatchboard-backend/internal/cron"
	"github.com/dispatchboard/dispatchboard-backend/internal/deadlines"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/pkg/config"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/metrics"
	"github.com/dispatchboard/dispatchboard-backend/pkg/migrate"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox"
	"github.com/dispatchboard/dispatchboard-backend/pkg/redis"
)

const lockName = "cron-worker:%s"

func main() {
	runJob := flag.String("job", "", "run the named job once and exit")
	once := flag.Bool("once", false, "run one full cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	dir := directory.NewRepository(dbClient.DB())
	resolver, err := assignments.NewResolver(dir, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create assignment resolver", err)
		os.Exit(1)
	}
	outboxRepo := outbox.NewRepository(dbClient.DB())
	ledger, err := activity.NewService(activity.ServiceParams{
		DB:        dbClient,
		Repo:      activity.NewRepository(dbClient.DB()),
		Directory: dir,
		Outbox:    outbox.NewService(outboxRepo, logg),
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create activity ledger", err)
		os.Exit(1)
	}

	scanner, err := deadlines.NewScanner(deadlines.ScannerParams{
		Logger:    logg,
		Directory: dir,
		Resolver:  resolver,
		Ledger:    ledger,
		Metrics:   metrics.NewDeadlineMetrics(prometheus.DefaultRegisterer),
		Lookahead: cfg.Deadlines.Lookahead,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create deadline scanner", err)
		os.Exit(1)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockKey(cfg.App.Env)), cfg.Deadlines.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(scanner, retention)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Deadlines.ScanInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	switch {
	case *runJob != "":
		if err := service.RunJob(logg.WithField(ctx, "trigger", "manual"), *runJob); err != nil {
			logg.Error(ctx, "cron job run failed", err)
			os.Exit(1)
		}
		return
	case *once:
		if err := service.RunOnce(logg.WithField(ctx, "trigger", "manual")); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockName, env)
}
