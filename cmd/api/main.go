package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dispatchboard/dispatchboard-backend/api/routes"
	"github.com/dispatchboard/dispatchboard-backend/internal/activity"
	"github.com/dispatchboard/dispatchboard-backend/internal/assignments"
	"github.com/dispatchboard/dispatchboard-backend/internal/chatrooms"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/internal/fanout"
	"github.com/dispatchboard/dispatchboard-backend/internal/jobs"
	"github.com/dispatchboard/dispatchboard-backend/internal/notifications"
	"github.com/dispatchboard/dispatchboard-backend/internal/statusrequests"
	"github.com/dispatchboard/dispatchboard-backend/pkg/config"
	"github.com/dispatchboard/dispatchboard-backend/pkg/db"
	"github.com/dispatchboard/dispatchboard-backend/pkg/instance"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	"github.com/dispatchboard/dispatchboard-backend/pkg/metrics"
	"github.com/dispatchboard/dispatchboard-backend/pkg/migrate"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox"
	"github.com/dispatchboard/dispatchboard-backend/pkg/redis"
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

	deps, err := buildDeps(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	relay, err := fanout.NewRedisRelay(redisClient, deps.Bus, cfg.Fanout.Channel, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create fanout relay", err)
		os.Exit(1)
	}

	addr := ":" + cfg.App.Port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})

	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "fanout relay stopped", err)
		}
	}()

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Close the bus first so open streams get a going-away frame.
		deps.Bus.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shutting down gracefully")
}

func buildDeps(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Deps, error) {
	dir := directory.NewRepository(dbClient.DB())
	resolver, err := assignments.NewResolver(dir, logg)
	if err != nil {
		return routes.Deps{}, err
	}
	ledger, err := activity.NewService(activity.ServiceParams{
		DB:        dbClient,
		Repo:      activity.NewRepository(dbClient.DB()),
		Directory: dir,
		Outbox:    outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:    logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}
	notificationSvc, err := notifications.NewService(ledger, dir, logg)
	if err != nil {
		return routes.Deps{}, err
	}
	statusSvc, err := statusrequests.NewService(dbClient, ledger, resolver, logg)
	if err != nil {
		return routes.Deps{}, err
	}
	chatSvc, err := chatrooms.NewService(dbClient, chatrooms.NewRepository(dbClient.DB()), dir, logg)
	if err != nil {
		return routes.Deps{}, err
	}
	jobSvc, err := jobs.NewService(dbClient, jobs.NewRepository(dbClient.DB()), dir, ledger, logg)
	if err != nil {
		return routes.Deps{}, err
	}

	bus := fanout.NewBus(fanout.BusParams{
		Logger:           logg,
		Metrics:          metrics.NewFanoutMetrics(prometheus.DefaultRegisterer),
		SubscriberBuffer: cfg.Fanout.SubscriberBuffer,
		DedupeWindow:     cfg.Fanout.DedupeWindow,
	})

	return routes.Deps{
		DB:             dbClient,
		Redis:          redisClient,
		Idempotency:    redisClient,
		Directory:      dir,
		Ledger:         ledger,
		Notifications:  notificationSvc,
		StatusRequests: statusSvc,
		ChatRooms:      chatSvc,
		Jobs:           jobSvc,
		Bus:            bus,
	}, nil
}
