package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nextmed-labs/trustledger/internal/app"
	"github.com/nextmed-labs/trustledger/pkg/config"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

// The standalone worker drives outbox ticks against the shared database. Run more than one
// only with TRUSTLEDGER_SCHEDULER_DISTRIBUTED_LOCK enabled.
func main() {
	logg := logger.New(logger.Options{ServiceName: "scheduler-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "scheduler-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if !cfg.FeatureFlags.UsesDatabase() {
		logg.Error(context.Background(), "scheduler worker requires database persistence", errors.New("persistence is memory"))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := app.OpenInfra(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap infrastructure", err)
		os.Exit(1)
	}
	defer func() {
		if err := infra.Close(); err != nil {
			logg.Error(context.Background(), "error closing infrastructure", err)
		}
	}()

	svc, err := app.NewService(app.ServiceParams{
		Config: cfg,
		Logger: logg,
		DB:     infra.DB,
		Redis:  infra.Redis,
		PubSub: infra.PubSub,
	})
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": svc.Scheduler.Interval().String(),
		"locked":   cfg.Scheduler.DistributedLock && infra.Redis != nil,
	})
	logg.Info(ctx, "starting scheduler worker")

	if err := svc.RunScheduler(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "scheduler worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "scheduler worker shutting down gracefully")
}
