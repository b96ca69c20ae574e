// Package main is the trial expiry sweeper. It resets organizations whose
// trial has lapsed back to the free tier.
//
// By default it runs on the cron schedule from TRIAL_SWEEP_SCHEDULE. With
// -once it performs a single sweep and exits, which is the mode used by
// container-native schedulers. The sweep is idempotent, so overlapping or
// repeated runs are safe.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"flightdeck/internal/billing"
	"flightdeck/internal/config"
	"flightdeck/internal/db"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	if err := run(*once); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(once bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("trial sweeper starting",
		"environment", cfg.Environment,
		"once", once,
		"schedule", cfg.Trial.SweepSchedule,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	orgRepo := db.NewOrganizationRepository(pool, logger)
	trialManager := billing.NewTrialManager(orgRepo, cfg.Trial.DefaultDays, logger)

	sweep := func() {
		expired, err := trialManager.ExpireTrials(ctx, time.Now())
		if err != nil {
			logger.Error("trial sweep failed", "error", err)
			return
		}
		logger.Info("trial sweep finished", "expired", expired)
	}

	if once {
		sweep()
		return nil
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Trial.SweepSchedule, sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", cfg.Trial.SweepSchedule, err)
	}
	scheduler.Start()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Let an in-flight sweep finish before exiting.
	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn("sweep still running at shutdown deadline")
	}

	logger.Info("trial sweeper stopped")
	return nil
}
