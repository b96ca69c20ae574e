// Package main is the entry point for the Flightdeck API server.
//
// It loads configuration, connects to PostgreSQL, wires the billing domain
// services (catalog, limiter, trials, reconciler, cancellation, metrics)
// with the Stripe and SES clients, mounts the HTTP routes, and serves with
// graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"flightdeck/internal/api/handlers"
	"flightdeck/internal/billing"
	"flightdeck/internal/config"
	"flightdeck/internal/core"
	"flightdeck/internal/db"
	"flightdeck/internal/external"
	"flightdeck/internal/notifications/email"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("flightdeck API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Repositories.
	orgRepo := db.NewOrganizationRepository(pool, logger)
	memberRepo := db.NewMemberRepository(pool)
	usageDB := db.NewUsageDB(pool)
	feedbackRepo := db.NewFeedbackRepository(pool)
	authenticator := db.NewTokenAuthenticator(pool)

	// Plan catalog from the configured Stripe price IDs.
	catalog := billing.NewStaticCatalog(cfg.Billing.ProPriceID, cfg.Billing.EnterprisePriceID)

	// Outbound providers.
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: cfg.Billing.APITimeout},
		orgRepo,
		catalog,
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger,
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Email.AWSRegion))
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}
	sesClient := external.NewSESClient(awsCfg, logger)
	mailer := email.NewBillingMailer(sesClient, cfg.Email, logger)

	// Billing domain services.
	reconciler := billing.NewReconciler(orgRepo, catalog, mailer, logger)
	limiter := billing.NewLimiter(orgRepo, usageDB, catalog)
	trialManager := billing.NewTrialManager(orgRepo, cfg.Trial.DefaultDays, logger)
	cancellation := billing.NewCancellationWorkflow(stripeClient, orgRepo, memberRepo, feedbackRepo, logger)
	aggregator := billing.NewAggregator(orgRepo, catalog)

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.DB = pool
	srv.Authenticator = authenticator

	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		reconciler,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)
	billingHandler := handlers.NewBillingHandler(
		stripeClient,
		orgRepo,
		limiter,
		trialManager,
		cfg,
		srv.Validator,
		logger,
	)
	cancellationHandler := handlers.NewCancellationHandler(cancellation, srv.Validator, logger)
	metricsHandler := handlers.NewMetricsHandler(aggregator, feedbackRepo, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		webhookHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
		cancellationHandler.RegisterRoutes,
		func(r chi.Router) {
			metricsHandler.RegisterRoutes(r, srv.AdminKeyMiddleware)
		},
	)

	srv.MountRoutes()

	return serveHTTP(ctx, srv, cfg, logger)
}

// serveHTTP runs the HTTP server until the context is canceled by a signal,
// then shuts down gracefully within the configured timeout.
func serveHTTP(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger builds the process-wide JSON slog logger.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
