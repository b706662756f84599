package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/citewise/citewise/internal/catalog"
	"github.com/citewise/citewise/internal/checkout"
	"github.com/citewise/citewise/internal/citation"
	"github.com/citewise/citewise/internal/config"
	"github.com/citewise/citewise/internal/database"
	"github.com/citewise/citewise/internal/fulfillment"
	"github.com/citewise/citewise/internal/letter"
	"github.com/citewise/citewise/internal/payment"
	"github.com/citewise/citewise/internal/ratelimit"
	"github.com/citewise/citewise/internal/store/postgres"
	"github.com/citewise/citewise/internal/web"
	"github.com/citewise/citewise/internal/web/handlers"
	"github.com/citewise/citewise/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Jurisdiction catalog. A malformed catalog must never serve traffic.
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		slog.Error("failed to load jurisdiction catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}
	slog.Info("jurisdiction catalog loaded", "path", cfg.CatalogPath, "cities", len(cat.Cities()))

	// Database
	db, err := postgres.NewDB(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Migrations
	if err := database.RunMigrations(migrations.FS, cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Stores
	intakeStore := postgres.NewIntakeStore(db)
	draftStore := postgres.NewDraftStore(db)
	paymentStore := postgres.NewPaymentStore(db)
	jobStore := postgres.NewFulfillmentJobStore(db)

	// Services
	resolver := citation.NewResolver(cat)
	provider := payment.NewHTTPProvider(cfg.PaymentBaseURL, cfg.PaymentSecretKey, cfg.ProviderTimeout)
	checkoutService := checkout.NewService(intakeStore, draftStore, paymentStore, provider, cat,
		cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)
	webhookService := payment.NewWebhookService(paymentStore, intakeStore, jobStore, cfg.FulfillMaxAttempts)

	returnAddr := catalog.Address{
		Name:  cfg.ReturnName,
		Line1: cfg.ReturnLine1,
		City:  cfg.ReturnCity,
		State: cfg.ReturnState,
		Zip:   cfg.ReturnZip,
	}
	sender := letter.NewHTTPSender(cfg.MailBaseURL, cfg.MailAPIKey, cfg.ProviderTimeout)
	dispatcher := letter.NewDispatcher(paymentStore, intakeStore, draftStore, sender, cat, returnAddr)
	manager := fulfillment.NewManager(paymentStore, jobStore, cfg.FulfillMaxAttempts)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	worker := fulfillment.NewWorker(jobStore, paymentStore, dispatcher, fulfillment.WorkerOptions{
		PollInterval:   cfg.WorkerPollInterval,
		RetryBaseDelay: cfg.WorkerRetryBase,
		MaxRetryDelay:  cfg.WorkerMaxRetryDelay,
	})
	go worker.Run(workerCtx)

	// Rate limiter
	limiter := ratelimit.NewLimiter(workerCtx, cfg.RateLimitRPS, cfg.RateLimitBurst)

	// Handlers
	resolveHandler := handlers.NewResolveHandler(resolver, cat, cfg.UrgencyThresholdDays)
	checkoutHandler := handlers.NewCheckoutHandler(checkoutService)
	webhookHandler := handlers.NewWebhookHandler(webhookService, cfg.PaymentWebhookSecret)
	adminHandler := handlers.NewAdminHandler(manager)

	// Router
	router := web.NewRouter(web.RouterDeps{
		ResolveHandler:  resolveHandler,
		CheckoutHandler: checkoutHandler,
		WebhookHandler:  webhookHandler,
		AdminHandler:    adminHandler,
		Limiter:         limiter,
		AdminAPIToken:   cfg.AdminAPIToken,
		DB:              db,
	})

	// Server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("appeald starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	stopWorker()
}
