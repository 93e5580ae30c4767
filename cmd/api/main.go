// Package main is the entry point for the Vitrine payments API server.
//
// It loads configuration, connects the Postgres pool, wires the provider
// clients and webhook pipeline with explicit constructor injection, builds
// the HTTP server with the core chassis (middleware, routing, health
// checks), and starts listening for requests.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
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

	"golang.org/x/sync/errgroup"

	"vitrine/internal/api/handlers"
	"vitrine/internal/config"
	"vitrine/internal/core"
	"vitrine/internal/db"
	"vitrine/internal/external"
	"vitrine/internal/notifications"
	"vitrine/internal/payment"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("vitrine API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	webhookRepo := db.NewWebhookEventRepo(pool, logger)
	orderRepo := db.NewOrderRepo(pool, logger)

	// Outbound clients share nothing but the http.Client; each gets its own
	// circuit breaker inside BaseClient.
	httpClient := &http.Client{Timeout: 30 * time.Second}

	emailClient := external.NewResendClient(httpClient, external.ResendClientConfig{
		APIKey:      cfg.Email.APIKey,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		BaseURL:     cfg.Email.APIBaseURL,
		Logger:      logger,
	})
	notifier := notifications.NewEmailTrigger(emailClient, logger)

	reconciler := payment.NewReconciler(orderRepo, logger)

	pagbankVerifier := external.NewPagBankVerifier(cfg.PagBank.WebhookSecret, logger)
	pagbankDispatcher := payment.NewDispatcher(webhookRepo, pagbankVerifier, reconciler, notifier, logger)
	pagbankHandler := handlers.NewPagBankWebhookHandler(pagbankDispatcher, logger)

	stripeHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		webhookRepo,
		reconciler,
		notifier,
		cfg.Stripe.WebhookSecret,
		logger,
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{db.NewProbe(pool)}

	pagbankHandler.RegisterRoutes(srv.Router())
	stripeHandler.RegisterRoutes(srv.Router())

	return serveHTTP(ctx, srv, cfg, logger)
}

// serveHTTP runs the HTTP server until the context is canceled by a shutdown
// signal, then drains in-flight requests within the configured timeout.
func serveHTTP(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		logger.Info("initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
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

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
