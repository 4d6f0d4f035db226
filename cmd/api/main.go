// Package main is the entry point for the medcase entitlement API server.
//
// It loads configuration, connects the Postgres pool, wires the plan
// transition engine, quota guard and AI service client into the HTTP
// handlers, and serves with graceful shutdown on SIGINT/SIGTERM.
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
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"medcase/internal/api/handlers"
	"medcase/internal/billing"
	"medcase/internal/config"
	"medcase/internal/core"
	"medcase/internal/db"
	"medcase/internal/entitlement"
	"medcase/internal/external"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("medcase entitlement API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	// Storage layer.
	ents := db.NewEntitlementRepo(pool)
	usage := db.NewUsageStore(pool, pool)
	planStore := db.NewPlanStore(pool)

	// Domain services.
	plans := billing.NewStaticPlanRegistry()
	guard := entitlement.NewGuard(ents, ledgerStore{usage}, usage, plans, logger)
	engine := entitlement.NewTransitionEngine(planStore, plans, logger)
	aiClient := external.NewAIServiceClient(cfg.AIService, logger)

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if cfg.Observability.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		srv.Metrics = core.NewCloudWatchMetrics(
			cloudwatch.NewFromConfig(awsCfg),
			cfg.Observability.MetricsNamespace,
			logger,
		)
	}

	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "database",
		Fn:        pool.Ping,
	})

	planHandler := handlers.NewPlanHandler(engine, plans, srv.Validator, logger)
	usageHandler := handlers.NewUsageHandler(guard, logger)
	caseHandler := handlers.NewCaseHandler(guard, aiClient, logger)

	srv.RouteRegistrars = append(srv.RouteRegistrars,
		planHandler.RegisterRoutes,
		usageHandler.RegisterRoutes,
		caseHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return serveHTTP(srv, cfg, logger)
}

// ledgerStore adapts the concrete *db.UsageStore to the guard's LedgerStore
// interface, which returns the transaction as an interface value.
type ledgerStore struct {
	store *db.UsageStore
}

func (s ledgerStore) BeginLedgerTx(ctx context.Context, userID string) (entitlement.LedgerTx, error) {
	return s.store.BeginLedgerTx(ctx, userID)
}

// serveHTTP runs the server with graceful shutdown.
func serveHTTP(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON slog.Logger at the configured level.
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
