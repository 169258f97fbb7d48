// Package main is the entrypoint for the VisionBench API server.
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kiranshivaraju/visionbench/internal/ai"
	"github.com/kiranshivaraju/visionbench/internal/api"
	"github.com/kiranshivaraju/visionbench/internal/api/handler"
	mw "github.com/kiranshivaraju/visionbench/internal/api/middleware"
	"github.com/kiranshivaraju/visionbench/internal/cache"
	"github.com/kiranshivaraju/visionbench/internal/config"
	"github.com/kiranshivaraju/visionbench/internal/evaluation"
	"github.com/kiranshivaraju/visionbench/internal/imagestore"
	"github.com/kiranshivaraju/visionbench/internal/importer"
	"github.com/kiranshivaraju/visionbench/internal/pricing"
	"github.com/kiranshivaraju/visionbench/internal/store"
	"github.com/kiranshivaraju/visionbench/internal/telemetry"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

const shutdownTimeout = 30 * time.Second

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; production sets real environment variables
	_ = godotenv.Load()

	// 1. Load config; invalid config fails fast
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))
	slog.Info("config loaded", "env", cfg.Server.Env, "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Telemetry exporters (no-op without an OTLP endpoint)
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()
	runMetrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	// 3. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 4. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 5. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 6. Pricing catalog
	catalog, err := pricing.LoadCatalog(cfg.Pricing.CatalogPath)
	if err != nil {
		return fmt.Errorf("load pricing catalog: %w", err)
	}

	// 7. Services
	pgStore := store.NewPostgresStore(pool)
	svc := evaluation.NewService(evaluation.Deps{
		Store:     pgStore,
		Cache:     redisCache,
		Images:    imagestore.New(cfg.Images),
		Providers: providerFactory(cfg.AI),
		Catalog:   catalog,
		Metrics:   runMetrics,
	}, serviceOptions(cfg))
	runner := importer.NewRunner(pgStore, runMetrics)

	// 8. Build router with dependencies
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	router := newRouter(pgStore, redisCache, svc, runner, cfg.Server.RateLimitPerMinute, mw.NewMetrics(reg))

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	// Runs still in flight are marked failed before the pool closes.
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Warn("evaluation runs did not stop in time", "error", err)
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		slog.Warn("import jobs did not stop in time", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// routeStore is what the HTTP layer needs from the store.
type routeStore interface {
	handler.Pinger
	mw.KeyStore
	handler.KeyStore
}

func newRouter(st routeStore, c cache.Cache, svc handler.Evaluations, imports handler.Imports, ratePerMin int, metrics *mw.Metrics) http.Handler {
	evals := handler.NewEvaluationHandlers(svc)
	imp := handler.NewImportHandlers(imports)
	keys := handler.NewKeyHandlers(st)

	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(c, ratePerMin),
		Metrics:   metrics,

		HealthHandler: handler.Health(st, c),

		GetEvaluation:      evals.Get,
		EvaluationProgress: evals.Progress,
		EstimateEvaluation: evals.Estimate,
		StartEvaluation:    evals.Start,
		CancelEvaluation:   evals.Cancel,
		EvaluationResults:  evals.Results,

		CreateImport: imp.Create,
		GetImport:    imp.Get,

		CreateKeyHandler: keys.Create,
		ListKeysHandler:  keys.List,
		RevokeKeyHandler: keys.Revoke,
	})
}

func providerFactory(cfg config.AIConfig) evaluation.ProviderFactory {
	return func(mc *models.ModelConfig) (models.ModelProvider, error) {
		return ai.NewProvider(cfg, mc)
	}
}

func serviceOptions(cfg *config.Config) evaluation.Options {
	return evaluation.Options{
		DefaultConcurrency: cfg.Evaluation.DefaultConcurrency,
		Heuristic: pricing.Heuristic{
			CharsPerToken:        cfg.Evaluation.CharsPerToken,
			ExpectedOutputTokens: cfg.Evaluation.ExpectedOutputTokens,
		},
		Retry: ai.PolicyFromConfig(cfg.AI),
	}
}
