package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"menu-planner/internal/app"
	"menu-planner/internal/config"
	"menu-planner/internal/database"
	"menu-planner/internal/llm"
	"menu-planner/internal/logging"
	"menu-planner/internal/metrics"
	"menu-planner/internal/planlock"
	"menu-planner/internal/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	boot := zap.Must(zap.NewProduction())

	if err := config.LoadDotEnv(); err != nil {
		boot.Fatal("failed to load .env", zap.Error(err))
	}

	// 1. Load Configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		boot.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		boot.Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Infrastructure
	textGen, closeGen, err := llm.NewFromConfig(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create llm client", zap.String("provider", cfg.LLMProvider), zap.Error(err))
	}
	defer closeGen()

	db, err := database.NewDB(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	locker, closeLocker, err := planlock.New(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Fatal("failed to create plan lock", zap.Error(err))
	}
	defer closeLocker()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewSelectionCollector(registry)
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	// 3. Services
	application := app.NewApp(cfg, db.SQL, textGen, locker, collector, logger)

	bot, err := telegram.NewBot(cfg, application, logger)
	if err != nil {
		logger.Fatal("failed to initialize telegram bot", zap.Error(err))
	}

	go cleanupMetricsDaily(ctx, application, logger)

	// 4. Server with graceful shutdown
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           bot.Handler(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("telegram bot server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	bot.Wait()

	logger.Info("server exiting")
}

func cleanupMetricsDaily(ctx context.Context, a *app.App, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		if _, err := a.CleanupMetrics(ctx); err != nil {
			logger.Warn("metrics cleanup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
