// Package main is the entry point for the recommendation API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pastach/recsvc/internal/api"
	"github.com/pastach/recsvc/internal/config"
	"github.com/pastach/recsvc/internal/content"
	"github.com/pastach/recsvc/internal/db"
	"github.com/pastach/recsvc/internal/health"
	"github.com/pastach/recsvc/internal/middleware"
	"github.com/pastach/recsvc/internal/preference"
	"github.com/pastach/recsvc/internal/ranking"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	if *help {
		fmt.Println("Recommendation API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	database, err := db.Open(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	prefMetrics := preference.NewMetrics()
	if err := prefMetrics.Register(registry); err != nil {
		logger.Error("failed to register preference metrics", "error", err)
		os.Exit(1)
	}
	rankMetrics := ranking.NewMetrics()
	if err := rankMetrics.Register(registry); err != nil {
		logger.Error("failed to register ranking metrics", "error", err)
		os.Exit(1)
	}

	contentStore := content.NewPostgresStore(database, logger)
	prefStore := preference.NewPostgresStore(database)
	prefCache := preference.NewBreakerCache(preference.NewRedisCache(redisClient))

	prefEngine := preference.NewEngine(prefStore, prefCache, contentStore, preference.EngineConfig{
		LikeWeight:    float32(cfg.LikeWeight),
		DislikeWeight: float32(cfg.DislikeWeight),
		Dimensions:    cfg.EmbeddingDimensions,
		CacheTTL:      cfg.PreferenceCacheTTL(),
	}, logger, prefMetrics)

	rankCfg := ranking.DefaultConfig()
	rankCfg.MinSimilarity = cfg.MinSimilarity
	if err := rankCfg.Validate(); err != nil {
		logger.Error("invalid ranking config", "error", err)
		os.Exit(1)
	}
	ranker := ranking.NewEngine(rankCfg, logger, rankMetrics)

	recHandlers := api.NewRecommendationHandlers(contentStore, prefEngine, ranker, cfg.TopN, logger)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:    health.NewDBChecker(database),
		CacheChecker: health.NewRedisChecker(redisClient),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/recommendations", recHandlers.Recommendations)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/health/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Apply middleware: RequestID -> Logging
	handler := middleware.RequestID(middleware.Logging(logger)(mux))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
